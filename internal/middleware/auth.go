package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/models"
	"coinflip-backend/internal/services"
)

const identityKey = "coinflip.identity"

// Identity is the authenticated party behind a request.
type Identity struct {
	PartyID   string
	SessionID string
}

var (
	errMissingToken = errors.New("authorization header required")
	errBadScheme    = errors.New("invalid authorization format")
)

// AuthMiddleware accepts a Bearer header or, for WebSocket upgrades that
// cannot set headers, a token query parameter.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil || models.ValidatePartyID(claims.PartyID) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(identityKey, Identity{PartyID: claims.PartyID, SessionID: claims.SessionID})
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// CurrentIdentity returns the identity set by AuthMiddleware. The zero value
// is returned on routes the middleware does not guard.
func CurrentIdentity(c *gin.Context) Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}
	}
	id, _ := v.(Identity)
	return id
}

// PartyID is shorthand for CurrentIdentity(c).PartyID.
func PartyID(c *gin.Context) string {
	return CurrentIdentity(c).PartyID
}
