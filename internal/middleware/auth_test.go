package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/models"
	"coinflip-backend/internal/services"
)

func newAuthRouter(jwtService *services.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(jwtService))
	r.GET("/whoami", func(c *gin.Context) {
		id := CurrentIdentity(c)
		if id.SessionID == "" {
			c.String(http.StatusInternalServerError, "no session")
			return
		}
		c.String(http.StatusOK, PartyID(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := services.NewJWTService("secret", time.Hour)
	token, err := jwtService.GenerateToken("alice")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	escrowToken, err := jwtService.GenerateToken(models.EscrowPartyID("w1"))
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	r := newAuthRouter(jwtService)

	tests := []struct {
		name   string
		url    string
		header string
		status int
		body   string
	}{
		{"bearer", "/whoami", "Bearer " + token, http.StatusOK, "alice"},
		{"query token", "/whoami?token=" + token, "", http.StatusOK, "alice"},
		{"missing", "/whoami", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/whoami", "Basic " + token, http.StatusUnauthorized, ""},
		{"empty bearer", "/whoami", "Bearer ", http.StatusUnauthorized, ""},
		{"garbage", "/whoami", "Bearer not-a-token", http.StatusUnauthorized, ""},
		{"escrow account", "/whoami", "Bearer " + escrowToken, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.url, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, w.Code)
		}
		if tt.body != "" && w.Body.String() != tt.body {
			t.Errorf("%s: expected body %q, got %q", tt.name, tt.body, w.Body.String())
		}
	}
}

func TestCurrentIdentityWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if id := CurrentIdentity(c); id != (Identity{}) {
		t.Errorf("Expected zero identity, got %+v", id)
	}
	if PartyID(c) != "" {
		t.Error("Expected empty party id")
	}
}
