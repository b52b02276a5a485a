package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/middleware"
	"coinflip-backend/internal/models"
	"coinflip-backend/internal/services"
)

type PartyHandler struct {
	engine     *services.SettlementEngine
	jwtService *services.JWTService
}

func NewPartyHandler(engine *services.SettlementEngine, jwtService *services.JWTService) *PartyHandler {
	return &PartyHandler{
		engine:     engine,
		jwtService: jwtService,
	}
}

func (h *PartyHandler) GetCurrentParty(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	partyID := id.PartyID

	items, err := h.engine.Holdings(c.Request.Context(), partyID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"party_id":   partyID,
		"session_id": id.SessionID,
		"holdings": gin.H{
			"items": items,
			"count": len(items),
			"value": models.TotalValue(items),
		},
	})
}

// Deposit and IssueToken are only routed outside production. Real item
// inflow and identity belong to external systems.
func (h *PartyHandler) Deposit(c *gin.Context) {
	partyID := middleware.PartyID(c)

	var req struct {
		Items []models.Item `json:"items" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.engine.Deposit(c.Request.Context(), partyID, req.Items); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"deposited": len(req.Items),
	})
}

func (h *PartyHandler) IssueToken(c *gin.Context) {
	var req struct {
		PartyID string `json:"party_id" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := models.ValidatePartyID(req.PartyID); err != nil {
		respondError(c, err)
		return
	}

	token, err := h.jwtService.GenerateToken(req.PartyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"party_id": req.PartyID,
	})
}
