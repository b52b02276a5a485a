package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/middleware"
	"coinflip-backend/internal/models"
	"coinflip-backend/internal/services"
	"coinflip-backend/internal/store"
)

type WagerHandler struct {
	engine *services.SettlementEngine
}

func NewWagerHandler(engine *services.SettlementEngine) *WagerHandler {
	return &WagerHandler{engine: engine}
}

func (h *WagerHandler) CreateWager(c *gin.Context) {
	partyID := middleware.PartyID(c)

	var req models.CreateWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	wager, err := h.engine.CreateWager(c.Request.Context(), partyID, req.Items, req.Side)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"wager":   wager,
	})
}

func (h *WagerHandler) JoinWager(c *gin.Context) {
	partyID := middleware.PartyID(c)

	var req models.JoinWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.engine.JoinWager(c.Request.Context(), c.Param("id"), partyID, req.Items, req.ClientSeed)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

func (h *WagerHandler) CancelWager(c *gin.Context) {
	partyID := middleware.PartyID(c)

	wager, err := h.engine.CancelWager(c.Request.Context(), c.Param("id"), partyID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wager":   wager,
	})
}

func (h *WagerHandler) ListOpenWagers(c *gin.Context) {
	wagers, err := h.engine.ListOpenWagers(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wagers":  wagers,
		"count":   len(wagers),
	})
}

func (h *WagerHandler) ListMyWagers(c *gin.Context) {
	partyID := middleware.PartyID(c)

	wagers, err := h.engine.ListPartyWagers(c.Request.Context(), partyID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wagers":  wagers,
		"count":   len(wagers),
	})
}

func (h *WagerHandler) GetWager(c *gin.Context) {
	wager, err := h.engine.GetWager(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wager":   wager,
	})
}

// AuditWager is public: anyone may check a settled wager's proof.
func (h *WagerHandler) AuditWager(c *gin.Context) {
	record, err := h.engine.AuditWager(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"audit":   record,
	})
}

func (h *WagerHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"verification": services.VerifyProof(req),
	})
}

func (h *WagerHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(store.DefaultListLimit)))
	if err != nil || limit <= 0 || limit > store.MaxListLimit {
		return store.DefaultListLimit
	}
	return limit
}
