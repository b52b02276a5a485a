package handlers

import (
	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/middleware"
	"coinflip-backend/internal/services"
)

type RouterDeps struct {
	Engine     *services.SettlementEngine
	JWTService *services.JWTService
	Hub        *WebSocketHub
	// DevRoutes exposes token issuing and ledger deposits.
	DevRoutes bool
}

func RegisterRoutes(router gin.IRouter, deps RouterDeps) {
	wagerHandler := NewWagerHandler(deps.Engine)
	partyHandler := NewPartyHandler(deps.Engine, deps.JWTService)
	wsHandler := NewWebSocketHandler(deps.Hub)

	router.GET("/healthz", wagerHandler.Health)
	router.GET("/wagers/:id/audit", wagerHandler.AuditWager)
	router.POST("/verify", wagerHandler.Verify)

	if deps.DevRoutes {
		router.POST("/auth/dev", partyHandler.IssueToken)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(deps.JWTService))
	{
		protected.GET("/me", partyHandler.GetCurrentParty)
		protected.GET("/me/wagers", wagerHandler.ListMyWagers)
		if deps.DevRoutes {
			protected.POST("/me/deposit", partyHandler.Deposit)
		}

		protected.GET("/ws", wsHandler.HandleWebSocket)

		wagers := protected.Group("/wagers")
		{
			wagers.POST("", wagerHandler.CreateWager)
			wagers.GET("", wagerHandler.ListOpenWagers)
			wagers.GET("/:id", wagerHandler.GetWager)
			wagers.POST("/:id/join", wagerHandler.JoinWager)
			wagers.POST("/:id/cancel", wagerHandler.CancelWager)
		}
	}
}
