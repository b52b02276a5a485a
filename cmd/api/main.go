package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"coinflip-backend/internal/config"
	"coinflip-backend/internal/handlers"
	"coinflip-backend/internal/services"
	"coinflip-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer st.Close()

	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)

	hub := handlers.NewWebSocketHub()
	defer hub.Close()

	sinks := services.MultiBroadcaster{services.LogBroadcaster{}, hub}
	if cfg.DiscordEnabled() {
		discord, err := services.NewDiscordBroadcaster(cfg.DiscordToken, cfg.DiscordChannelID)
		if err != nil {
			log.Fatalf("Failed to set up Discord: %v", err)
		}
		sinks = append(sinks, discord)
		log.Printf("Announcing wagers to Discord channel %s", cfg.DiscordChannelID)
	}

	engine := services.NewSettlementEngine(st, services.EngineConfigFrom(cfg), sinks)

	go func() {
		ticker := time.NewTicker(cfg.StaleSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := engine.ExpireStaleWagers(ctx, cfg.StaleWagerAge)
				if err != nil {
					log.Printf("Stale wager sweep failed: %v", err)
				}
				if n > 0 {
					log.Printf("Expired %d stale wagers", n)
				}
			}
		}
	}()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handlers.RegisterRoutes(router, handlers.RouterDeps{
		Engine:     engine,
		JWTService: jwtService,
		Hub:        hub,
		DevRoutes:  cfg.Env != "production",
	})

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           cors.New(corsOptions).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (store: %s)", cfg.Port, cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}
