package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/escrow-api/internal/auth"
	"github.com/ksred/escrow-api/internal/database"
	"github.com/ksred/escrow-api/internal/escrow"
	"github.com/ksred/escrow-api/internal/ledger"
	"github.com/ksred/escrow-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the escrow API server with graceful shutdown support
// It sets up all required services, database connections, and API routes
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(string(middleware.JWTSecret()))
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials for both parties
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAPICredentials(auth.TestSupplierAPIKey, auth.TestSupplierAPISecret)

	escrowService := escrow.NewService(db)
	escrowHandlers := escrow.NewGinHandlers(escrowService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	// Create and start the deadline processor
	deadlineProcessor := escrow.NewProcessor(escrowService.GetDB())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go deadlineProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, escrowHandlers, ledgerHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication, one route per transition
// - Account routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order lifecycle routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", escrowHandlers.CreateOrderHandler())
			orders.GET("/:order_id", escrowHandlers.GetOrderHandler())
			orders.PATCH("/:order_id", escrowHandlers.UpdateOrderHandler())
			orders.POST("/:order_id/accept", escrowHandlers.AcceptOrderHandler())
			orders.POST("/:order_id/fulfill", escrowHandlers.FulfillOrderHandler())
			orders.POST("/:order_id/dispute", escrowHandlers.DisputeOrderHandler())
			orders.POST("/:order_id/resolve", escrowHandlers.ResolveDisputeHandler())
			orders.POST("/:order_id/release", escrowHandlers.ReleasePaymentHandler())
			orders.POST("/:order_id/funds", escrowHandlers.AddFundsHandler())
			orders.POST("/:order_id/cancel", escrowHandlers.CancelOrderHandler())
			orders.POST("/:order_id/refund", escrowHandlers.RequestRefundHandler())
			orders.POST("/:order_id/rating", escrowHandlers.RateSupplierHandler())
			orders.POST("/:order_id/deadline/extend", escrowHandlers.ExtendDeadlineHandler())
			orders.GET("/:order_id/receipts", escrowHandlers.GetReceiptsHandler())
			orders.GET("/:order_id/events", escrowHandlers.GetEventsHandler())
		}

		// Account routes
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth())
		{
			accounts.GET("/balance", ledgerHandlers.GetBalanceHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/accounts/:party_id/mint", ledgerHandlers.MintHandler())
		}
	}
}
