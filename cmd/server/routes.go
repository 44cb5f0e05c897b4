package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"labstock-system/config"
	"labstock-system/internal/database"
	"labstock-system/internal/gateway/handlers"
	"labstock-system/internal/gateway/middleware"
	"labstock-system/internal/services/allocation"
	"labstock-system/internal/services/ledger"
	"labstock-system/internal/services/reconcile"
	"labstock-system/internal/services/suggestion"
	"labstock-system/internal/services/withdrawal"
	"labstock-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetSecret(cfg.Server.JWTSecret)

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)

	stockLedger := ledger.NewStockLedger(db)
	tracker := allocation.NewAllocationTracker(db)
	suggestionEngine := suggestion.NewEngine(db, redisClient, int64(cfg.Planning.HorizonWeeks))
	reconciler := reconcile.NewDocumentReconciler(db, stockLedger, suggestionEngine)
	coordinator := withdrawal.NewCoordinator(db, tracker)

	replenishmentHandler := handlers.NewReplenishmentHandler(suggestionEngine)
	deliveryHandler := handlers.NewDeliveryHandler(reconciler)
	withdrawalHandler := handlers.NewWithdrawalHandler(db, coordinator)
	stockHandler := handlers.NewStockHandler(db, stockLedger, cfg.Planning.ExpiryHorizonDays)
	authHandler := handlers.NewAuthHandler()

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/token", authHandler.IssueToken)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		replenishment := protected.Group("/replenishment")
		{
			replenishment.GET("/suggestions", replenishmentHandler.ListSuggestions)
		}

		deliveries := protected.Group("/deliveries")
		{
			deliveries.POST("", deliveryHandler.CreateDelivery)
			deliveries.POST("/:id/receive", deliveryHandler.ReceiveDelivery)
		}

		withdrawals := protected.Group("/withdrawals")
		{
			withdrawals.POST("", withdrawalHandler.CreateWithdrawal)
			withdrawals.GET("/:id", withdrawalHandler.GetWithdrawal)
		}

		stock := protected.Group("/stock")
		{
			stock.GET("/:reagent_id", stockHandler.GetStock)
			stock.POST("/consume", stockHandler.ConsumeStock)
		}

		protected.GET("/transactions", stockHandler.ListTransactions)
		protected.GET("/reagents", stockHandler.ListReagents)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	})

	port := ":" + cfg.Server.Port
	log.Printf("Starting server on port %s", port)
	if err := r.Run(port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
