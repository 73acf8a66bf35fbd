package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waste-ops-service/config"
	"waste-ops-service/database"
	"waste-ops-service/handlers"
	"waste-ops-service/middleware"
	"waste-ops-service/models"
	"waste-ops-service/rabbitmq"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	if cfg.LogLevel == "debug" {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Event publishing is optional; the service runs without a broker.
	var publisher *rabbitmq.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, rabbitmq.RouteReportSubmitted)
		if err != nil {
			log.Errorf("Failed to create publisher, events disabled: %v", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	h := handlers.NewHandlers(db, cfg, publisher)
	router := setupRouter(h, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.Default()

	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", h.HealthCheck)

	secret := []byte(cfg.JWTSecret)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(secret))
	{
		// Any authenticated user
		api.POST("/users", h.UpdateUser)
		api.GET("/users/me", h.GetProfile)
		api.POST("/users/login", h.DailyLogin)
		api.POST("/users/referral", h.RegisterReferral)

		api.POST("/reports", h.SubmitReport)
		api.GET("/reports/:seq", h.GetReport)
		api.GET("/reports", h.ListMyReports)

		api.GET("/rewards/catalog", h.GetRewardCatalog)
		api.POST("/rewards/redeem", h.RedeemReward)
		api.GET("/rewards/ledger", h.GetLedger)
		api.GET("/rewards/leaderboard", h.GetLeaderboard)

		api.GET("/nearby/reports", h.NearbyReports)
		api.GET("/nearby/reports.geojson", h.NearbyReportsGeoJSON)
		api.GET("/nearby/tasks", h.NearbyTasks)
	}

	agent := api.Group("/agent")
	agent.Use(middleware.RequireFieldWork())
	{
		agent.POST("/location", h.UpdateLocation)
		agent.POST("/reports/:seq/start", h.StartWork)
		agent.POST("/reports/:seq/complete", h.CompleteWork)

		agent.GET("/tasks", h.ListMyTasks)
		agent.GET("/tasks/:id", h.GetTask)
		agent.POST("/tasks/:id/start", h.StartTask)
		agent.POST("/tasks/:id/complete", h.CompleteTask)
		agent.POST("/tasks/:id/instructions", h.UpdateInstructionStep)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users/:user_id", h.GetUser)
		admin.GET("/agents/:agent_id/reports", h.ListAgentReports)
		admin.GET("/nearby/agents", h.NearbyAgents)

		admin.POST("/reports/:seq/assign", h.AssignReport)
		admin.POST("/bulk-assign", h.BulkAssign)
		admin.POST("/reports/:seq/reject", h.RejectReport)
		admin.POST("/reports/:seq/validate", h.ValidateReport)
		admin.DELETE("/reports/:seq", h.DeleteReport)

		admin.POST("/tasks", h.CreateTask)
		admin.POST("/tasks/:id/cancel", h.CancelTask)
		admin.POST("/tasks/:id/verify", h.VerifyTask)

		admin.POST("/rewards/adjust", h.AdminAdjustment)
		admin.POST("/rewards/reconcile/:user_id", h.ReconcilePoints)
		admin.POST("/rewards/ledger/:entry_id/invalidate", h.InvalidateLedgerEntry)
	}

	return router
}
