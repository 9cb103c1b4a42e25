package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/peoplecore/backend/internal/application/services"
	"github.com/peoplecore/backend/internal/bootstrap"
	"github.com/peoplecore/backend/internal/infrastructure/database"
	"github.com/peoplecore/backend/internal/infrastructure/directory"
	"github.com/peoplecore/backend/internal/infrastructure/persistence"
	"github.com/peoplecore/backend/internal/interfaces/middleware"
	"github.com/peoplecore/backend/internal/interfaces/rest"
	"github.com/peoplecore/backend/pkg/constants"
	"github.com/peoplecore/backend/pkg/expression"
)

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		log.Println("📄 Loaded .env configuration")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	// Initialize database connection
	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	if err := bootstrap.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Wire infrastructure
	ruleRepo := persistence.NewRuleRepository(db.DB())
	instanceRepo := persistence.NewInstanceRepository(db.DB())
	txManager := persistence.NewTransactionManager(db.DB())
	orgDirectory := directory.NewSQLDirectory(db.DB())

	// Wire services
	exprEngine := expression.NewEngine()
	eventBus := services.NewEventBus()
	outbox := services.NewOutboxService(db, eventBus)
	ruleSvc := services.NewRuleService(ruleRepo, exprEngine, txManager)
	resolver := services.NewResolverService(orgDirectory)
	workflowSvc := services.NewWorkflowService(ruleSvc, instanceRepo, resolver, exprEngine, outbox, txManager)

	sweeper, err := services.NewSweeperService(instanceRepo, workflowSvc, sweepInterval(), os.Getenv("SWEEP_SCHEDULE"))
	if err != nil {
		log.Fatalf("Failed to configure sweeper: %v", err)
	}
	log.Println("🔧 Services initialized")

	// Create Gin router
	router := gin.Default()
	router.Use(middleware.Cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	// Initialize handlers and middleware
	workflowHandler := rest.NewWorkflowHandler(workflowSvc)
	ruleHandler := rest.NewRuleHandler(ruleSvc)
	requireAuth := middleware.RequireAuth()
	requireAdmin := middleware.RequireAdmin()

	// API routes
	api := router.Group("/api")
	{
		workflows := api.Group("/workflows")
		workflows.Use(requireAuth)
		{
			workflows.GET("/pending", workflowHandler.GetPending)
			workflows.GET("/history/:entityType/:entityId", workflowHandler.GetHistory)

			workflows.POST("/instances/:instanceId/decide", workflowHandler.Decide)
			workflows.POST("/instances/:instanceId/cancel", workflowHandler.Cancel)
			workflows.GET("/instances/:instanceId", workflowHandler.GetStatus)

			// Rule administration (admin only)
			workflows.GET("/rules", requireAdmin, ruleHandler.List)
			workflows.POST("/rules", requireAdmin, ruleHandler.Create)
			workflows.GET("/rules/:ruleId", requireAdmin, ruleHandler.Get)
			workflows.PUT("/rules/:ruleId", requireAdmin, ruleHandler.Update)
			workflows.DELETE("/rules/:ruleId", requireAdmin, ruleHandler.Deactivate)

			// Submission last: the param route must not shadow the fixed ones
			workflows.POST("/:processType/instances", workflowHandler.Submit)
		}
	}

	// Start background workers
	outbox.StartWorker(time.Duration(constants.OutboxPollIntervalMillis) * time.Millisecond)
	sweeper.Start()

	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 PeopleCore Workflow Engine Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", port)
	log.Printf("📋 Workflow API:   http://localhost:%s/api/workflows", port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", port)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background workers before closing the listener
	sweeper.Stop()
	outbox.StopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}

func sweepInterval() time.Duration {
	if raw := os.Getenv("SWEEP_INTERVAL_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		log.Printf("⚠️ Invalid SWEEP_INTERVAL_SECONDS %q, using default", raw)
	}
	return time.Duration(constants.SweepIntervalSecondsDefault) * time.Second
}
