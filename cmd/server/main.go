package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // LENDING_TIMEZONE on hosts without zoneinfo

	"keycabinet/internal/adapters/http/middleware"
	"keycabinet/internal/adapters/http/routes"
	"keycabinet/internal/adapters/messaging"
	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/config"
	"keycabinet/internal/core/services"
	"keycabinet/internal/i18n"
	"keycabinet/internal/pkg/obs"

	"github.com/gofiber/fiber/v2"

	_ "keycabinet/docs" // Swagger docs
)

// @title Key Cabinet API
// @version 1.0
// @description ระบบยืม-คืนกุญแจห้องเรียน Key Cabinet v1.0 API

// @contact.name API Support

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	i18n.Init(cfg.Lending.Language)

	// Tracing (no-op without an endpoint)
	shutdownTracer := obs.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint, cfg.AppMode)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	// Connect to database
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer config.CloseDatabase()

	// Auto migrate (creates tables if not exist)
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Failed to auto migrate: %v", err)
	}
	log.Println("✅ Database migration completed")

	// Seed penalty config + bootstrap kiosk
	if err := config.NewSeeder(db, cfg).Run(); err != nil {
		log.Printf("⚠️ Warning: Failed to run seeders: %v", err)
	}

	// Demo registry (dev only)
	if cfg.IsDev() {
		if err := config.SeedMasterData(db); err != nil {
			log.Printf("⚠️ Warning: Failed to seed master data: %v", err)
		}
	}

	// Event publisher (RabbitMQ optional)
	var events services.EventPublisher = services.NopPublisher{}
	if cfg.Messaging.AMQPURL != "" {
		pub, err := messaging.NewPublisher(cfg.Messaging.AMQPURL, cfg.Messaging.Exchange)
		if err != nil {
			log.Printf("⚠️ Event publisher disabled: %v", err)
		} else {
			events = pub
			defer pub.Close()
		}
	} else {
		log.Println("⚠️ AMQP_URL not set, lending events are not published")
	}

	container := services.NewContainer(db, cfg, events)

	// Start Cron Service (materialize / overdue / restore)
	if err := container.Cron.Start(); err != nil {
		log.Fatalf("❌ Failed to start cron: %v", err)
	}
	defer container.Cron.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Key Cabinet API v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Setup middlewares
	middleware.Setup(app, cfg)

	// Setup routes
	routes.Setup(app, container, cfg)

	// Graceful shutdown
	go gracefulShutdown(app)

	// Start server
	log.Printf("🚀 Server starting on port %s [MODE: %s]", cfg.Port, cfg.AppMode)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// gracefulShutdown handles graceful shutdown
func gracefulShutdown(app *fiber.App) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("❌ Error during shutdown: %v", err)
	}
	log.Println("✅ Server stopped gracefully")
}
