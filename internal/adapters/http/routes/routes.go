package routes

import (
	"time"

	"keycabinet/internal/adapters/http/handlers"
	"keycabinet/internal/adapters/http/middleware"
	"keycabinet/internal/config"
	"keycabinet/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// Setup configures all routes for the application
func Setup(app *fiber.App, c *services.Container, cfg *config.Config) {
	now := func() time.Time { return time.Now().UTC() }

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.AppMode)
	kioskHandler := handlers.NewKioskHandler(c.Lending, now)
	adminHandler := handlers.NewAdminHandler(c.Penalties, c.Reservations, c.Standing, c.Admin, now)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API v1 group
	apiV1 := app.Group("/api/v1")
	apiV1.Get("/", healthHandler.APIInfo)

	// Kiosk routes (device credentials)
	kioskRoutes := apiV1.Group("/kiosk")
	kioskRoutes.Use(middleware.NoCacheHeaders())
	kioskRoutes.Use(middleware.KioskAuth(c.Kiosks))
	setupKioskRoutes(kioskRoutes, kioskHandler)

	// Admin routes (Staff/Admin)
	adminRoutes := apiV1.Group("/admin")
	adminRoutes.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	adminRoutes.Use(middleware.StaffOrAdmin())
	setupAdminRoutes(adminRoutes, adminHandler)
}

// setupKioskRoutes configures kiosk routes
func setupKioskRoutes(router fiber.Router, handler *handlers.KioskHandler) {
	router.Get("/rooms", handler.ListRooms)    // ห้องที่มีกุญแจว่าง
	router.Post("/identify", handler.Identify) // สแกนบัตร
	router.Post("/borrow", handler.Borrow)     // ยืมกุญแจ
	router.Post("/return", handler.Return)     // คืนกุญแจ
	router.Post("/transfer", handler.Transfer) // โอนกุญแจให้คนอื่น
	router.Post("/swap", handler.Swap)         // สลับกุญแจ
	router.Post("/move", handler.Move)         // ย้ายห้องที่จอง
}

// setupAdminRoutes configures staff routes
func setupAdminRoutes(router fiber.Router, handler *handlers.AdminHandler) {
	// Penalty configs
	router.Get("/penalty-configs", handler.ListPenaltyConfigs)
	router.Get("/penalty-configs/active", handler.GetActivePenaltyConfig)
	router.Post("/penalty-configs", middleware.AdminOnly(), handler.CreatePenaltyConfig)
	router.Post("/penalty-configs/:id/activate", middleware.AdminOnly(), handler.ActivatePenaltyConfig)

	// Reservations & bookings
	router.Post("/reservations/materialize", middleware.StrictRateLimiter(), handler.Materialize)
	router.Get("/bookings", handler.ListBookings)
	router.Get("/bookings/overdue", handler.OverdueReport)
	router.Get("/audit", handler.ListAudit)

	// Users & standing
	router.Get("/users", handler.ListUsers)
	router.Get("/users/:id/penalties", handler.PenaltyHistory)
	router.Post("/users/:id/ban", handler.Ban)
	router.Post("/users/:id/unban", handler.Unban)
	router.Post("/users/:id/penalty", handler.ManualPenalty)
	router.Post("/standing/restore", middleware.AdminOnly(), handler.RunRestore)

	// Access overrides
	router.Get("/overrides", handler.ListOverrides)
	router.Post("/overrides", handler.GrantOverride)
	router.Delete("/overrides/:id", handler.RevokeOverride)
}
