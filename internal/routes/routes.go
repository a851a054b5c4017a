package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/handlers"
	"github.com/sunsreach/nerris/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	adminHandler *handlers.AdminHandler,
	gatherer prometheus.Gatherer,
	plugins []apps.Plugin,
) {
	// Scraped by Prometheus; kept out of the API rate limit.
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Admin ops API (X-Admin-Token or owner JWT)
	admin := api.Group("/admin", middleware.AdminRequired(cfg))
	admin.Get("/meanings", adminHandler.ListMeanings)
	admin.Post("/meanings", adminHandler.RegisterMeaning)
	admin.Get("/guilds/:guild_id/bindings", adminHandler.GuildBindings)
	admin.Post("/users/:user_id/reconcile", adminHandler.ReconcileUser)

	for _, p := range plugins {
		if ap, ok := p.(apps.AdminPlugin); ok {
			ap.RegisterAdminRoutes(admin.Group("/" + ap.ID()))
		}
	}
}
