package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/bot"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/database"
	"github.com/sunsreach/nerris/internal/handlers"
	"github.com/sunsreach/nerris/internal/logging"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/middleware"
	"github.com/sunsreach/nerris/internal/nationstates"
	"github.com/sunsreach/nerris/internal/persona"
	"github.com/sunsreach/nerris/internal/routes"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

func newServeCommand(p persona.Persona) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot and the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), p)
		},
	}
}

// pendingCounter is implemented by plugins holding open handshakes.
type pendingCounter interface {
	PendingCount() int
}

func serve(ctx context.Context, p persona.Persona) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plugins := Plugins()
	cfg, db, err := openDatabase(plugins)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("database close error", "error", err)
		}
	}()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	defer pgLogHandler.Stop()
	logger := slog.New(logging.NewMultiHandler(logging.NewJSONHandler(os.Stdout), pgLogHandler)).
		With("bot", p.Product)
	slog.SetDefault(logger)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
			Release:          p.Product + "@" + p.Version,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	st := store.New(db)
	registry := services.NewMeaningRegistry(st)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("failed to load role meanings: %w", err)
	}
	if err := registry.RegisterBuiltins(ctx); err != nil {
		return fmt.Errorf("failed to register built-in meanings: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg, p.Namespace())

	nations := nationstates.NewClient(nationstates.Options{
		Endpoint:   cfg.NSAPIURL,
		VerifyURL:  cfg.NSVerifyURL,
		UserAgent:  nationstates.UserAgent(p.Product, p.Version, cfg.ContactInfo, cfg.Nation, cfg.Region),
		RateLimit:  cfg.NSRateLimit,
		HTTPClient: &http.Client{Timeout: cfg.NSTimeout},
		Logger:     logger,
		Observer:   collector,
	})

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	platform := chat.NewDiscord(session)
	roles := services.NewRoleService(st, platform, registry, collector, logger)
	router := commands.NewRouter(cfg.Owners(), collector, logger)
	discord := bot.New(session, router, st, logger)

	core := handlers.NewCoreHandler(p, discord)
	if err := router.Register(core.Commands()...); err != nil {
		return err
	}

	deps := apps.Deps{
		DB:       db,
		Config:   cfg,
		Persona:  p,
		Store:    st,
		Meanings: registry,
		Roles:    roles,
		Nations:  nations,
		Chat:     platform,
		Metrics:  collector,
		Logger:   logger,
	}
	for _, plugin := range plugins {
		if err := plugin.RegisterCommands(router, deps); err != nil {
			return fmt.Errorf("plugin %s: %w", plugin.ID(), err)
		}
		if c, ok := plugin.(apps.Closer); ok {
			defer c.Close()
		}
	}

	pending := func() int {
		total := 0
		for _, plugin := range plugins {
			if pc, ok := plugin.(pendingCounter); ok {
				total += pc.PendingCount()
			}
		}
		return total
	}
	app := newServer(cfg)
	routes.Setup(app, cfg,
		handlers.NewHealthHandler(db, discord.Connected, pending, len(plugins)),
		handlers.NewAdminHandler(st, registry, roles),
		promReg,
		plugins,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discord.Run(gctx)
	})
	g.Go(func() error {
		logging.RunCleanup(gctx, db, cfg.LogRetentionDays)
		return nil
	})
	g.Go(func() error {
		slog.Info("ops server starting", "port", cfg.Port)
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	err = g.Wait()
	slog.Info("stopped")
	return err
}

func newServer(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             1024 * 1024,
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})
	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
