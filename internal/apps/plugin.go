package apps

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/nationstates"
	"github.com/sunsreach/nerris/internal/persona"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
	"gorm.io/gorm"
)

// Deps is everything a plugin may wire its commands to.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Persona  persona.Persona
	Store    *store.Store
	Meanings *services.MeaningRegistry
	Roles    *services.RoleService
	Nations  nationstates.API
	Chat     chat.Platform
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Plugin defines the interface every bot extension must implement.
type Plugin interface {
	// ID returns the unique plugin identifier.
	ID() string

	// Models returns the list of GORM model pointers for AutoMigrate.
	Models() []interface{}

	// RegisterCommands adds the plugin's slash commands and DM handlers.
	RegisterCommands(router *commands.Router, deps Deps) error
}

// AdminPlugin extends Plugin with admin-specific route registration.
type AdminPlugin interface {
	Plugin

	// RegisterAdminRoutes mounts admin-only routes on the given Fiber group.
	// The group already has the admin middleware applied.
	RegisterAdminRoutes(router fiber.Router)
}

// Closer is implemented by plugins holding timers or goroutines.
type Closer interface {
	Close()
}
