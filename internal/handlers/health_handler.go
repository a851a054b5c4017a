package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sunsreach/nerris/internal/database"
	"github.com/sunsreach/nerris/internal/dto"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db        *gorm.DB
	connected func() bool
	pending   func() int
	plugins   int
}

// NewHealthHandler reports on db, the gateway state given by connected and
// the handshake backlog given by pending. Either func may be nil.
func NewHealthHandler(db *gorm.DB, connected func() bool, pending func() int, plugins int) *HealthHandler {
	return &HealthHandler{db: db, connected: connected, pending: pending, plugins: plugins}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"
	if err := database.Ping(h.db); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		status = "degraded"
	}

	discord := "connected"
	if h.connected == nil || !h.connected() {
		discord = "disconnected"
		status = "degraded"
	}

	pending := 0
	if h.pending != nil {
		pending = h.pending()
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(dto.HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DB:          dbStatus,
		Discord:     discord,
		Pending:     pending,
		PluginCount: h.plugins,
	})
}
