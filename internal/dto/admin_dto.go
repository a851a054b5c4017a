package dto

import (
	"time"

	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	DB          string `json:"db"`
	Discord     string `json:"discord"`
	Pending     int    `json:"pending_verifications"`
	PluginCount int    `json:"plugin_count"`
}

type RegisterMeaningRequest struct {
	Meaning       string `json:"meaning"`
	SuppressError bool   `json:"suppress_error"`
}

type MeaningResponse struct {
	ID      uuid.UUID `json:"id"`
	Meaning string    `json:"meaning"`
}

type BindingResponse struct {
	ID        uuid.UUID `json:"id"`
	Meaning   string    `json:"meaning"`
	RoleID    string    `json:"role_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GuildBindingsResponse struct {
	GuildID  string            `json:"guild_id"`
	Regions  []string          `json:"regions"`
	Bindings []BindingResponse `json:"bindings"`
}

type ReconcileResponse struct {
	UserID  string   `json:"user_id"`
	Nations []string `json:"nations"`
	Status  string   `json:"status"`
}
