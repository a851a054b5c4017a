package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/chat/chattest"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/database/dbtest"
	"github.com/sunsreach/nerris/internal/handlers"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{AdminToken: "tok", JWTSecret: "secret", OwnerIDs: "owner"}

	db := dbtest.Open(t)
	st := store.New(db)
	reg := services.NewMeaningRegistry(st)
	require.NoError(t, reg.RegisterBuiltins(ctx))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	roles := services.NewRoleService(st, chattest.New(), reg, metrics.Nop{}, logger)

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg, "nerris")
	collector.VerificationStarted()

	app := fiber.New()
	Setup(app, cfg,
		handlers.NewHealthHandler(db, func() bool { return true }, nil, 0),
		handlers.NewAdminHandler(st, reg, roles),
		promReg,
		[]apps.Plugin{},
	)
	return app
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func bearer(t *testing.T, sub string) map[string]string {
	t.Helper()
	token, err := services.IssueAdminToken("secret", sub, time.Hour, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAdminAuth(t *testing.T) {
	app := newApp(t)

	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/api/admin/meanings", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/api/admin/meanings", map[string]string{"X-Admin-Token": "wrong"}).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, app, "/api/admin/meanings", map[string]string{"X-Admin-Token": "tok"}).StatusCode)

	assert.Equal(t, http.StatusOK, get(t, app, "/api/admin/meanings", bearer(t, "owner")).StatusCode)
	assert.Equal(t, http.StatusForbidden, get(t, app, "/api/admin/meanings", bearer(t, "stranger")).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/api/admin/meanings", map[string]string{"Authorization": "Bearer garbage"}).StatusCode)
}

func TestPublicRoutes(t *testing.T) {
	app := newApp(t)

	assert.Equal(t, http.StatusOK, get(t, app, "/api/health", nil).StatusCode)

	resp := get(t, app, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nerris_verifications_total")
}
