package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/sunsreach/nerris/internal/dto"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

// AdminHandler serves the ops API over the meaning registry, guild bindings
// and user reconciliation.
type AdminHandler struct {
	store    *store.Store
	meanings *services.MeaningRegistry
	roles    *services.RoleService
}

func NewAdminHandler(st *store.Store, meanings *services.MeaningRegistry, roles *services.RoleService) *AdminHandler {
	return &AdminHandler{store: st, meanings: meanings, roles: roles}
}

func (h *AdminHandler) ListMeanings(c *fiber.Ctx) error {
	names := h.meanings.Meanings()
	out := make([]dto.MeaningResponse, 0, len(names))
	for _, name := range names {
		id, _ := h.meanings.ID(name)
		out = append(out, dto.MeaningResponse{ID: id, Meaning: name})
	}
	return c.JSON(fiber.Map{"meanings": out})
}

func (h *AdminHandler) RegisterMeaning(c *fiber.Ctx) error {
	var req dto.RegisterMeaningRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "invalid request body",
		})
	}

	id, err := h.meanings.Register(c.UserContext(), req.Meaning, req.SuppressError)
	if err != nil {
		var registered *models.MeaningRegisteredError
		if errors.As(err, &registered) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		if errors.Is(err, models.ErrInvalidMeaning) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return err
	}

	slog.Info("role meaning registered", "meaning", req.Meaning, "request_id", c.Locals("requestid"))
	return c.Status(fiber.StatusCreated).JSON(dto.MeaningResponse{
		ID:      id,
		Meaning: services.NormalizeMeaning(req.Meaning),
	})
}

func (h *AdminHandler) GuildBindings(c *fiber.Ctx) error {
	ctx := c.UserContext()
	guild, err := h.store.GetGuild(ctx, c.Params("guild_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "guild not registered",
			})
		}
		return err
	}

	regions, err := h.store.GuildRegions(ctx, guild)
	if err != nil {
		return err
	}
	bindings, err := h.store.GuildRoles(ctx, guild)
	if err != nil {
		return err
	}

	resp := dto.GuildBindingsResponse{
		GuildID:  guild.Snowflake,
		Regions:  make([]string, 0, len(regions)),
		Bindings: make([]dto.BindingResponse, 0, len(bindings)),
	}
	for _, r := range regions {
		resp.Regions = append(resp.Regions, r.Name)
	}
	for _, b := range bindings {
		resp.Bindings = append(resp.Bindings, dto.BindingResponse{
			ID:        b.ID,
			Meaning:   b.RoleMeaning.Meaning,
			RoleID:    b.Snowflake,
			UpdatedAt: b.UpdatedAt,
		})
	}
	return c.JSON(resp)
}

func (h *AdminHandler) ReconcileUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := c.Params("user_id")

	nations, err := h.store.UserNations(ctx, userID)
	if err != nil {
		return err
	}
	if err := h.roles.Reconcile(ctx, userID); err != nil {
		slog.Error("admin reconcile failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "reconcile failed: " + err.Error(),
		})
	}

	resp := dto.ReconcileResponse{UserID: userID, Nations: make([]string, 0, len(nations)), Status: "reconciled"}
	for _, n := range nations {
		resp.Nations = append(resp.Nations, n.Name)
	}
	return c.JSON(resp)
}
