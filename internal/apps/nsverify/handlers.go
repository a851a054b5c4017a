package nsverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/nationstates"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

// NationSource is the NationStates surface the commands use.
type NationSource interface {
	NationFetcher
	GetRegion(ctx context.Context, name string) (*nationstates.Region, error)
}

// Handler implements the verification and role-binding commands.
type Handler struct {
	verifier  *Verifier
	store     *store.Store
	roles     *services.RoleService
	nations   NationSource
	messenger chat.Messenger
	logger    *slog.Logger
}

func NewHandler(verifier *Verifier, st *store.Store, roles *services.RoleService, nations NationSource, messenger chat.Messenger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:  verifier,
		store:     st,
		roles:     roles,
		nations:   nations,
		messenger: messenger,
		logger:    logger,
	}
}

type replyFunc func(ctx context.Context, content string) error

// VerifyNation handles /verify_nation. Without a code it starts the
// handshake; with one it submits the code.
func (h *Handler) VerifyNation(ctx context.Context, inv *commands.Invocation) error {
	if code := inv.String("code"); code != "" {
		return h.confirm(ctx, inv.User, code, inv.Reply)
	}

	name := inv.String("nation")
	_, err := h.verifier.Begin(ctx, inv.User, name)
	switch {
	case err == nil:
		return inv.Reply(ctx, msgCheckDMs)
	case errors.Is(err, models.ErrAccountAlreadyLinked):
		return inv.Reply(ctx, msgAlreadyLinked)
	case errors.Is(err, models.ErrNoNation):
		return inv.Reply(ctx, fmt.Sprintf(msgNationUnknown, name))
	case isDMFailure(err):
		return inv.Reply(ctx, msgDMsClosed)
	case errors.Is(err, models.ErrExternalService):
		return inv.Reply(ctx, msgServiceDown)
	default:
		return err
	}
}

// HandleDM treats a direct message from a user with a pending verification
// as a code submission.
func (h *Handler) HandleDM(ctx context.Context, user chat.User, content string) (bool, error) {
	if _, ok := h.verifier.Pending(user.ID); !ok {
		return false, nil
	}
	reply := func(ctx context.Context, msg string) error {
		_, err := h.messenger.SendDM(ctx, user.ID, msg)
		return err
	}
	return true, h.confirm(ctx, user, content, reply)
}

func (h *Handler) confirm(ctx context.Context, user chat.User, code string, reply replyFunc) error {
	identity, err := h.verifier.Submit(ctx, user.ID, code)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNoCode):
		return reply(ctx, msgNoPending)
	case errors.Is(err, models.ErrInvalidCode):
		var invalid *models.InvalidCodeError
		errors.As(err, &invalid)
		return reply(ctx, fmt.Sprintf(msgInvalidCode, invalid.Submitted))
	case errors.Is(err, models.ErrNoNation), errors.Is(err, models.ErrExternalService):
		return reply(ctx, msgServiceDown)
	default:
		return err
	}

	h.status(ctx, identity.Status, msgSavingSheet)
	if _, err := h.store.LinkIdentity(ctx, user.ID, identity.Nation, identity.DisplayName, identity.Region); err != nil {
		if errors.Is(err, models.ErrAccountAlreadyLinked) {
			return reply(ctx, msgAlreadyLinked)
		}
		return err
	}

	h.status(ctx, identity.Status, msgGrantingRoles)
	_, err = h.roles.GrantAll(ctx, user.ID)
	switch {
	case err == nil:
		h.status(ctx, identity.Status, msgRolesGranted)
		return reply(ctx, msgRolesGranted)
	case errors.Is(err, models.ErrNoGuilds),
		errors.Is(err, models.ErrNoGuildBinding),
		errors.Is(err, models.ErrNoMeanings):
		h.status(ctx, identity.Status, msgNoRolesToGive)
		return reply(ctx, msgNoRolesToGive)
	default:
		return err
	}
}

// status edits the DM that carried the code. Failures only get logged.
func (h *Handler) status(ctx context.Context, ref chat.MessageRef, content string) {
	if ref.MessageID == "" {
		return
	}
	if err := h.messenger.EditMessage(ctx, ref, content); err != nil {
		h.logger.Warn("failed to update verification status", "channel_id", ref.ChannelID, "error", err)
	}
}

// UnverifyNation handles /unverify_nation.
func (h *Handler) UnverifyNation(ctx context.Context, inv *commands.Invocation) error {
	name := inv.String("nation_name")
	_, err := h.store.UnlinkIdentity(ctx, inv.User.ID, nationstates.ID(name))
	if err != nil {
		if errors.Is(err, models.ErrNoNation) {
			return inv.Reply(ctx, fmt.Sprintf(msgNoSheet, name))
		}
		return err
	}
	if err := h.roles.Reconcile(ctx, inv.User.ID); err != nil {
		h.logger.Warn("role reconcile after unverify failed", "user_id", inv.User.ID, "error", err)
	}
	return inv.Reply(ctx, msgUnverified)
}

// LinkRegion handles /link_region.
func (h *Handler) LinkRegion(ctx context.Context, inv *commands.Invocation) error {
	region, err := h.nations.GetRegion(ctx, inv.String("region_name"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoRegion):
			return inv.Reply(ctx, msgRegionUnknown)
		case errors.Is(err, models.ErrExternalService):
			return inv.Reply(ctx, msgServiceDown)
		}
		return err
	}

	err = h.store.Transaction(ctx, func(tx *store.Store) error {
		guild, err := tx.RegisterGuild(ctx, inv.GuildID)
		if err != nil {
			return err
		}
		row, err := tx.RegisterRegion(ctx, region.ID, region.Name)
		if err != nil {
			return err
		}
		return tx.LinkGuildRegion(ctx, guild, row)
	})
	if err != nil {
		return err
	}

	_, err = h.roles.LinkRoles(ctx, inv.GuildID, inv.Role("verified_role"), inv.Role("resident_role"), false)
	if errors.Is(err, models.ErrNoRoles) {
		// Existing bindings may now justify resident roles.
		if _, err := h.roles.ReconcileGuild(ctx, inv.GuildID); err != nil && !errors.Is(err, models.ErrNoGuildBinding) {
			h.logger.Warn("role reconcile after link_region failed", "guild_id", inv.GuildID, "error", err)
		}
		return inv.Reply(ctx, msgRegionAdded)
	}
	if msg, ok := linkRolesMessage(err); ok {
		return inv.Reply(ctx, msg)
	}
	if err != nil {
		return err
	}
	return inv.Reply(ctx, msgRegionLinked)
}

// UnlinkRegion handles /unlink_region.
func (h *Handler) UnlinkRegion(ctx context.Context, inv *commands.Invocation) error {
	guild, err := h.store.GetGuild(ctx, inv.GuildID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return inv.Reply(ctx, msgRegionOrGuild)
		}
		return err
	}
	region, err := h.store.GetRegion(ctx, nationstates.ID(inv.String("region_name")))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return inv.Reply(ctx, msgRegionOrGuild)
		}
		return err
	}

	removed, err := h.store.UnlinkGuildRegion(ctx, guild, region)
	if err != nil {
		return err
	}
	if !removed {
		return inv.Reply(ctx, msgRegionUnknown)
	}
	if _, err := h.roles.ReconcileGuild(ctx, inv.GuildID); err != nil {
		h.logger.Warn("role reconcile after unlink_region failed", "guild_id", inv.GuildID, "error", err)
	}
	return inv.Reply(ctx, msgRegionUnlinked)
}

// LinkRoles handles /link_roles.
func (h *Handler) LinkRoles(ctx context.Context, inv *commands.Invocation) error {
	verified, resident := inv.Role("verified_role"), inv.Role("resident_role")
	_, err := h.roles.LinkRoles(ctx, inv.GuildID, verified, resident, inv.Bool("overwrite", false))
	if errors.Is(err, models.ErrNoRoles) {
		return inv.Reply(ctx, msgNoRolesGiven)
	}
	if msg, ok := linkRolesMessage(err); ok {
		return inv.Reply(ctx, msg)
	}
	if err != nil {
		return err
	}

	switch {
	case verified != nil && resident != nil:
		return inv.Reply(ctx, fmt.Sprintf(msgBothRoles, roleMention(verified.ID), roleMention(resident.ID)))
	case verified != nil:
		return inv.Reply(ctx, fmt.Sprintf(msgOneRole, roleMention(verified.ID)))
	default:
		return inv.Reply(ctx, fmt.Sprintf(msgOneRole, roleMention(resident.ID)))
	}
}

// UnlinkRoles handles /unlink_roles.
func (h *Handler) UnlinkRoles(ctx context.Context, inv *commands.Invocation) error {
	roles := []*chat.Role{inv.Role("verified_role"), inv.Role("resident_role")}
	removed, err := h.roles.UnlinkRoles(ctx, inv.GuildID, roles, inv.Bool("remove", true))
	if errors.Is(err, models.ErrNoRoles) || (err == nil && len(removed) == 0) {
		return inv.Reply(ctx, msgNoRolesToUnlink)
	}
	if err != nil {
		return err
	}
	return inv.Reply(ctx, msgRolesUnlinked)
}

// linkRolesMessage maps LinkRoles precondition failures to replies.
func linkRolesMessage(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, models.ErrInvalidGuild):
		return msgInvalidGuild, true
	case errors.Is(err, models.ErrInvalidRole):
		return msgInvalidRole, true
	case errors.Is(err, models.ErrInvalidMeaning):
		return msgInvalidMeaning, true
	case errors.Is(err, models.ErrRoleOverwrite):
		return msgRoleOverwrite, true
	}
	return "", false
}

// isDMFailure reports a failed direct message, usually closed DMs.
func isDMFailure(err error) bool {
	var ext *models.ExternalServiceError
	if !errors.As(err, &ext) || ext.Service != chat.ServiceDiscord {
		return false
	}
	return ext.Op == chat.OpOpenDM || ext.Op == chat.OpSendDM
}
