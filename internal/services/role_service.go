package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/store"
)

// RoleService keeps guild roles in line with verified identities.
type RoleService struct {
	store    *store.Store
	chat     chat.Platform
	meanings *MeaningRegistry
	metrics  metrics.Recorder
	logger   *slog.Logger
}

func NewRoleService(st *store.Store, platform chat.Platform, meanings *MeaningRegistry, rec metrics.Recorder, logger *slog.Logger) *RoleService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleService{store: st, chat: platform, meanings: meanings, metrics: rec, logger: logger}
}

// ApplicableMeanings decides which meanings a holder of nations earns in a
// guild linked to regions.
func ApplicableMeanings(nations []models.Nation, regions []models.Region) map[string]bool {
	out := make(map[string]bool)
	if len(nations) == 0 {
		return out
	}
	out[models.MeaningVerified] = true

	linked := make(map[string]bool, len(regions))
	for _, r := range regions {
		linked[r.Name] = true
	}
	for _, n := range nations {
		if n.RegionName != "" && linked[n.RegionName] {
			out[models.MeaningResident] = true
			break
		}
	}
	return out
}

// guildPlan is the persisted state reconciliation needs for one guild.
type guildPlan struct {
	guild    *models.Guild
	regions  []models.Region
	bindings []models.GuildRole
}

func (s *RoleService) loadGuild(ctx context.Context, guildID string) (*guildPlan, error) {
	guild, err := s.store.GetGuild(ctx, guildID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &models.NoGuildBindingError{GuildID: guildID}
		}
		return nil, err
	}
	regions, err := s.store.GuildRegions(ctx, guild)
	if err != nil {
		return nil, err
	}
	bindings, err := s.store.GuildRoles(ctx, guild)
	if err != nil {
		return nil, err
	}
	return &guildPlan{guild: guild, regions: regions, bindings: bindings}, nil
}

// desired maps every bound role of the guild to whether the holder of
// nations should have it.
func (s *RoleService) desired(plan *guildPlan, nations []models.Nation) map[string]bool {
	applicable := ApplicableMeanings(nations, plan.regions)
	want := make(map[string]bool, len(plan.bindings))
	for _, b := range plan.bindings {
		meaning := b.RoleMeaning.Meaning
		ok := applicable[meaning] && s.meanings.Has(meaning)
		// Two meanings may share a role; any justification keeps it.
		want[b.Snowflake] = want[b.Snowflake] || ok
	}
	return want
}

// GrantOneGuild grants member every role it is entitled to in guildID and
// returns the role ids added.
func (s *RoleService) GrantOneGuild(ctx context.Context, guildID string, member chat.Member) ([]string, error) {
	nations, err := s.store.UserNations(ctx, member.UserID)
	if err != nil {
		return nil, err
	}
	if len(nations) == 0 {
		return nil, &models.NoNationError{}
	}

	plan, err := s.loadGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	hasMeaning := false
	for m := range ApplicableMeanings(nations, plan.regions) {
		if s.meanings.Has(m) {
			hasMeaning = true
			break
		}
	}
	if !hasMeaning {
		return nil, models.ErrNoMeanings
	}

	var roles []string
	for roleID, ok := range s.desired(plan, nations) {
		if ok {
			roles = append(roles, roleID)
		}
	}
	if len(roles) == 0 {
		return nil, &models.NoGuildBindingError{GuildID: guildID}
	}

	var granted []string
	for _, roleID := range roles {
		if member.HasRole(roleID) {
			continue
		}
		if err := s.chat.AddRole(ctx, guildID, member.UserID, roleID); err != nil {
			return granted, err
		}
		s.metrics.RoleGranted(guildID)
		granted = append(granted, roleID)
	}
	s.logger.Info("roles granted", "guild_id", guildID, "user_id", member.UserID, "count", len(granted))
	return granted, nil
}

// GrantReport summarises a GrantAll pass.
type GrantReport struct {
	Granted map[string][]string
	Skipped int
}

// GrantAll grants userID its roles in every guild the bot shares with it.
// Guilds without bindings are skipped; the joined error is returned only
// when no guild succeeded.
func (s *RoleService) GrantAll(ctx context.Context, userID string) (*GrantReport, error) {
	nations, err := s.store.UserNations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(nations) == 0 {
		return nil, &models.NoNationError{}
	}

	guilds, err := s.chat.SharedGuilds(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(guilds) == 0 {
		return nil, models.ErrNoGuilds
	}

	report := &GrantReport{Granted: make(map[string][]string)}
	var errs []error
	for _, guildID := range guilds {
		members, err := s.chat.QueryMembers(ctx, guildID, []string{userID})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(members) == 0 {
			errs = append(errs, &models.NoGuildBindingError{GuildID: guildID})
			continue
		}

		granted, err := s.GrantOneGuild(ctx, guildID, members[0])
		switch {
		case err == nil:
			report.Granted[guildID] = granted
		case errors.Is(err, models.ErrNoMeanings), errors.Is(err, models.ErrNoNation):
			return nil, err
		default:
			if !errors.Is(err, models.ErrNoGuildBinding) {
				s.logger.Warn("role grant failed", "guild_id", guildID, "user_id", userID, "error", err)
			}
			errs = append(errs, err)
		}
	}

	report.Skipped = len(errs)
	if len(report.Granted) == 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

// Reconcile adds justified and removes unjustified bound roles for userID in
// every shared registered guild. Used after a nation is unlinked.
func (s *RoleService) Reconcile(ctx context.Context, userID string) error {
	nations, err := s.store.UserNations(ctx, userID)
	if err != nil {
		return err
	}
	guilds, err := s.chat.SharedGuilds(ctx, userID)
	if err != nil {
		return err
	}

	var errs []error
	for _, guildID := range guilds {
		plan, err := s.loadGuild(ctx, guildID)
		if err != nil {
			if !errors.Is(err, models.ErrNoGuildBinding) {
				errs = append(errs, err)
			}
			continue
		}
		members, err := s.chat.QueryMembers(ctx, guildID, []string{userID})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range members {
			if err := s.apply(ctx, plan, m, s.desired(plan, nations)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ReconcileGuild reconciles every verified user present in guildID and
// returns how many members were checked.
func (s *RoleService) ReconcileGuild(ctx context.Context, guildID string) (int, error) {
	plan, err := s.loadGuild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	members, err := s.verifiedMembers(ctx, guildID)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, m := range members {
		nations, err := s.store.UserNations(ctx, m.UserID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.apply(ctx, plan, m, s.desired(plan, nations)); err != nil {
			errs = append(errs, err)
		}
	}
	return len(members), errors.Join(errs...)
}

func (s *RoleService) apply(ctx context.Context, plan *guildPlan, member chat.Member, want map[string]bool) error {
	guildID := plan.guild.Snowflake
	for roleID, ok := range want {
		has := member.HasRole(roleID)
		switch {
		case ok && !has:
			if err := s.chat.AddRole(ctx, guildID, member.UserID, roleID); err != nil {
				return err
			}
			s.metrics.RoleGranted(guildID)
		case !ok && has:
			if err := s.chat.RemoveRole(ctx, guildID, member.UserID, roleID); err != nil {
				return err
			}
			s.metrics.RoleRevoked(guildID)
		}
	}
	return nil
}

func (s *RoleService) verifiedMembers(ctx context.Context, guildID string) ([]chat.Member, error) {
	users, err := s.store.UserSnowflakes(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return s.chat.QueryMembers(ctx, guildID, users)
}

// Backfill grants roles to every verified user present in guildID. Returns
// the number of members that received at least one role.
func (s *RoleService) Backfill(ctx context.Context, guildID string) (int, error) {
	members, err := s.verifiedMembers(ctx, guildID)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, m := range members {
		granted, err := s.GrantOneGuild(ctx, guildID, m)
		if err != nil {
			if !errors.Is(err, models.ErrNoGuildBinding) && !errors.Is(err, models.ErrNoMeanings) {
				errs = append(errs, err)
			}
			continue
		}
		if len(granted) > 0 {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// LinkResult describes the bindings written by LinkRoles.
type LinkResult struct {
	Bindings   []models.GuildRole
	Backfilled int
}

type roleRequest struct {
	role    *chat.Role
	meaning string
}

// LinkRoles binds the verified and resident roles of a guild. The checks run
// in order NoRoles, InvalidGuild, InvalidRole, InvalidMeaning and
// RoleOverwrite; all bindings are written in one transaction. On success
// every verified member already in the guild is backfilled.
func (s *RoleService) LinkRoles(ctx context.Context, guildID string, verified, resident *chat.Role, override bool) (*LinkResult, error) {
	if verified == nil && resident == nil {
		return nil, models.ErrNoRoles
	}

	guild, err := s.store.GetGuild(ctx, guildID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &models.InvalidGuildError{GuildID: guildID}
		}
		return nil, err
	}

	var requests []roleRequest
	if verified != nil {
		requests = append(requests, roleRequest{role: verified, meaning: models.MeaningVerified})
	}
	if resident != nil {
		regions, err := s.store.GuildRegions(ctx, guild)
		if err != nil {
			return nil, err
		}
		if len(regions) == 0 {
			return nil, &models.InvalidGuildError{GuildID: guildID}
		}
		requests = append(requests, roleRequest{role: resident, meaning: models.MeaningResident})
	}

	for _, req := range requests {
		if !req.role.Assignable(guildID) {
			return nil, &models.InvalidRoleError{RoleID: req.role.ID}
		}
	}

	meanings := make([]models.RoleMeaning, len(requests))
	for i, req := range requests {
		id, ok := s.meanings.ID(req.meaning)
		if !ok {
			return nil, &models.InvalidMeaningError{Meaning: req.meaning}
		}
		meanings[i] = models.RoleMeaning{Base: models.Base{ID: id}, Meaning: req.meaning}
	}

	result := &LinkResult{}
	var replaced []string
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		before, err := tx.GuildRoles(ctx, guild)
		if err != nil {
			return err
		}
		for i, req := range requests {
			binding, err := tx.BindRole(ctx, guild, &meanings[i], req.role.ID, override)
			if err != nil {
				return err
			}
			result.Bindings = append(result.Bindings, *binding)
		}
		after, err := tx.GuildRoles(ctx, guild)
		if err != nil {
			return err
		}
		replaced = unboundRoles(before, after)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Overridden roles no longer carry a meaning, so members lose them.
	for _, roleID := range replaced {
		if err := s.stripRole(ctx, guildID, roleID); err != nil {
			s.logger.Error("failed to strip replaced role", "guild_id", guildID, "role_id", roleID, "error", err)
		}
	}

	n, err := s.Backfill(ctx, guildID)
	if err != nil {
		s.logger.Error("role backfill failed", "guild_id", guildID, "error", err)
	}
	result.Backfilled = n
	return result, nil
}

// UnlinkRoles removes the bindings that use roles. When strip is set the
// roles are also taken away from every member of the guild holding them.
func (s *RoleService) UnlinkRoles(ctx context.Context, guildID string, roles []*chat.Role, strip bool) ([]models.GuildRole, error) {
	var ids []string
	for _, r := range roles {
		if r != nil && r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil, models.ErrNoRoles
	}

	var removed []models.GuildRole
	for _, id := range ids {
		rows, err := s.store.RemoveRole(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("failed to remove role binding: %w", err)
		}
		removed = append(removed, rows...)
	}

	if strip {
		stripped := make(map[string]bool)
		for _, b := range removed {
			if stripped[b.Snowflake] {
				continue
			}
			stripped[b.Snowflake] = true
			if err := s.stripRole(ctx, guildID, b.Snowflake); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// unboundRoles returns the snowflakes bound in before but not in after.
func unboundRoles(before, after []models.GuildRole) []string {
	bound := make(map[string]bool, len(after))
	for _, b := range after {
		bound[b.Snowflake] = true
	}
	var out []string
	for _, b := range before {
		if !bound[b.Snowflake] {
			bound[b.Snowflake] = true
			out = append(out, b.Snowflake)
		}
	}
	return out
}

func (s *RoleService) stripRole(ctx context.Context, guildID, roleID string) error {
	holders, err := s.chat.RoleMembers(ctx, guildID, roleID)
	if err != nil {
		return err
	}
	for _, userID := range holders {
		if err := s.chat.RemoveRole(ctx, guildID, userID, roleID); err != nil {
			return err
		}
		s.metrics.RoleRevoked(guildID)
	}
	return nil
}
