package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/chat/chattest"
	"github.com/sunsreach/nerris/internal/database/dbtest"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/store"
)

type roleFixture struct {
	ctx      context.Context
	store    *store.Store
	platform *chattest.Platform
	registry *MeaningRegistry
	svc      *RoleService
}

func newRoleFixture(t *testing.T, builtins bool) *roleFixture {
	t.Helper()
	ctx := context.Background()
	st := store.New(dbtest.Open(t))
	reg := NewMeaningRegistry(st)
	if builtins {
		require.NoError(t, reg.RegisterBuiltins(ctx))
	}
	platform := chattest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &roleFixture{
		ctx:      ctx,
		store:    st,
		platform: platform,
		registry: reg,
		svc:      NewRoleService(st, platform, reg, metrics.Nop{}, logger),
	}
}

// guildWithRegion registers a guild linked to one region.
func (f *roleFixture) guildWithRegion(t *testing.T, guildID, region, display string) {
	t.Helper()
	g, err := f.store.RegisterGuild(f.ctx, guildID)
	require.NoError(t, err)
	r, err := f.store.RegisterRegion(f.ctx, region, display)
	require.NoError(t, err)
	require.NoError(t, f.store.LinkGuildRegion(f.ctx, g, r))
}

func (f *roleFixture) verify(t *testing.T, userID, nation, region string) {
	t.Helper()
	_, err := f.store.LinkIdentity(f.ctx, userID, nation, nation, region)
	require.NoError(t, err)
}

func role(id, guildID string) *chat.Role {
	return &chat.Role{ID: id, GuildID: guildID}
}

func TestApplicableMeanings(t *testing.T) {
	regions := []models.Region{{Name: "suns_reach"}}

	assert.Empty(t, ApplicableMeanings(nil, regions))

	got := ApplicableMeanings([]models.Nation{{Name: "a", RegionName: "elsewhere"}}, regions)
	assert.Equal(t, map[string]bool{models.MeaningVerified: true}, got)

	got = ApplicableMeanings([]models.Nation{
		{Name: "a", RegionName: "elsewhere"},
		{Name: "b", RegionName: "suns_reach"},
	}, regions)
	assert.Equal(t, map[string]bool{models.MeaningVerified: true, models.MeaningResident: true}, got)
}

func TestLinkRoles_BackfillsExistingMembers(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

	f.verify(t, "resident", "testlandia", "suns_reach")
	f.verify(t, "visitor", "far_away", "the_pacific")
	f.platform.Join("g1", "resident")
	f.platform.Join("g1", "visitor")
	f.platform.Join("g1", "stranger")

	res, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
	assert.Equal(t, 2, res.Backfilled)

	assert.Equal(t, []string{"rr", "rv"}, f.platform.Roles("g1", "resident"))
	assert.Equal(t, []string{"rv"}, f.platform.Roles("g1", "visitor"))
	assert.Empty(t, f.platform.Roles("g1", "stranger"))
}

func TestLinkRoles_Preconditions(t *testing.T) {
	t.Run("no roles", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

		_, err := f.svc.LinkRoles(f.ctx, "g1", nil, nil, false)
		assert.ErrorIs(t, err, models.ErrNoRoles)

		g, err := f.store.GetGuild(f.ctx, "g1")
		require.NoError(t, err)
		bindings, err := f.store.GuildRoles(f.ctx, g)
		require.NoError(t, err)
		assert.Empty(t, bindings)
	})

	t.Run("unregistered guild", func(t *testing.T) {
		f := newRoleFixture(t, true)
		_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
		assert.ErrorIs(t, err, models.ErrInvalidGuild)
	})

	t.Run("resident without region", func(t *testing.T) {
		f := newRoleFixture(t, true)
		_, err := f.store.RegisterGuild(f.ctx, "g1")
		require.NoError(t, err)

		_, err = f.svc.LinkRoles(f.ctx, "g1", nil, role("rr", "g1"), false)
		assert.ErrorIs(t, err, models.ErrInvalidGuild)

		_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
		assert.NoError(t, err)
	})

	t.Run("role from another guild", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

		_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g2"), nil, false)
		var roleErr *models.InvalidRoleError
		require.ErrorAs(t, err, &roleErr)
		assert.Equal(t, "rv", roleErr.RoleID)
	})

	t.Run("meaning not registered", func(t *testing.T) {
		f := newRoleFixture(t, false)
		f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

		_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
		assert.ErrorIs(t, err, models.ErrInvalidMeaning)
	})
}

func TestLinkRoles_Overwrite(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

	_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
	require.NoError(t, err)

	// Re-binding the same role is a no-op.
	_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
	require.NoError(t, err)

	_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv2", "g1"), role("rr", "g1"), false)
	var overwrite *models.RoleOverwriteError
	require.ErrorAs(t, err, &overwrite)
	assert.Equal(t, "rv", overwrite.ExistingRoleID)

	// The failed call must not leave the resident binding behind.
	g, err := f.store.GetGuild(f.ctx, "g1")
	require.NoError(t, err)
	bindings, err := f.store.GuildRoles(f.ctx, g)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "rv", bindings[0].Snowflake)

	_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv2", "g1"), nil, true)
	require.NoError(t, err)
	bindings, err = f.store.GuildRoles(f.ctx, g)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "rv2", bindings[0].Snowflake)
}

func TestLinkRoles_OverrideStripsReplacedRole(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
	f.verify(t, "u1", "testlandia", "suns_reach")
	f.platform.Join("g1", "u1")
	f.platform.Join("g1", "stale", "rv")

	_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)
	require.Equal(t, []string{"rr", "rv"}, f.platform.Roles("g1", "u1"))

	_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv2", "g1"), nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"rr", "rv2"}, f.platform.Roles("g1", "u1"))
	assert.Empty(t, f.platform.Roles("g1", "stale"))
}

func TestUnboundRoles(t *testing.T) {
	before := []models.GuildRole{{Snowflake: "rv"}, {Snowflake: "rr"}, {Snowflake: "rx"}}
	after := []models.GuildRole{{Snowflake: "rv2"}, {Snowflake: "rr"}, {Snowflake: "rx"}}
	assert.Equal(t, []string{"rv"}, unboundRoles(before, after))

	// A role moved to another meaning stays bound.
	after = []models.GuildRole{{Snowflake: "rv"}, {Snowflake: "rv"}}
	assert.Equal(t, []string{"rr", "rx"}, unboundRoles(before, after))
}

func TestGrantAll(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
	_, err := f.store.RegisterGuild(f.ctx, "g2")
	require.NoError(t, err)
	_, err = f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)

	f.verify(t, "u1", "testlandia", "suns_reach")
	f.platform.Join("g1", "u1")
	f.platform.Join("g2", "u1")
	f.platform.Join("g3", "u1")

	report, err := f.svc.GrantAll(f.ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rv", "rr"}, report.Granted["g1"])
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, []string{"rr", "rv"}, f.platform.Roles("g1", "u1"))

	// A second pass grants nothing new.
	report, err = f.svc.GrantAll(f.ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, report.Granted["g1"])
}

func TestGrantAll_Failures(t *testing.T) {
	t.Run("no nation", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.platform.Join("g1", "u1")
		_, err := f.svc.GrantAll(f.ctx, "u1")
		assert.ErrorIs(t, err, models.ErrNoNation)
	})

	t.Run("no shared guilds", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.verify(t, "u1", "testlandia", "suns_reach")
		_, err := f.svc.GrantAll(f.ctx, "u1")
		assert.ErrorIs(t, err, models.ErrNoGuilds)
	})

	t.Run("no bindings anywhere", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.verify(t, "u1", "testlandia", "suns_reach")
		f.platform.Join("g1", "u1")
		f.platform.Join("g2", "u1")

		report, err := f.svc.GrantAll(f.ctx, "u1")
		assert.ErrorIs(t, err, models.ErrNoGuildBinding)
		require.NotNil(t, report)
		assert.Equal(t, 2, report.Skipped)
	})

	t.Run("no meanings", func(t *testing.T) {
		f := newRoleFixture(t, false)
		f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
		f.verify(t, "u1", "testlandia", "suns_reach")
		f.platform.Join("g1", "u1")

		_, err := f.svc.GrantAll(f.ctx, "u1")
		assert.ErrorIs(t, err, models.ErrNoMeanings)
	})

	t.Run("platform failure", func(t *testing.T) {
		f := newRoleFixture(t, true)
		f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
		_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), nil, false)
		require.NoError(t, err)
		f.verify(t, "u1", "testlandia", "suns_reach")
		f.platform.Join("g1", "u1")
		f.platform.FailAdd["rv"] = errors.New("missing permissions")

		_, err = f.svc.GrantAll(f.ctx, "u1")
		assert.ErrorContains(t, err, "missing permissions")
	})
}

func TestReconcile_RemovesRolesAfterUnlink(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
	_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)

	f.verify(t, "u1", "testlandia", "suns_reach")
	f.verify(t, "u1", "far_away", "the_pacific")
	f.platform.Join("g1", "u1", "unrelated")
	_, err = f.svc.GrantAll(f.ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"rr", "rv", "unrelated"}, f.platform.Roles("g1", "u1"))

	// Dropping the resident nation keeps verified only.
	_, err = f.store.UnlinkIdentity(f.ctx, "u1", "testlandia")
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconcile(f.ctx, "u1"))
	assert.Equal(t, []string{"rv", "unrelated"}, f.platform.Roles("g1", "u1"))

	_, err = f.store.UnlinkIdentity(f.ctx, "u1", "far_away")
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconcile(f.ctx, "u1"))
	assert.Equal(t, []string{"unrelated"}, f.platform.Roles("g1", "u1"))
}

func TestReconcileGuild(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
	_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)

	f.verify(t, "u1", "testlandia", "the_pacific")
	f.verify(t, "u2", "other", "suns_reach")
	f.platform.Join("g1", "u1", "rr")
	f.platform.Join("g1", "u2")

	n, err := f.svc.ReconcileGuild(f.ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"rv"}, f.platform.Roles("g1", "u1"))
	assert.Equal(t, []string{"rr", "rv"}, f.platform.Roles("g1", "u2"))

	_, err = f.svc.ReconcileGuild(f.ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrNoGuildBinding)
}

func TestUnlinkRoles(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")
	_, err := f.svc.LinkRoles(f.ctx, "g1", role("rv", "g1"), role("rr", "g1"), false)
	require.NoError(t, err)
	f.platform.Join("g1", "u1", "rv", "rr")
	f.platform.Join("g1", "u2", "rv")

	_, err = f.svc.UnlinkRoles(f.ctx, "g1", []*chat.Role{nil}, false)
	assert.ErrorIs(t, err, models.ErrNoRoles)

	removed, err := f.svc.UnlinkRoles(f.ctx, "g1", []*chat.Role{role("rv", "g1")}, true)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, models.MeaningVerified, removed[0].RoleMeaning.Meaning)
	assert.Equal(t, []string{"rr"}, f.platform.Roles("g1", "u1"))
	assert.Empty(t, f.platform.Roles("g1", "u2"))

	// Without strip the members keep the role.
	removed, err = f.svc.UnlinkRoles(f.ctx, "g1", []*chat.Role{role("rr", "g1")}, false)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, []string{"rr"}, f.platform.Roles("g1", "u1"))

	// Unknown roles are not an error, just nothing removed.
	removed, err = f.svc.UnlinkRoles(f.ctx, "g1", []*chat.Role{role("nope", "g1")}, false)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestLinkRoles_RejectsUnassignableRoles(t *testing.T) {
	f := newRoleFixture(t, true)
	f.guildWithRegion(t, "g1", "suns_reach", "Sun's Reach")

	_, err := f.svc.LinkRoles(f.ctx, "g1", role("g1", "g1"), nil, false)
	assert.ErrorIs(t, err, models.ErrInvalidRole)

	_, err = f.svc.LinkRoles(f.ctx, "g1", &chat.Role{ID: "bot", GuildID: "g1", Managed: true}, nil, false)
	assert.ErrorIs(t, err, models.ErrInvalidRole)
}
