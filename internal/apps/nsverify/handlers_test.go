package nsverify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/chat/chattest"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/config"
	"github.com/sunsreach/nerris/internal/database/dbtest"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/nationstates"
	"github.com/sunsreach/nerris/internal/services"
	"github.com/sunsreach/nerris/internal/store"
)

type replies struct {
	mu   sync.Mutex
	sent []string
}

func (r *replies) Defer(context.Context, bool) error { return nil }

func (r *replies) Send(_ context.Context, content string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, content)
	return nil
}

func (r *replies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}

type pluginFixture struct {
	ctx      context.Context
	store    *store.Store
	platform *chattest.Platform
	nations  *fakeNations
	router   *commands.Router
	plugin   *Plugin
}

const owner = "owner"

func newPluginFixture(t *testing.T) *pluginFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := dbtest.Open(t, &VerificationAttempt{})
	st := store.New(db)
	registry := services.NewMeaningRegistry(st)
	require.NoError(t, registry.RegisterBuiltins(ctx))

	f := &pluginFixture{
		ctx:      ctx,
		store:    st,
		platform: chattest.New(),
		nations:  newFakeNations(),
		router:   commands.NewRouter([]string{owner}, metrics.Nop{}, logger),
		plugin:   New(),
	}
	f.nations.add("Testlandia", "Suns Reach")
	f.nations.regions["suns_reach"] = &nationstates.Region{ID: "suns_reach", Name: "Suns Reach"}

	deps := apps.Deps{
		DB:       db,
		Config:   &config.Config{VerifyTimeout: time.Minute},
		Store:    st,
		Meanings: registry,
		Roles:    services.NewRoleService(st, f.platform, registry, metrics.Nop{}, logger),
		Nations:  f.nations,
		Chat:     f.platform,
		Metrics:  metrics.Nop{},
		Logger:   logger,
	}
	require.NoError(t, f.plugin.RegisterCommands(f.router, deps))
	t.Cleanup(f.plugin.Close)
	return f
}

// run dispatches a command and returns the last reply.
func (f *pluginFixture) run(t *testing.T, guildID, userID, command string, opts map[string]commands.Value) string {
	t.Helper()
	rec := &replies{}
	inv := commands.NewInvocation(command, chat.User{ID: userID}, opts, rec)
	inv.GuildID = guildID
	require.NoError(t, f.router.Dispatch(f.ctx, inv))
	return rec.last()
}

func str(s string) commands.Value { return commands.Value{String: s} }

func roleOpt(id, guildID string) commands.Value {
	return commands.Value{Role: &chat.Role{ID: id, GuildID: guildID}}
}

func TestCommands_Registered(t *testing.T) {
	f := newPluginFixture(t)
	var names []string
	for _, c := range f.router.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"link_region", "link_roles", "unlink_region", "unlink_roles", "unverify_nation", "verify_nation",
	}, names)
}

func TestVerifyFlow_SunsReach(t *testing.T) {
	f := newPluginFixture(t)

	reply := f.run(t, "g1", owner, "link_region", map[string]commands.Value{
		"region_name":   str("Suns Reach"),
		"verified_role": roleOpt("rv", "g1"),
		"resident_role": roleOpt("rr", "g1"),
	})
	assert.Equal(t, msgRegionLinked, reply)

	f.platform.Join("g1", "u1")
	reply = f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Testlandia")})
	assert.Equal(t, msgCheckDMs, reply)

	pending, ok := f.plugin.verifier.Pending("u1")
	require.True(t, ok)
	f.nations.setMotto("Testlandia", pending.Code)

	// The code arrives as a DM.
	assert.True(t, f.router.HandleDM(f.ctx, chat.User{ID: "u1"}, pending.Code))
	assert.Equal(t, msgRolesGranted, f.platform.LastDM("u1"))
	assert.Equal(t, []string{"rr", "rv"}, f.platform.Roles("g1", "u1"))

	holder, err := f.store.NationOwner(f.ctx, "testlandia")
	require.NoError(t, err)
	assert.Equal(t, "u1", holder)

	// Someone else cannot claim it.
	reply = f.run(t, "", "u2", "verify_nation", map[string]commands.Value{"nation": str("Testlandia")})
	assert.Equal(t, msgAlreadyLinked, reply)

	reply = f.run(t, "g1", "u1", "unverify_nation", map[string]commands.Value{"nation_name": str("Testlandia")})
	assert.Equal(t, msgUnverified, reply)
	assert.Empty(t, f.platform.Roles("g1", "u1"))

	reply = f.run(t, "g1", "u1", "unverify_nation", map[string]commands.Value{"nation_name": str("Testlandia")})
	assert.Equal(t, "Oh I don't have the charactersheet for Testlandia...", reply)
}

func TestVerifyNation_CodeOption(t *testing.T) {
	f := newPluginFixture(t)

	reply := f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Testlandia"), "code": str("NOPE")})
	assert.Equal(t, msgNoPending, reply)

	f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Testlandia")})
	pending, ok := f.plugin.verifier.Pending("u1")
	require.True(t, ok)

	reply = f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Testlandia"), "code": str("NOPE")})
	assert.Equal(t, "Oh no, you didn't role high enough it seems. `NOPE` isn't the right code!", reply)

	f.nations.setMotto("Testlandia", pending.Code)
	reply = f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Testlandia"), "code": str(pending.Code)})
	assert.Equal(t, msgNoRolesToGive, reply)
}

func TestVerifyNation_UnknownNation(t *testing.T) {
	f := newPluginFixture(t)
	reply := f.run(t, "", "u1", "verify_nation", map[string]commands.Value{"nation": str("Nowhere")})
	assert.Contains(t, reply, "Nowhere")
}

func TestHandleDM_IgnoresWithoutPending(t *testing.T) {
	f := newPluginFixture(t)
	assert.False(t, f.router.HandleDM(f.ctx, chat.User{ID: "u1"}, "hello"))
	assert.Empty(t, f.platform.DMs())
}

func TestLinkRoles_Replies(t *testing.T) {
	f := newPluginFixture(t)

	reply := f.run(t, "g1", owner, "link_roles", map[string]commands.Value{"verified_role": roleOpt("rv", "g1")})
	assert.Equal(t, msgInvalidGuild, reply)

	reply = f.run(t, "g1", owner, "link_region", map[string]commands.Value{"region_name": str("Suns Reach")})
	assert.Equal(t, msgRegionAdded, reply)

	reply = f.run(t, "g1", owner, "link_roles", nil)
	assert.Equal(t, msgNoRolesGiven, reply)

	reply = f.run(t, "g1", owner, "link_roles", map[string]commands.Value{"verified_role": roleOpt("rv", "g2")})
	assert.Equal(t, msgInvalidRole, reply)

	reply = f.run(t, "g1", owner, "link_roles", map[string]commands.Value{"verified_role": roleOpt("rv", "g1")})
	assert.Equal(t, "Looks like I found the mythical role of <@&rv>...now to find the other piece.", reply)

	reply = f.run(t, "g1", owner, "link_roles", map[string]commands.Value{"verified_role": roleOpt("rv2", "g1")})
	assert.Equal(t, msgRoleOverwrite, reply)

	reply = f.run(t, "g1", owner, "link_roles", map[string]commands.Value{
		"verified_role": roleOpt("rv2", "g1"),
		"resident_role": roleOpt("rr", "g1"),
		"overwrite":     {Bool: true},
	})
	assert.Equal(t, "A Natural 20, a critical success! I've obtained the mythical +1 roles of <@&rv2> and <@&rr>!", reply)

	// Non-owners are turned away before the handler runs.
	reply = f.run(t, "g1", "u1", "link_roles", map[string]commands.Value{"verified_role": roleOpt("x", "g1")})
	assert.NotEqual(t, msgRoleOverwrite, reply)
}

func TestUnlinkRolesAndRegion(t *testing.T) {
	f := newPluginFixture(t)
	f.run(t, "g1", owner, "link_region", map[string]commands.Value{
		"region_name":   str("Suns Reach"),
		"verified_role": roleOpt("rv", "g1"),
	})
	f.platform.Join("g1", "u1", "rv")

	reply := f.run(t, "g1", owner, "unlink_roles", map[string]commands.Value{"resident_role": roleOpt("rr", "g1")})
	assert.Equal(t, msgNoRolesToUnlink, reply)

	reply = f.run(t, "g1", owner, "unlink_roles", map[string]commands.Value{"verified_role": roleOpt("rv", "g1")})
	assert.Equal(t, msgRolesUnlinked, reply)
	assert.Empty(t, f.platform.Roles("g1", "u1"))

	reply = f.run(t, "g9", owner, "unlink_region", map[string]commands.Value{"region_name": str("Suns Reach")})
	assert.Equal(t, msgRegionOrGuild, reply)

	reply = f.run(t, "g1", owner, "unlink_region", map[string]commands.Value{"region_name": str("Suns Reach")})
	assert.Equal(t, msgRegionUnlinked, reply)

	reply = f.run(t, "g1", owner, "unlink_region", map[string]commands.Value{"region_name": str("Suns Reach")})
	assert.Equal(t, msgRegionUnknown, reply)

	reply = f.run(t, "g1", owner, "link_region", map[string]commands.Value{"region_name": str("Atlantis")})
	assert.Equal(t, msgRegionUnknown, reply)
}

func TestAttemptRepo(t *testing.T) {
	db := dbtest.Open(t, &VerificationAttempt{})
	repo := newAttemptRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, "u1", "testlandia", OutcomeStarted, nil))
	require.NoError(t, repo.Record(ctx, "u1", "testlandia", OutcomeInvalidCode, map[string]interface{}{"error": "bad"}))
	require.NoError(t, repo.Record(ctx, "u2", "other", OutcomeStarted, nil))

	counts, err := repo.OutcomeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{OutcomeStarted: 2, OutcomeInvalidCode: 1}, counts)

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
