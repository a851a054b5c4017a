package bot

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/database/dbtest"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/store"
)

func noop(context.Context, *commands.Invocation) error { return nil }

func TestApplicationCommands(t *testing.T) {
	cmds := ApplicationCommands([]commands.Command{
		{
			Name:        "link_region",
			Description: "Link a region",
			Options: []commands.Option{
				{Name: "verified_role", Type: commands.OptionRole},
				{Name: "region_name", Type: commands.OptionString, Required: true},
				{Name: "overwrite", Type: commands.OptionBool},
			},
			OwnerOnly: true,
			GuildOnly: true,
			Handler:   noop,
		},
		{Name: "info", Description: "About me", Handler: noop},
	})
	require.Len(t, cmds, 2)

	link := cmds[0]
	require.Len(t, link.Options, 3)
	assert.Equal(t, "region_name", link.Options[0].Name)
	assert.True(t, link.Options[0].Required)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, link.Options[0].Type)
	assert.Equal(t, discordgo.ApplicationCommandOptionRole, link.Options[1].Type)
	assert.Equal(t, discordgo.ApplicationCommandOptionBoolean, link.Options[2].Type)
	require.NotNil(t, link.DMPermission)
	assert.False(t, *link.DMPermission)
	require.NotNil(t, link.DefaultMemberPermissions)

	info := cmds[1]
	assert.Nil(t, info.DMPermission)
	assert.Nil(t, info.DefaultMemberPermissions)
	assert.Empty(t, info.Options)
}

func TestInvocationOptions(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: "link_roles",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "region_name", Type: discordgo.ApplicationCommandOptionString, Value: "Suns Reach"},
			{Name: "overwrite", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			{Name: "verified_role", Type: discordgo.ApplicationCommandOptionRole, Value: "r1"},
		},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Roles: map[string]*discordgo.Role{
				"r1": {ID: "r1", Name: "Verified", Managed: false},
			},
		},
	}

	values := invocationOptions(data, "g1")
	assert.Equal(t, "Suns Reach", values["region_name"].String)
	assert.True(t, values["overwrite"].Bool)
	role := values["verified_role"].Role
	require.NotNil(t, role)
	assert.Equal(t, "r1", role.ID)
	assert.Equal(t, "g1", role.GuildID)
	assert.Equal(t, "Verified", role.Name)
}

func TestInteractionUser(t *testing.T) {
	guild := &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "a"}}}
	assert.Equal(t, "u1", interactionUser(guild).ID)

	dm := &discordgo.Interaction{User: &discordgo.User{ID: "u2", Username: "b"}}
	assert.Equal(t, "u2", interactionUser(dm).ID)

	assert.Empty(t, interactionUser(&discordgo.Interaction{}).ID)
}

func newTestBot(t *testing.T) (*Bot, *store.Store) {
	t.Helper()
	st := store.New(dbtest.Open(t))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := commands.NewRouter(nil, metrics.Nop{}, logger)
	return New(nil, router, st, logger), st
}

func TestOnRoleDelete(t *testing.T) {
	b, st := newTestBot(t)
	ctx := context.Background()

	g, err := st.RegisterGuild(ctx, "g1")
	require.NoError(t, err)
	m, err := st.RegisterRoleMeaning(ctx, models.MeaningVerified)
	require.NoError(t, err)
	_, err = st.BindRole(ctx, g, m, "r1", false)
	require.NoError(t, err)

	b.onRoleDelete(nil, &discordgo.GuildRoleDelete{GuildID: "g1", RoleID: "r1"})

	roles, err := st.GuildRoles(ctx, g)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestOnGuildDelete(t *testing.T) {
	b, st := newTestBot(t)
	ctx := context.Background()
	_, err := st.RegisterGuild(ctx, "g1")
	require.NoError(t, err)

	// An outage keeps the guild.
	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1", Unavailable: true}})
	_, err = st.GetGuild(ctx, "g1")
	require.NoError(t, err)

	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})
	_, err = st.GetGuild(ctx, "g1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	b.onGuildDelete(nil, &discordgo.GuildDelete{})
}
