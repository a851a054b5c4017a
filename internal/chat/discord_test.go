package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *discordgo.Session {
	t.Helper()
	session, err := discordgo.New("Bot test")
	require.NoError(t, err)
	return session
}

func withMember(userID string) []*discordgo.Member {
	return []*discordgo.Member{{User: &discordgo.User{ID: userID}}}
}

func TestSharedGuilds_ConcurrentGuildAdd(t *testing.T) {
	session := newSession(t)
	d := NewDiscord(session)
	ctx := context.Background()
	require.NoError(t, session.State.GuildAdd(&discordgo.Guild{ID: "g0", Members: withMember("u1")}))

	const added = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= added; i++ {
			_ = session.State.GuildAdd(&discordgo.Guild{ID: fmt.Sprintf("g%d", i), Members: withMember("u1")})
		}
	}()

	for i := 0; i < added; i++ {
		guilds, err := d.SharedGuilds(ctx, "u1")
		require.NoError(t, err)
		assert.Contains(t, guilds, "g0")
	}
	wg.Wait()

	guilds, err := d.SharedGuilds(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, guilds, added+1)
}

// memberServer serves one page of guild members and counts requests.
func memberServer(t *testing.T, members []*discordgo.Member) *int32 {
	t.Helper()
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/guilds/g1/members" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(members)
	}))
	t.Cleanup(srv.Close)

	prev := discordgo.EndpointGuilds
	discordgo.EndpointGuilds = srv.URL + "/guilds/"
	t.Cleanup(func() { discordgo.EndpointGuilds = prev })
	return &requests
}

func TestQueryMembers_ScansGuildForManyUsers(t *testing.T) {
	var members []*discordgo.Member
	for i := 0; i < 40; i++ {
		members = append(members, &discordgo.Member{
			User:  &discordgo.User{ID: fmt.Sprintf("u%d", i)},
			Roles: []string{"r1"},
		})
	}
	requests := memberServer(t, members)
	d := NewDiscord(newSession(t))

	var ids []string
	for i := 30; i < 30+memberLookupLimit+5; i++ {
		ids = append(ids, fmt.Sprintf("u%d", i))
	}
	got, err := d.QueryMembers(context.Background(), "g1", ids)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(requests))
	require.Len(t, got, 10)
	for _, m := range got {
		assert.Equal(t, "g1", m.GuildID)
		assert.True(t, m.HasRole("r1"))
	}
}

func TestRoleMembers(t *testing.T) {
	memberServer(t, []*discordgo.Member{
		{User: &discordgo.User{ID: "u1"}, Roles: []string{"r1", "r2"}},
		{User: &discordgo.User{ID: "u2"}, Roles: []string{"r2"}},
		{Roles: []string{"r1"}},
	})
	d := NewDiscord(newSession(t))

	ids, err := d.RoleMembers(context.Background(), "g1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}
