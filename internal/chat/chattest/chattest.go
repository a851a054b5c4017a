// Package chattest provides an in-memory chat.Platform for tests.
package chattest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sunsreach/nerris/internal/chat"
)

// DM is a direct message recorded by Platform.
type DM struct {
	Ref     chat.MessageRef
	UserID  string
	Content string
}

// Platform keeps guild membership in memory. The zero value is not usable;
// call New.
type Platform struct {
	mu      sync.Mutex
	members map[string]map[string][]string
	dms     []DM
	nextID  int

	// FailAdd makes AddRole fail for the listed role ids.
	FailAdd map[string]error
}

func New() *Platform {
	return &Platform{
		members: make(map[string]map[string][]string),
		FailAdd: make(map[string]error),
	}
}

// Join adds userID to guildID holding roles.
func (p *Platform) Join(guildID, userID string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[guildID] == nil {
		p.members[guildID] = make(map[string][]string)
	}
	p.members[guildID][userID] = append([]string(nil), roles...)
}

// Roles returns the roles userID holds in guildID, sorted.
func (p *Platform) Roles(guildID, userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	roles := append([]string(nil), p.members[guildID][userID]...)
	sort.Strings(roles)
	return roles
}

// DMs returns every message sent so far, with edits applied.
func (p *Platform) DMs() []DM {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DM(nil), p.dms...)
}

// LastDM returns the content of the latest message sent to userID.
func (p *Platform) LastDM(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.dms) - 1; i >= 0; i-- {
		if p.dms[i].UserID == userID {
			return p.dms[i].Content
		}
	}
	return ""
}

func (p *Platform) SendDM(_ context.Context, userID, content string) (chat.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	ref := chat.MessageRef{ChannelID: "dm-" + userID, MessageID: fmt.Sprintf("msg-%d", p.nextID)}
	p.dms = append(p.dms, DM{Ref: ref, UserID: userID, Content: content})
	return ref, nil
}

func (p *Platform) EditMessage(_ context.Context, ref chat.MessageRef, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.dms {
		if p.dms[i].Ref == ref {
			p.dms[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", ref.MessageID)
}

func (p *Platform) SharedGuilds(_ context.Context, userID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var guilds []string
	for g, members := range p.members {
		if _, ok := members[userID]; ok {
			guilds = append(guilds, g)
		}
	}
	sort.Strings(guilds)
	return guilds, nil
}

func (p *Platform) QueryMembers(_ context.Context, guildID string, userIDs []string) ([]chat.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []chat.Member
	for _, id := range userIDs {
		roles, ok := p.members[guildID][id]
		if !ok {
			continue
		}
		out = append(out, chat.Member{GuildID: guildID, UserID: id, Roles: append([]string(nil), roles...)})
	}
	return out, nil
}

func (p *Platform) RoleMembers(_ context.Context, guildID, roleID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, roles := range p.members[guildID] {
		for _, r := range roles {
			if r == roleID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Platform) AddRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailAdd[roleID]; err != nil {
		return err
	}
	roles, ok := p.members[guildID][userID]
	if !ok {
		return fmt.Errorf("user %s not in guild %s", userID, guildID)
	}
	for _, r := range roles {
		if r == roleID {
			return nil
		}
	}
	p.members[guildID][userID] = append(roles, roleID)
	return nil
}

func (p *Platform) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	roles, ok := p.members[guildID][userID]
	if !ok {
		return fmt.Errorf("user %s not in guild %s", userID, guildID)
	}
	kept := roles[:0]
	for _, r := range roles {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	p.members[guildID][userID] = kept
	return nil
}

var _ chat.Platform = (*Platform)(nil)
