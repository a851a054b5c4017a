package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/sunsreach/nerris/internal/models"
)

// ServiceDiscord and the Op values identify Discord failures wrapped in
// models.ExternalServiceError.
const (
	ServiceDiscord = "discord"
	OpOpenDM       = "open dm"
	OpSendDM       = "send dm"

	memberPageLimit = 1000

	// Lookups for more users than this page through the guild's member
	// list once instead of fetching each member.
	memberLookupLimit = 25
)

// Discord implements Platform on top of a discordgo session.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) SendDM(ctx context.Context, userID, content string) (MessageRef, error) {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return MessageRef{}, wrap(OpOpenDM, err)
	}
	msg, err := d.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return MessageRef{}, wrap(OpSendDM, err)
	}
	return MessageRef{ChannelID: channel.ID, MessageID: msg.ID}, nil
}

func (d *Discord) EditMessage(ctx context.Context, ref MessageRef, content string) error {
	_, err := d.session.ChannelMessageEdit(ref.ChannelID, ref.MessageID, content, discordgo.WithContext(ctx))
	return wrap("edit message", err)
}

func (d *Discord) SharedGuilds(ctx context.Context, userID string) ([]string, error) {
	var guilds []string
	for _, guildID := range d.guildIDs() {
		if _, err := d.member(ctx, guildID, userID); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, wrap("guild member", err)
		}
		guilds = append(guilds, guildID)
	}
	return guilds, nil
}

// guildIDs snapshots the cached guilds. The gateway mutates State.Guilds
// under the state lock.
func (d *Discord) guildIDs() []string {
	state := d.session.State
	state.RLock()
	defer state.RUnlock()
	ids := make([]string, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

func (d *Discord) QueryMembers(ctx context.Context, guildID string, userIDs []string) ([]Member, error) {
	if len(userIDs) > memberLookupLimit {
		return d.scanMembers(ctx, guildID, userIDs)
	}
	members := make([]Member, 0, len(userIDs))
	for _, id := range userIDs {
		m, err := d.member(ctx, guildID, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, wrap("guild member", err)
		}
		members = append(members, Member{GuildID: guildID, UserID: id, Roles: m.Roles})
	}
	return members, nil
}

// scanMembers pages through guildID once and keeps the members in userIDs.
func (d *Discord) scanMembers(ctx context.Context, guildID string, userIDs []string) ([]Member, error) {
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	var members []Member
	err := d.eachMember(ctx, guildID, func(m *discordgo.Member) {
		if wanted[m.User.ID] {
			members = append(members, Member{GuildID: guildID, UserID: m.User.ID, Roles: m.Roles})
		}
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Discord) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	var ids []string
	err := d.eachMember(ctx, guildID, func(m *discordgo.Member) {
		for _, r := range m.Roles {
			if r == roleID {
				ids = append(ids, m.User.ID)
				return
			}
		}
	})
	return ids, err
}

func (d *Discord) eachMember(ctx context.Context, guildID string, fn func(m *discordgo.Member)) error {
	after := ""
	for {
		page, err := d.session.GuildMembers(guildID, after, memberPageLimit, discordgo.WithContext(ctx))
		if err != nil {
			return wrap("list members", err)
		}
		for _, m := range page {
			if m.User == nil {
				continue
			}
			after = m.User.ID
			fn(m)
		}
		if len(page) < memberPageLimit {
			return nil
		}
	}
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return wrap("add role", d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return wrap("remove role", d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// member prefers the state cache and falls back to the REST API.
func (d *Discord) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := d.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	return &models.ExternalServiceError{Service: ServiceDiscord, Op: op, StatusCode: status, Err: err}
}
