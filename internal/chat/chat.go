// Package chat abstracts the parts of the chat platform the bot drives:
// direct messages, guild membership and role grants.
package chat

import "context"

// User identifies a chat-platform user.
type User struct {
	ID   string
	Name string
}

// Role is a role reference supplied as a command argument.
type Role struct {
	ID      string
	GuildID string
	Name    string
	// Managed roles belong to integrations and cannot be granted.
	Managed bool
}

// Assignable reports whether the role can be handed out in guildID. The
// @everyone role shares the guild's id.
func (r *Role) Assignable(guildID string) bool {
	if r.ID == "" || r.ID == guildID || r.Managed {
		return false
	}
	return r.GuildID == "" || r.GuildID == guildID
}

// Member is a user inside one guild with the roles they currently hold.
type Member struct {
	GuildID string
	UserID  string
	Roles   []string
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// MessageRef points at a message that can be edited later.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Messenger delivers and edits direct messages.
type Messenger interface {
	SendDM(ctx context.Context, userID, content string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, content string) error
}

// Platform is everything role reconciliation needs from the chat platform.
type Platform interface {
	Messenger

	// SharedGuilds lists the guilds the bot shares with userID.
	SharedGuilds(ctx context.Context, userID string) ([]string, error)
	// QueryMembers returns the members of guildID among userIDs; users not
	// in the guild are skipped.
	QueryMembers(ctx context.Context, guildID string, userIDs []string) ([]Member, error)
	// RoleMembers lists the ids of members holding roleID.
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}
