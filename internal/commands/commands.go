// Package commands describes slash commands independently of the chat SDK
// and routes invocations to their handlers.
package commands

import (
	"context"

	"github.com/sunsreach/nerris/internal/chat"
)

type OptionType int

const (
	OptionString OptionType = iota + 1
	OptionBool
	OptionRole
)

type Option struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

// HandlerFunc runs one command invocation. Returned errors the handler did
// not already answer are reported and replied to with a generic message.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

type Command struct {
	Name        string
	Description string
	Options     []Option

	// OwnerOnly restricts the command to OWNER_IDS.
	OwnerOnly bool
	// GuildOnly rejects invocations from direct messages.
	GuildOnly bool
	// Ephemeral hides replies from everyone but the invoker.
	Ephemeral bool
	// Deferred acknowledges the interaction before the handler runs, for
	// handlers that call out to NationStates or walk guild members.
	Deferred bool

	Handler HandlerFunc
}

// Responder answers an invocation. Send may be called several times; the
// first call after Defer replaces the loading state.
type Responder interface {
	Defer(ctx context.Context, ephemeral bool) error
	Send(ctx context.Context, content string, ephemeral bool) error
}

// Value is a resolved option value.
type Value struct {
	String string
	Bool   bool
	Role   *chat.Role
}

// Invocation is one command call from a user.
type Invocation struct {
	Command   string
	TraceID   string
	GuildID   string
	ChannelID string
	User      chat.User
	Options   map[string]Value

	responder Responder
	ephemeral bool
}

func NewInvocation(command string, user chat.User, options map[string]Value, responder Responder) *Invocation {
	if options == nil {
		options = make(map[string]Value)
	}
	return &Invocation{Command: command, User: user, Options: options, responder: responder}
}

// String returns a string option or "" when absent.
func (i *Invocation) String(name string) string {
	return i.Options[name].String
}

// Bool returns a boolean option or fallback when absent.
func (i *Invocation) Bool(name string, fallback bool) bool {
	v, ok := i.Options[name]
	if !ok {
		return fallback
	}
	return v.Bool
}

// Role returns a role option or nil when absent.
func (i *Invocation) Role(name string) *chat.Role {
	return i.Options[name].Role
}

func (i *Invocation) Reply(ctx context.Context, content string) error {
	return i.responder.Send(ctx, content, i.ephemeral)
}

// DMHandler handles a direct message sent to the bot. It reports whether the
// message was consumed.
type DMHandler func(ctx context.Context, user chat.User, content string) (bool, error)
