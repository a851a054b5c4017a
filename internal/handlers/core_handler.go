package handlers

import (
	"context"

	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/persona"
)

const msgSynced = "Synced Slash Commands to Server!"

// CommandSyncer re-registers application commands, in one guild when
// guildID is set.
type CommandSyncer interface {
	SyncCommands(ctx context.Context, guildID string) error
}

// CoreHandler answers the commands every persona carries.
type CoreHandler struct {
	persona persona.Persona
	syncer  CommandSyncer
}

func NewCoreHandler(p persona.Persona, syncer CommandSyncer) *CoreHandler {
	return &CoreHandler{persona: p, syncer: syncer}
}

func (h *CoreHandler) Info(ctx context.Context, inv *commands.Invocation) error {
	return inv.Reply(ctx, h.persona.Info())
}

func (h *CoreHandler) Source(ctx context.Context, inv *commands.Invocation) error {
	return inv.Reply(ctx, h.persona.Source())
}

func (h *CoreHandler) Sync(ctx context.Context, inv *commands.Invocation) error {
	if err := h.syncer.SyncCommands(ctx, inv.GuildID); err != nil {
		return err
	}
	return inv.Reply(ctx, msgSynced)
}

func (h *CoreHandler) Commands() []commands.Command {
	return []commands.Command{
		{Name: "info", Description: "Learn about " + h.persona.Name, Handler: h.Info},
		{Name: "source", Description: "Link to my source code", OwnerOnly: true, Handler: h.Source},
		{
			Name:        "sync",
			Description: "Re-register slash commands in this server",
			OwnerOnly:   true,
			GuildOnly:   true,
			Ephemeral:   true,
			Deferred:    true,
			Handler:     h.Sync,
		},
	}
}
