// Package bot connects the command router and the store to a Discord
// gateway session.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/commands"
	"github.com/sunsreach/nerris/internal/store"
)

const (
	intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages

	eventTimeout = 30 * time.Second

	// Deferred interactions can be answered for 15 minutes; role backfills
	// walk every verified member and need most of that.
	interactionTimeout = 10 * time.Minute
)

// Bot owns the Discord session. Handlers run on discordgo's goroutines with
// a context derived from the one passed to Run.
type Bot struct {
	session *discordgo.Session
	router  *commands.Router
	store   *store.Store
	logger  *slog.Logger

	ctx       context.Context
	connected atomic.Bool
}

// NewSession creates an unopened session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = intents
	session.StateEnabled = true
	return session, nil
}

func New(session *discordgo.Session, router *commands.Router, st *store.Store, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		session: session,
		router:  router,
		store:   st,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Run opens the gateway, registers the commands globally and blocks until
// ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onDisconnect)
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onMessage)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onGuildDelete)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	defer b.session.Close()

	if err := b.SyncCommands(ctx, ""); err != nil {
		return err
	}

	<-ctx.Done()
	b.logger.Info("closing discord session")
	return nil
}

// Connected reports whether the gateway is up.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// SyncCommands overwrites the registered application commands, globally when
// guildID is empty.
func (b *Bot) SyncCommands(ctx context.Context, guildID string) error {
	if b.session.State == nil || b.session.State.User == nil {
		return fmt.Errorf("discord session is not ready")
	}
	appID := b.session.State.User.ID
	cmds := ApplicationCommands(b.router.Commands())
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return wrap("sync commands", err)
	}
	b.logger.Info("application commands synced", "guild_id", guildID, "count", len(cmds))
	return nil
}

func (b *Bot) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, eventTimeout)
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.connected.Store(true)
	b.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.connected.Store(false)
	b.logger.Warn("discord session disconnected")
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, interactionTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	responder := &interactionResponder{session: s, interaction: i.Interaction}
	inv := commands.NewInvocation(data.Name, interactionUser(i.Interaction), invocationOptions(data, i.GuildID), responder)
	inv.TraceID = i.ID
	inv.GuildID = i.GuildID
	inv.ChannelID = i.ChannelID

	if err := b.router.Dispatch(ctx, inv); err != nil {
		b.logger.Error("interaction failed", "command", data.Name, "trace_id", i.ID, "guild_id", i.GuildID, "error", err)
	}
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	b.router.HandleDM(ctx, chat.User{ID: m.Author.ID, Name: m.Author.Username}, m.Content)
}

// onRoleDelete drops bindings that point at a deleted role.
func (b *Bot) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	ctx, cancel := b.eventContext()
	defer cancel()
	removed, err := b.store.RemoveRole(ctx, e.RoleID)
	if err != nil {
		b.logger.Error("failed to remove deleted role", "guild_id", e.GuildID, "role_id", e.RoleID, "error", err)
		return
	}
	if len(removed) > 0 {
		b.logger.Info("role binding removed", "guild_id", e.GuildID, "role_id", e.RoleID)
	}
}

// onGuildDelete forgets a guild the bot was removed from. Outages also
// deliver GUILD_DELETE, flagged as unavailable; those are ignored.
func (b *Bot) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	ctx, cancel := b.eventContext()
	defer cancel()
	if err := b.store.RemoveGuild(ctx, e.ID); err != nil {
		b.logger.Error("failed to remove guild", "guild_id", e.ID, "error", err)
		return
	}
	b.logger.Info("guild removed", "guild_id", e.ID)
}
