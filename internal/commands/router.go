package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/metrics"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrDuplicate      = errors.New("command already registered")
)

const (
	notOwnerMessage  = "Only my owners can use that command!"
	guildOnlyMessage = "That command only works inside a server!"
)

// DefaultInternalError is sent when a handler fails unexpectedly.
const DefaultInternalError = "There was an internal error. My DM has been notified!"

type Router struct {
	mu         sync.RWMutex
	commands   map[string]Command
	dmHandlers []DMHandler

	owners  map[string]bool
	metrics metrics.Recorder
	logger  *slog.Logger

	// InternalError is the reply for unexpected handler failures.
	InternalError string
}

func NewRouter(owners []string, rec metrics.Recorder, logger *slog.Logger) *Router {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]bool, len(owners))
	for _, id := range owners {
		set[id] = true
	}
	return &Router{
		commands:      make(map[string]Command),
		owners:        set,
		metrics:       rec,
		logger:        logger,
		InternalError: DefaultInternalError,
	}
}

func (r *Router) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range cmds {
		if cmd.Name == "" || cmd.Handler == nil {
			return fmt.Errorf("command %q: name and handler are required", cmd.Name)
		}
		if _, ok := r.commands[cmd.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, cmd.Name)
		}
		r.commands[cmd.Name] = cmd
	}
	return nil
}

// OnDM adds a direct-message handler. Handlers run in registration order
// until one consumes the message.
func (r *Router) OnDM(h DMHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dmHandlers = append(r.dmHandlers, h)
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Router) IsOwner(userID string) bool {
	return r.owners[userID]
}

// Dispatch runs the handler for inv. Owner and guild checks are answered
// here; handler errors are logged, reported to Sentry and answered with
// InternalError. Only a failure to find or answer the command is returned.
func (r *Router) Dispatch(ctx context.Context, inv *Invocation) error {
	r.mu.RLock()
	cmd, ok := r.commands[inv.Command]
	r.mu.RUnlock()
	if !ok {
		r.metrics.CommandHandled(inv.Command, "unknown")
		return fmt.Errorf("%w: %s", ErrUnknownCommand, inv.Command)
	}
	if inv.TraceID == "" {
		inv.TraceID = uuid.New().String()
	}
	inv.ephemeral = cmd.Ephemeral

	logger := r.logger.With(
		"command", inv.Command,
		"trace_id", inv.TraceID,
		"guild_id", inv.GuildID,
		"user_id", inv.User.ID,
	)

	if cmd.OwnerOnly && !r.IsOwner(inv.User.ID) {
		r.metrics.CommandHandled(inv.Command, "forbidden")
		return inv.responder.Send(ctx, notOwnerMessage, true)
	}
	if cmd.GuildOnly && inv.GuildID == "" {
		r.metrics.CommandHandled(inv.Command, "rejected")
		return inv.responder.Send(ctx, guildOnlyMessage, true)
	}

	if cmd.Deferred {
		if err := inv.responder.Defer(ctx, cmd.Ephemeral); err != nil {
			return err
		}
	}

	start := time.Now()
	err := cmd.Handler(ctx, inv)
	if err == nil {
		r.metrics.CommandHandled(inv.Command, "ok")
		logger.Info("command handled", "latency_ms", time.Since(start).Milliseconds())
		return nil
	}

	r.metrics.CommandHandled(inv.Command, "error")
	logger.Error("command failed", "error", err, "latency_ms", time.Since(start).Milliseconds())
	report(err, func(scope *sentry.Scope) {
		scope.SetTag("command", inv.Command)
		scope.SetTag("guild_id", inv.GuildID)
		scope.SetTag("trace_id", inv.TraceID)
		scope.SetUser(sentry.User{ID: inv.User.ID, Username: inv.User.Name})
	})
	return inv.Reply(ctx, r.InternalError)
}

// HandleDM offers a direct message to the registered DM handlers.
func (r *Router) HandleDM(ctx context.Context, user chat.User, content string) bool {
	r.mu.RLock()
	handlers := append([]DMHandler(nil), r.dmHandlers...)
	r.mu.RUnlock()

	for _, h := range handlers {
		handled, err := h(ctx, user, content)
		if err != nil {
			r.logger.Error("dm handler failed", "user_id", user.ID, "error", err)
			report(err, func(scope *sentry.Scope) {
				scope.SetTag("source", "dm")
				scope.SetUser(sentry.User{ID: user.ID, Username: user.Name})
			})
		}
		if handled {
			return true
		}
	}
	return false
}

func report(err error, configure func(scope *sentry.Scope)) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(configure)
	hub.CaptureException(err)
}
