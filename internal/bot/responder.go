package bot

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/models"
)

// interactionResponder answers one interaction: the first Send becomes the
// interaction response (or replaces the deferred placeholder), later ones
// become follow-up messages.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu        sync.Mutex
	deferred  bool
	responded bool
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (r *interactionResponder) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred || r.responded {
		return nil
	}
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return wrap("defer interaction", err)
	}
	r.deferred = true
	return nil
}

func (r *interactionResponder) Send(ctx context.Context, content string, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch {
	case !r.responded && !r.deferred:
		err = r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: content, Flags: flags(ephemeral)},
		}, discordgo.WithContext(ctx))
	case !r.responded:
		_, err = r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content: &content,
		}, discordgo.WithContext(ctx))
	default:
		_, err = r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: content,
			Flags:   flags(ephemeral),
		}, discordgo.WithContext(ctx))
	}
	if err != nil {
		return wrap("reply", err)
	}
	r.responded = true
	return nil
}

func wrap(op string, err error) error {
	status := 0
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	return &models.ExternalServiceError{Service: chat.ServiceDiscord, Op: op, StatusCode: status, Err: err}
}
