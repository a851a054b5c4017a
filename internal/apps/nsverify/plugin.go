package nsverify

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sunsreach/nerris/internal/apps"
	"github.com/sunsreach/nerris/internal/commands"
)

// Plugin implements apps.Plugin for nation verification and role binding.
type Plugin struct {
	verifier *Verifier
	attempts *attemptRepo
}

// New creates a new nsverify Plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) ID() string { return "nsverify" }

func (p *Plugin) Models() []interface{} {
	return []interface{}{
		&VerificationAttempt{},
	}
}

func (p *Plugin) RegisterCommands(router *commands.Router, deps apps.Deps) error {
	p.attempts = newAttemptRepo(deps.DB)
	p.verifier = NewVerifier(VerifierOptions{
		Nations:   deps.Nations,
		Accounts:  deps.Store,
		Messenger: deps.Chat,
		Attempts:  p.attempts,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
		Timeout:   deps.Config.VerifyTimeout,
	})
	handler := NewHandler(p.verifier, deps.Store, deps.Roles, deps.Nations, deps.Chat, deps.Logger)

	router.OnDM(handler.HandleDM)
	return router.Register(Commands(handler)...)
}

// Commands describes the slash commands served by h.
func Commands(h *Handler) []commands.Command {
	verifiedRole := commands.Option{Name: "verified_role", Description: "Role for verified nations", Type: commands.OptionRole}
	residentRole := commands.Option{Name: "resident_role", Description: "Role for residents of the linked regions", Type: commands.OptionRole}

	return []commands.Command{
		{
			Name:        "verify_nation",
			Description: "Verify that you own a NationStates nation",
			Options: []commands.Option{
				{Name: "nation", Description: "Your nation's name", Type: commands.OptionString, Required: true},
				{Name: "code", Description: "The code I sent you, once it is in your motto", Type: commands.OptionString},
			},
			Ephemeral: true,
			Deferred:  true,
			Handler:   h.VerifyNation,
		},
		{
			Name:        "unverify_nation",
			Description: "Remove a verified nation from your account",
			Options: []commands.Option{
				{Name: "nation_name", Description: "The nation to remove", Type: commands.OptionString, Required: true},
			},
			Ephemeral: true,
			Deferred:  true,
			Handler:   h.UnverifyNation,
		},
		{
			Name:        "link_region",
			Description: "Link a NationStates region to this server",
			Options: []commands.Option{
				{Name: "region_name", Description: "The region to link", Type: commands.OptionString, Required: true},
				verifiedRole,
				residentRole,
			},
			OwnerOnly: true,
			GuildOnly: true,
			Deferred:  true,
			Handler:   h.LinkRegion,
		},
		{
			Name:        "unlink_region",
			Description: "Unlink a NationStates region from this server",
			Options: []commands.Option{
				{Name: "region_name", Description: "The region to unlink", Type: commands.OptionString, Required: true},
			},
			OwnerOnly: true,
			GuildOnly: true,
			Deferred:  true,
			Handler:   h.UnlinkRegion,
		},
		{
			Name:        "link_roles",
			Description: "Bind the verified and resident roles of this server",
			Options: []commands.Option{
				verifiedRole,
				residentRole,
				{Name: "overwrite", Description: "Replace roles that are already bound", Type: commands.OptionBool},
			},
			OwnerOnly: true,
			GuildOnly: true,
			Deferred:  true,
			Handler:   h.LinkRoles,
		},
		{
			Name:        "unlink_roles",
			Description: "Unbind roles of this server",
			Options: []commands.Option{
				verifiedRole,
				residentRole,
				{Name: "remove", Description: "Also take the roles away from members (default true)", Type: commands.OptionBool},
			},
			OwnerOnly: true,
			GuildOnly: true,
			Deferred:  true,
			Handler:   h.UnlinkRoles,
		},
	}
}

// RegisterAdminRoutes exposes the handshake state to operators.
func (p *Plugin) RegisterAdminRoutes(router fiber.Router) {
	router.Get("/verifications", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		recent, err := p.attempts.Recent(c.UserContext(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": true, "message": "Failed to load verification attempts",
			})
		}
		counts, err := p.attempts.OutcomeCounts(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": true, "message": "Failed to count verification attempts",
			})
		}
		return c.JSON(fiber.Map{
			"pending":  p.verifier.PendingCount(),
			"outcomes": counts,
			"recent":   recent,
		})
	})
}

// PendingCount reports open handshakes; zero before commands are registered.
func (p *Plugin) PendingCount() int {
	if p.verifier == nil {
		return 0
	}
	return p.verifier.PendingCount()
}

func (p *Plugin) Close() {
	if p.verifier != nil {
		p.verifier.Close()
	}
}
