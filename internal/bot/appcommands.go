package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/commands"
)

var optionTypes = map[commands.OptionType]discordgo.ApplicationCommandOptionType{
	commands.OptionString: discordgo.ApplicationCommandOptionString,
	commands.OptionBool:   discordgo.ApplicationCommandOptionBoolean,
	commands.OptionRole:   discordgo.ApplicationCommandOptionRole,
}

// ApplicationCommands converts command descriptions into Discord's format.
// Required options are placed first, as Discord demands.
func ApplicationCommands(cmds []commands.Command) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, cmd := range cmds {
		ac := &discordgo.ApplicationCommand{
			Name:        cmd.Name,
			Description: cmd.Description,
		}
		if cmd.GuildOnly {
			dm := false
			ac.DMPermission = &dm
		}
		if cmd.OwnerOnly {
			// Hidden from regular members; the router still checks owners.
			perms := int64(discordgo.PermissionManageRoles)
			ac.DefaultMemberPermissions = &perms
		}

		var required, optional []*discordgo.ApplicationCommandOption
		for _, opt := range cmd.Options {
			o := &discordgo.ApplicationCommandOption{
				Type:        optionTypes[opt.Type],
				Name:        opt.Name,
				Description: opt.Description,
				Required:    opt.Required,
			}
			if opt.Required {
				required = append(required, o)
			} else {
				optional = append(optional, o)
			}
		}
		ac.Options = append(required, optional...)
		out = append(out, ac)
	}
	return out
}

// invocationOptions resolves the options of an application command.
func invocationOptions(data discordgo.ApplicationCommandInteractionData, guildID string) map[string]commands.Value {
	values := make(map[string]commands.Value, len(data.Options))
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			values[opt.Name] = commands.Value{String: opt.StringValue()}
		case discordgo.ApplicationCommandOptionBoolean:
			values[opt.Name] = commands.Value{Bool: opt.BoolValue()}
		case discordgo.ApplicationCommandOptionRole:
			id, _ := opt.Value.(string)
			role := &chat.Role{ID: id, GuildID: guildID}
			if data.Resolved != nil {
				if r, ok := data.Resolved.Roles[id]; ok && r != nil {
					role.Name = r.Name
					role.Managed = r.Managed
				}
			}
			values[opt.Name] = commands.Value{Role: role}
		}
	}
	return values
}

// interactionUser returns the invoking user for guild and DM interactions.
func interactionUser(i *discordgo.Interaction) chat.User {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return chat.User{ID: i.Member.User.ID, Name: i.Member.User.Username}
	case i.User != nil:
		return chat.User{ID: i.User.ID, Name: i.User.Username}
	default:
		return chat.User{}
	}
}
