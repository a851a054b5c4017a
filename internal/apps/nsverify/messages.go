package nsverify

import "fmt"

const (
	msgCheckDMs        = "Alrighty! Please check your DMs"
	msgAlreadyLinked   = "That nation has a character sheet already, silly!"
	msgNationUnknown   = "Hmm, I couldn't find `%s` on any of my maps. Did you spell it right?"
	msgDMsClosed       = "I couldn't DM you! Please let me send you direct messages and try again."
	msgNoPending       = "You don't have a verification in progress! Use `/verify_nation` first."
	msgInvalidCode     = "Oh no, you didn't role high enough it seems. `%s` isn't the right code!"
	msgServiceDown     = "NationStates isn't answering me right now. Try again in a little bit!"
	msgSavingSheet     = "Thanks for the character sheet! I'll go ahead and put you in my campaign binder..."
	msgGrantingRoles   = "There we go! I'll give you roles now..."
	msgRolesGranted    = "Done! I've given you all roles you can have!"
	msgNoRolesToGive   = "I can't give you any roles right now. Thanks for the charactersheet though!"
	msgNoSheet         = "Oh I don't have the charactersheet for %s..."
	msgUnverified      = "I've removed your character sheet from my campaign notes."
	msgRegionLinked    = "The region has been registered to this server along with the roles!"
	msgRegionAdded     = "I've added that world to my maps!"
	msgRegionUnknown   = "I couldn't find that region..."
	msgRegionUnlinked  = "I've removed this region from my maps!"
	msgRegionOrGuild   = "I couldn't find that region or guild..."
	msgInvalidGuild    = "Looks like you don't have a region associated with this server!"
	msgInvalidRole     = "Oh no, I rolled a Nat 1! I can't currently add that role!"
	msgInvalidMeaning  = "Oh no, I've lost my notes! I can't currently add roles!"
	msgRoleOverwrite   = "Unfortunately that would overwrite a role. Use `/link_roles` with overwrite set to True"
	msgNoRolesGiven    = "I don't know why you're trying to add roles without giving me any..."
	msgBothRoles       = "A Natural 20, a critical success! I've obtained the mythical +1 roles of %s and %s!"
	msgOneRole         = "Looks like I found the mythical role of %s...now to find the other piece."
	msgRolesUnlinked   = "I've gone ahead and removed that role from my notes!"
	msgNoRolesToUnlink = "You didn't give me any valid roles to remove from notes! Double check them and try again."
	expiredMessage     = "Oh, you didn't want to verify? That's fine. If you change your mind just `/verify_nation` again!"
)

func instructions(code, url string) string {
	return fmt.Sprintf("Hi! To prove you own that nation, set its motto to this code: `%s`\n"+
		"You can change it here: %s\n"+
		"This code does not give anyone access to your nation, it only shows me that you can edit it. "+
		"Once it's saved, reply to me with the code or use `/verify_nation` again with the code. "+
		"You have a little while before I put my dice away!", code, url)
}

func roleMention(id string) string {
	return "<@&" + id + ">"
}
