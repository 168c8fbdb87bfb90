package silencex

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// commandReact handles the `/react` slash command and its
// add/remove/config subcommands. All responses are ephemeral.
func (x *SilenceX) commandReact(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	if !x.canManageReactions(i) {
		x.interactionError(
			ctx,
			handler,
			&PermissionError{
				Message: "You need the Manage Server permission to manage auto-react.",
			},
		)
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "missing subcommand"},
		)
		return
	}

	sub := data.Options[0]
	switch sub.Name {
	case reactSubcommandAdd:
		x.reactAdd(ctx, handler, sub)
	case reactSubcommandRemove:
		x.reactRemove(ctx, handler, sub)
	case reactSubcommandConfig:
		x.reactConfig(ctx, handler)
	default:
		x.interactionError(
			ctx,
			handler,
			&ValidationError{
				Message: fmt.Sprintf("unknown subcommand: %s", sub.Name),
			},
		)
	}
}

// canManageReactions allows members with Manage Server (or
// Administrator), plus any user listed in the runtime config's
// AdminUserIDs, so operators can manage rules without a guild role.
func (x *SilenceX) canManageReactions(i *discordgo.InteractionCreate) bool {
	if u := getDiscordUser(i); u != nil && x.RuntimeConfig().IsBotAdmin(u.ID) {
		return true
	}
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&discordgo.PermissionManageServer != 0 ||
		i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func (x *SilenceX) reactAdd(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(sub.Options)

	channelOpt, ok := options["channel"]
	if !ok {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "channel is required"},
		)
		return
	}
	emojiOpt, ok := options["emoji"]
	if !ok {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "emoji is required"},
		)
		return
	}

	channel := channelOpt.ChannelValue(nil)
	channelName := channel.Name
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		if rc, found := resolved.Channels[channel.ID]; found {
			channelName = rc.Name
		}
	}

	rule, err := x.autoReact.Add(
		ctx,
		x.discord.session,
		i.GuildID,
		channel.ID,
		channelName,
		strings.TrimSpace(emojiOpt.StringValue()),
		getDiscordUser(i).ID,
	)
	if err != nil {
		x.interactionError(ctx, handler, err)
		return
	}

	content := fmt.Sprintf(
		"✅ Auto-react added!\n**Channel:** <#%s>\n**Emoji:** %s\n**ID:** `%s`",
		rule.ChannelID,
		rule.Emoji,
		rule.ID,
	)
	x.editInteractionReply(ctx, handler, "Auto-React Added", content, colorGreen)
}

func (x *SilenceX) reactRemove(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(sub.Options)

	idOpt, ok := options["id"]
	if !ok {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "id is required"},
		)
		return
	}
	ruleID := strings.TrimSpace(idOpt.StringValue())

	rule, err := x.autoReact.Remove(ctx, ruleID, i.GuildID)
	if err != nil {
		x.interactionError(ctx, handler, err)
		return
	}

	content := fmt.Sprintf(
		"🗑️ Auto-react removed!\n**Channel:** <#%s>\n**Emoji:** %s\n**ID:** `%s`",
		rule.ChannelID,
		rule.Emoji,
		rule.ID,
	)
	x.editInteractionReply(ctx, handler, "Auto-React Removed", content, colorGreen)
}

func (x *SilenceX) reactConfig(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()

	rules, err := x.autoReact.ListByGuild(ctx, i.GuildID)
	if err != nil {
		x.interactionError(ctx, handler, err)
		return
	}
	if len(rules) == 0 {
		x.editInteractionReply(
			ctx,
			handler,
			"Auto-React Config",
			"No auto-react configured in this server.",
			colorBlurple,
		)
		return
	}

	var b strings.Builder
	var currentChannel string
	for _, rule := range rules {
		if rule.ChannelID != currentChannel {
			if currentChannel != "" {
				b.WriteString("\n")
			}
			currentChannel = rule.ChannelID
			b.WriteString(fmt.Sprintf("**<#%s>**\n", rule.ChannelID))
		}
		b.WriteString(
			fmt.Sprintf(
				"`%s` %s (added by <@%s>)\n",
				rule.ID,
				rule.Emoji,
				rule.AddedBy,
			),
		)
	}

	x.editInteractionReply(
		ctx,
		handler,
		"Auto-React Config",
		truncate(b.String(), discordMaxMessageLength),
		colorBlurple,
	)
}

// editInteractionReply edits the deferred interaction response, using
// an embed or plain content depending on the runtime config.
func (x *SilenceX) editInteractionReply(
	ctx context.Context,
	handler InteractionHandler,
	title string,
	content string,
	color int,
) {
	var edit *discordgo.WebhookEdit
	if x.RuntimeConfig().ComponentsV2 {
		edit = &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{
				{
					Title:       title,
					Description: content,
					Color:       color,
				},
			},
		}
	} else {
		edit = &discordgo.WebhookEdit{Content: &content}
	}
	if _, err := handler.Edit(ctx, edit); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error editing interaction reply",
			tint.Err(err),
		)
	}
}
