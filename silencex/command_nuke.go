package silencex

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	nukeConfirmCustomID = "nuke_confirm"
	nukeCancelCustomID  = "nuke_cancel"
)

// commandNuke handles `/nuke`. The target channel is cloned, the
// original deleted, and the clone moved into the original's position.
// The invoker has to press a confirmation button first.
func (x *SilenceX) commandNuke(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)

	if i.Member == nil ||
		i.Member.Permissions&discordgo.PermissionAdministrator == 0 {
		x.interactionError(
			ctx,
			handler,
			&PermissionError{
				Message: "You need the Administrator permission to nuke channels.",
			},
		)
		return
	}

	options := discordInteractionOptions(i.ApplicationCommandData().Options)
	targetChannelID := i.ChannelID
	if channelOpt, ok := options["channel"]; ok {
		targetChannelID = channelOpt.ChannelValue(nil).ID
	}
	showMsg := true
	if showOpt, ok := options["show_msg"]; ok {
		showMsg = showOpt.BoolValue()
	}

	content := fmt.Sprintf(
		"⚠️ This will **delete and recreate** <#%s>, wiping its entire "+
			"message history. Are you sure?",
		targetChannelID,
	)
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "💣 Continue",
					Style:    discordgo.DangerButton,
					CustomID: nukeConfirmCustomID,
				},
				discordgo.Button{
					Label:    "❌ Cancel",
					Style:    discordgo.SecondaryButton,
					CustomID: nukeCancelCustomID,
				},
			},
		},
	}
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error sending nuke confirmation",
			tint.Err(err),
		)
		return
	}

	reply, err := handler.GetResponse(ctx)
	if err != nil {
		return
	}

	collector := x.collectors.collectComponents(
		reply.ID,
		user.ID,
		x.RuntimeConfig().NukeConfirmTimeout.Duration,
		1,
	)

	var confirmed bool
	for ev := range collector.Events() {
		if ev.CustomID == nukeConfirmCustomID {
			confirmed = true
		}
	}

	switch {
	case collector.State() == CollectorStateExpired:
		x.clearInteractionButtons(ctx, handler, "⌛ Timeout - nuke cancelled.")
	case !confirmed:
		x.clearInteractionButtons(ctx, handler, "❌ Nuke cancelled.")
	default:
		x.nukeChannel(ctx, handler, targetChannelID, user, showMsg)
	}
}

// nukeChannel clones the target channel, restores its position, deletes
// the original, and optionally announces the nuke in the new channel.
// A failure restoring the position is not fatal. Failures before the
// original channel is deleted leave it intact and report the error.
func (x *SilenceX) nukeChannel(
	ctx context.Context,
	handler InteractionHandler,
	channelID string,
	user *discordgo.User,
	showMsg bool,
) {
	logger := handler.Logger()
	session := x.discord.session

	channel, err := session.Channel(channelID)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching channel", tint.Err(err))
		x.clearInteractionButtons(
			ctx,
			handler,
			"❌ Failed to nuke the channel - I couldn't fetch it.",
		)
		return
	}

	newChannel, err := session.GuildChannelCreateComplex(
		channel.GuildID,
		discordgo.GuildChannelCreateData{
			Name:                 channel.Name,
			Type:                 channel.Type,
			Topic:                channel.Topic,
			NSFW:                 channel.NSFW,
			RateLimitPerUser:     channel.RateLimitPerUser,
			PermissionOverwrites: channel.PermissionOverwrites,
			ParentID:             channel.ParentID,
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error cloning channel", tint.Err(err))
		x.clearInteractionButtons(
			ctx,
			handler,
			"❌ Failed to nuke the channel - I couldn't recreate it.",
		)
		return
	}

	position := channel.Position
	if _, posErr := session.ChannelEditComplex(
		newChannel.ID,
		&discordgo.ChannelEdit{Position: &position},
	); posErr != nil {
		logger.WarnContext(
			ctx,
			"unable to restore channel position",
			tint.Err(posErr),
			"channel_id", newChannel.ID,
		)
	}

	if _, err = session.ChannelDelete(channelID); err != nil {
		logger.ErrorContext(ctx, "error deleting channel", tint.Err(err))
		x.clearInteractionButtons(
			ctx,
			handler,
			"❌ Failed to delete the original channel.",
		)
		return
	}

	x.statNukes.Add(1)
	logger.InfoContext(
		ctx,
		"nuked channel",
		"old_channel_id", channelID,
		"new_channel_id", newChannel.ID,
		"user_id", user.ID,
	)

	if showMsg {
		if _, sendErr := session.ChannelMessageSendComplex(
			newChannel.ID,
			&discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title: "💣 Channel Nuked",
						Description: fmt.Sprintf(
							"Channel nuked by `%s`", user.String(),
						),
						Color: colorRed,
					},
				},
			},
		); sendErr != nil {
			logger.WarnContext(
				ctx,
				"unable to send nuke announcement",
				tint.Err(sendErr),
				"channel_id", newChannel.ID,
			)
		}
	}

	// If the nuked channel hosted the interaction itself, this edit can
	// fail - the webhook died with the channel.
	x.clearInteractionButtons(
		ctx,
		handler,
		fmt.Sprintf("✅ Channel nuked! New channel: <#%s>", newChannel.ID),
	)
}

// clearInteractionButtons edits the interaction reply with the given
// message and strips any components from it.
func (x *SilenceX) clearInteractionButtons(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	components := []discordgo.MessageComponent{}
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	); err != nil {
		handler.Logger().WarnContext(
			ctx,
			"error clearing interaction buttons",
			tint.Err(err),
		)
	}
}
