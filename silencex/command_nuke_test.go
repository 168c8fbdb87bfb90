package silencex

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelOption(name, channelID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionChannel,
		Value: channelID,
	}
}

func newNukeBot(t testing.TB) (*SilenceX, *recordingDiscordSession) {
	t.Helper()
	bot := newLightBot(t)
	session := newRecordingDiscordSession()
	bot.discord = &Discord{session: session}
	return bot, session
}

func TestCommandNuke_RequiresAdministrator(t *testing.T) {
	t.Parallel()
	bot, session := newNukeBot(t)
	ctx := context.Background()

	user := newDiscordUser(t)

	// outside a guild there is no member to check
	dmHandler := newStubInteractionHandler(t)
	dmHandler.GatewayHandler.interaction = newSlashInteraction(
		t, user, "", DiscordSlashCommandNuke,
	)
	bot.commandNuke(ctx, dmHandler)
	assert.Contains(t, editText(lastEdit(t, dmHandler)), "Administrator")

	// a member without the Administrator permission is rejected
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = newGuildSlashInteraction(
		t, user, discordgo.PermissionManageMessages, DiscordSlashCommandNuke,
	)
	bot.commandNuke(ctx, handler)
	assert.Contains(t, editText(lastEdit(t, handler)), "Administrator")

	assert.Empty(t, session.channelsDeleted)
	assert.Equal(t, int64(2), bot.statErrors.Load())
}

func TestCommandNuke_Confirmed(t *testing.T) {
	t.Parallel()
	bot, session := newNukeBot(t)
	ctx := context.Background()

	user := newDiscordUser(t)
	interaction := newGuildSlashInteraction(
		t, user, discordgo.PermissionAdministrator, DiscordSlashCommandNuke,
	)
	interaction.ID = "nuke-confirmed"
	interaction.ChannelID = "channel-1"
	handler := newBotStubHandler(t, bot, interaction)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.commandNuke(ctx, handler)
	}()

	confirm := <-handler.callEdit
	content := stringPointerValue(confirm.WebhookEdit.Content)
	assert.Contains(t, content, "delete and recreate")
	assert.Contains(t, content, "<#channel-1>")
	require.NotNil(t, confirm.WebhookEdit.Components)

	waitForCollector(t, bot, componentCollectorKey("reply-nuke-confirmed"))

	confirmHandler := newStubInteractionHandler(t)
	confirmHandler.GatewayHandler.interaction = newComponentInteraction(
		t, user, "reply-nuke-confirmed", nukeConfirmCustomID,
	)
	require.True(t, bot.collectors.dispatchComponent(ctx, confirmHandler))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nuke did not finish")
	}

	<-session.channelsCreated
	deleted := <-session.channelsDeleted
	assert.Equal(t, "channel-1", deleted)

	// the announcement goes to the recreated channel
	announcement := <-session.dmsSent
	assert.Equal(t, "new-", announcement.ChannelID)

	assert.Contains(t, editText(lastEdit(t, handler)), "Channel nuked!")
	assert.Equal(t, int64(1), bot.statNukes.Load())
}

func TestCommandNuke_Cancelled(t *testing.T) {
	t.Parallel()
	bot, session := newNukeBot(t)
	ctx := context.Background()

	user := newDiscordUser(t)
	interaction := newGuildSlashInteraction(
		t, user, discordgo.PermissionAdministrator, DiscordSlashCommandNuke,
		channelOption("channel", "channel-2"),
		boolOption("show_msg", false),
	)
	interaction.ID = "nuke-cancelled"
	handler := newBotStubHandler(t, bot, interaction)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.commandNuke(ctx, handler)
	}()

	confirm := <-handler.callEdit
	assert.Contains(
		t,
		stringPointerValue(confirm.WebhookEdit.Content),
		"<#channel-2>",
	)

	waitForCollector(t, bot, componentCollectorKey("reply-nuke-cancelled"))

	cancelHandler := newStubInteractionHandler(t)
	cancelHandler.GatewayHandler.interaction = newComponentInteraction(
		t, user, "reply-nuke-cancelled", nukeCancelCustomID,
	)
	require.True(t, bot.collectors.dispatchComponent(ctx, cancelHandler))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nuke did not finish")
	}

	assert.Contains(t, editText(lastEdit(t, handler)), "Nuke cancelled")
	assert.Empty(t, session.channelsDeleted)
	assert.Equal(t, int64(0), bot.statNukes.Load())
}

func TestCommandNuke_Timeout(t *testing.T) {
	t.Parallel()
	bot, session := newNukeBot(t)
	bot.runtimeConfig.NukeConfirmTimeout = Duration{20 * time.Millisecond}
	ctx := context.Background()

	user := newDiscordUser(t)
	interaction := newGuildSlashInteraction(
		t, user, discordgo.PermissionAdministrator, DiscordSlashCommandNuke,
	)
	interaction.ChannelID = "channel-1"
	handler := newBotStubHandler(t, bot, interaction)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.commandNuke(ctx, handler)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nuke confirmation did not time out")
	}

	assert.Contains(t, editText(lastEdit(t, handler)), "Timeout")
	assert.Empty(t, session.channelsDeleted)
}
