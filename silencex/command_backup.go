package silencex

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultBackupTitle       = "Server Backup"
	defaultBackupDescription = "Join the backup server below so you don't " +
		"lose us if anything happens to this one!"
)

// commandBackup handles `/backup`, posting the configured backup-server
// embed. Restricted to members who can manage the guild.
func (x *SilenceX) commandBackup(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	if i.Member == nil {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "This command only works in a server."},
		)
		return
	}
	allowed := i.Member.Permissions&discordgo.PermissionManageServer != 0 ||
		i.Member.Permissions&discordgo.PermissionAdministrator != 0
	if !allowed {
		x.interactionError(
			ctx,
			handler,
			&PermissionError{
				Message: "You need the Manage Server permission to post the backup embed.",
			},
		)
		return
	}

	rc := x.RuntimeConfig()
	title := rc.BackupTitle
	if title == "" {
		title = defaultBackupTitle
	}
	description := rc.BackupDescription
	if description == "" {
		description = defaultBackupDescription
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorBlurple,
	}
	if rc.BackupFooter != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: rc.BackupFooter}
	}

	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		},
	); err != nil {
		handler.Logger().ErrorContext(ctx, "error sending backup embed")
	}
}
