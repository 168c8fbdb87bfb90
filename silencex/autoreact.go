package silencex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const autoReactProbeMessage = "Testing emoji..."

// AutoReactRule maps a channel to an emoji the bot reacts with on every
// message sent in that channel.
//
//nolint:lll // struct tags can't be split
type AutoReactRule struct {
	ModelStringID
	GuildID     string `json:"guild_id" gorm:"index;not null;default:null"`
	ChannelID   string `json:"channel_id" gorm:"index;not null;default:null"`
	ChannelName string `json:"channel_name" gorm:"type:string"`
	Emoji       string `json:"emoji" gorm:"not null;default:null"`
	AddedBy     string `json:"added_by" gorm:"type:string"`
	AddedAt     int64  `json:"added_at" gorm:"autoCreateTime:milli"`
}

func (AutoReactRule) TableName() string {
	return "auto_react"
}

// AutoReactRegistry stores auto-react rules and validates new ones
// against the live channel before persisting them.
type AutoReactRegistry struct {
	db      *gorm.DB
	writeDB DBI
	logger  *slog.Logger
}

func newAutoReactRegistry(
	db *gorm.DB,
	writeDB DBI,
	logger *slog.Logger,
) *AutoReactRegistry {
	return &AutoReactRegistry{
		db:      db,
		writeDB: writeDB,
		logger:  logger.With(loggerNameKey, "auto_react"),
	}
}

// Add validates that the bot can actually react with the given emoji in
// the given channel, then persists the rule. Validation sends a probe
// message, reacts to it, and deletes it again. If the reaction fails,
// nothing is persisted and a [ValidationError] is returned.
func (r *AutoReactRegistry) Add(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	channelID string,
	channelName string,
	emoji string,
	addedBy string,
) (*AutoReactRule, error) {
	probe, err := session.ChannelMessageSend(channelID, autoReactProbeMessage)
	if err != nil {
		return nil, &ExternalServiceError{Service: "discord", Err: err}
	}

	reactErr := session.MessageReactionAdd(
		channelID,
		probe.ID,
		reactionEmojiID(emoji),
	)
	if delErr := session.ChannelMessageDelete(channelID, probe.ID); delErr != nil {
		r.logger.WarnContext(
			ctx,
			"unable to delete probe message",
			tint.Err(delErr),
			"channel_id", channelID,
			"message_id", probe.ID,
		)
	}
	if reactErr != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf(
				"I can't react with %s! Make sure it's a valid emoji I have access to.",
				emoji,
			),
		}
	}

	rule := &AutoReactRule{
		ModelStringID: ModelStringID{ID: newRuleID()},
		GuildID:       guildID,
		ChannelID:     channelID,
		ChannelName:   channelName,
		Emoji:         emoji,
		AddedBy:       addedBy,
	}
	if _, err = r.writeDB.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("error saving auto-react rule: %w", err)
	}
	r.logger.InfoContext(
		ctx,
		"added auto-react rule",
		"rule", structToSlogValue(rule),
	)
	return rule, nil
}

// Remove deletes a rule by ID, scoped to the given guild so rules can't
// be removed cross-guild. The deleted rule is returned so callers can
// show what was removed. Returns a [NotFoundError] if no rule matched.
func (r *AutoReactRegistry) Remove(
	ctx context.Context,
	id string,
	guildID string,
) (*AutoReactRule, error) {
	var rule AutoReactRule
	rv := r.db.WithContext(ctx).Where(
		"id = ? AND guild_id = ?", id, guildID,
	).First(&rule)
	if rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "auto-react rule", ID: id}
		}
		return nil, fmt.Errorf("error loading auto-react rule: %w", rv.Error)
	}

	rowsAffected, err := r.writeDB.Delete(
		&AutoReactRule{},
		"id = ? AND guild_id = ?",
		id,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("error deleting auto-react rule: %w", err)
	}
	if rowsAffected == 0 {
		return nil, &NotFoundError{Resource: "auto-react rule", ID: id}
	}
	r.logger.InfoContext(
		ctx,
		"removed auto-react rule",
		"rule", structToSlogValue(&rule),
	)
	return &rule, nil
}

// ListByGuild returns the guild's rules ordered by channel, then by the
// time they were added, so listings group per-channel.
func (r *AutoReactRegistry) ListByGuild(
	ctx context.Context,
	guildID string,
) ([]AutoReactRule, error) {
	var rules []AutoReactRule
	rv := r.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("channel_id, added_at").Find(&rules)
	if rv.Error != nil {
		return nil, fmt.Errorf("error listing auto-react rules: %w", rv.Error)
	}
	return rules, nil
}

// ReactionsFor returns the emoji of every rule targeting the given
// channel, in the order the rules were added.
func (r *AutoReactRegistry) ReactionsFor(
	ctx context.Context,
	channelID string,
) ([]string, error) {
	var emoji []string
	rv := r.db.WithContext(ctx).Model(&AutoReactRule{}).Where(
		"channel_id = ?", channelID,
	).Order("added_at").Pluck("emoji", &emoji)
	if rv.Error != nil {
		return nil, fmt.Errorf("error loading auto-react emoji: %w", rv.Error)
	}
	return emoji, nil
}

// handleMessageCreate reacts to new messages in channels with
// auto-react rules. Bot messages are ignored. A failure reacting with
// one emoji doesn't prevent the remaining emoji from being applied.
func (x *SilenceX) handleMessageCreate(
	_ *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx := context.Background()
	logger := x.logger.With(loggerNameKey, "message_create")

	emoji, err := x.autoReact.ReactionsFor(ctx, m.ChannelID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading auto-react rules", tint.Err(err))
		return
	}
	if len(emoji) == 0 {
		return
	}

	// only messages with reaction work draw from the limiter, so
	// traffic in unconfigured channels can't starve configured ones
	if !x.messageReactLimiter.Allow() {
		logger.Warn(
			"reaction rate limit exceeded, skipping",
			"channel_id", m.ChannelID,
			"message_id", m.ID,
		)
		return
	}

	for _, e := range emoji {
		if reactErr := x.discord.session.MessageReactionAdd(
			m.ChannelID,
			m.ID,
			reactionEmojiID(e),
		); reactErr != nil {
			logger.WarnContext(
				ctx,
				"error auto-reacting",
				tint.Err(reactErr),
				"channel_id", m.ChannelID,
				"message_id", m.ID,
				"emoji", e,
			)
		}
	}
}

// newMessageReactLimiter bounds how many incoming messages per second
// the bot will attempt to auto-react to.
func newMessageReactLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(10), 25)
}
