package silencex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// CollectorState represents the lifecycle state of a [Collector].
type CollectorState string

const (
	// CollectorStateAwaitingInput indicates the collector is live and
	// accepting matching interactions.
	CollectorStateAwaitingInput CollectorState = "awaiting_input"
	// CollectorStateCompleted indicates the collector reached its match limit.
	CollectorStateCompleted CollectorState = "completed"
	// CollectorStateExpired indicates the collector's deadline elapsed.
	CollectorStateExpired CollectorState = "expired"
	// CollectorStateCancelled indicates the collector was cancelled by its owner.
	CollectorStateCancelled CollectorState = "cancelled"
)

const (
	wrongUserMessage     = "This is not your interaction!"
	collectorBusyMessage = "I couldn't keep up with that click, try again in a moment!"
)

type collectorKind string

const (
	collectorKindComponent collectorKind = "component"
	collectorKindModal     collectorKind = "modal"
)

// CollectorEvent is a single matched interaction delivered to a
// collector's owner.
type CollectorEvent struct {
	Interaction *discordgo.InteractionCreate
	Handler     InteractionHandler

	// CustomID is the component or modal custom ID that matched.
	CustomID string
}

// Collector gathers component or modal interactions targeted at a
// single message (or modal custom ID), from a single user, until a
// match limit or deadline is reached.
//
// Matched events are delivered on Events(). When the collector reaches
// a terminal state the events channel is closed; call State() to see
// how it ended.
type Collector struct {
	key        string
	kind       collectorKind
	userID     string
	maxMatches int
	matches    int
	state      CollectorState
	events     chan CollectorEvent
	timer      *time.Timer
	registry   *collectorRegistry
	logger     *slog.Logger
	mu         sync.Mutex
}

// Events returns the channel on which matched interactions are
// delivered. The channel is closed when the collector ends.
func (c *Collector) Events() <-chan CollectorEvent {
	return c.events
}

// State returns the collector's current state.
func (c *Collector) State() CollectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel stops the collector. Safe to call multiple times, and after
// the collector has already ended.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CollectorStateAwaitingInput {
		return
	}
	c.state = CollectorStateCancelled
	c.finishLocked()
}

func (c *Collector) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CollectorStateAwaitingInput {
		return
	}
	c.state = CollectorStateExpired
	c.finishLocked()
}

// finishLocked tears down the collector. Callers must hold c.mu and
// have already moved state out of awaiting_input.
func (c *Collector) finishLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.registry.remove(c.key)
	close(c.events)
	c.logger.Info(
		"collector finished",
		"key", c.key,
		"state", c.state,
		"matches", c.matches,
	)
}

// deliver hands a matched interaction to the collector's owner.
// claimed is false if the collector already ended, in which case the
// caller treats the interaction as unclaimed. dropped is true when the
// owner's event buffer was full; the event doesn't count against the
// match limit and the caller is expected to tell the user.
func (c *Collector) deliver(ev CollectorEvent) (claimed, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CollectorStateAwaitingInput {
		return false, false
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("collector event buffer full, dropping", "key", c.key)
		return true, true
	}
	c.matches++
	if c.maxMatches > 0 && c.matches >= c.maxMatches {
		c.state = CollectorStateCompleted
		c.finishLocked()
	}
	return true, false
}

// collectorRegistry routes incoming component and modal interactions to
// the collector awaiting them.
type collectorRegistry struct {
	mu         sync.RWMutex
	collectors map[string]*Collector
	logger     *slog.Logger
}

func newCollectorRegistry(logger *slog.Logger) *collectorRegistry {
	return &collectorRegistry{
		collectors: map[string]*Collector{},
		logger:     logger.With(loggerNameKey, "collectors"),
	}
}

func componentCollectorKey(messageID string) string {
	return fmt.Sprintf("%s:%s", collectorKindComponent, messageID)
}

func modalCollectorKey(customID string) string {
	return fmt.Sprintf("%s:%s", collectorKindModal, customID)
}

func (r *collectorRegistry) add(c *Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.key] = c
}

func (r *collectorRegistry) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collectors, key)
}

func (r *collectorRegistry) get(key string) *Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectors[key]
}

func (r *collectorRegistry) newCollector(
	kind collectorKind,
	key string,
	userID string,
	timeout time.Duration,
	maxMatches int,
) *Collector {
	bufSize := maxMatches
	if bufSize <= 0 {
		bufSize = 16
	}
	c := &Collector{
		key:        key,
		kind:       kind,
		userID:     userID,
		maxMatches: maxMatches,
		state:      CollectorStateAwaitingInput,
		events:     make(chan CollectorEvent, bufSize),
		registry:   r,
		logger:     r.logger,
	}
	c.timer = time.AfterFunc(timeout, c.expire)
	r.add(c)
	r.logger.Info(
		"collector started",
		"key", key,
		"user_id", userID,
		"timeout", timeout,
		"max_matches", maxMatches,
	)
	return c
}

// collectComponents starts a collector for component interactions on
// the given message, restricted to the given user.
func (r *collectorRegistry) collectComponents(
	messageID string,
	userID string,
	timeout time.Duration,
	maxMatches int,
) *Collector {
	return r.newCollector(
		collectorKindComponent,
		componentCollectorKey(messageID),
		userID,
		timeout,
		maxMatches,
	)
}

// collectModal starts a collector for a modal submission with the given
// custom ID, restricted to the given user.
func (r *collectorRegistry) collectModal(
	customID string,
	userID string,
	timeout time.Duration,
) *Collector {
	return r.newCollector(
		collectorKindModal,
		modalCollectorKey(customID),
		userID,
		timeout,
		1,
	)
}

// dispatchComponent routes a component interaction to its collector.
// Matched component interactions are acknowledged with a deferred
// message update before delivery, so owners only ever edit or follow
// up. Interactions from other users are rejected with an ephemeral
// notice and don't count against the match limit. Returns false when no
// live collector claims the interaction.
func (r *collectorRegistry) dispatchComponent(
	ctx context.Context,
	handler InteractionHandler,
) bool {
	i := handler.GetInteraction()
	if i.Message == nil {
		return false
	}
	c := r.get(componentCollectorKey(i.Message.ID))
	if c == nil {
		return false
	}
	u := getDiscordUser(i)
	if u == nil {
		return false
	}
	if u.ID != c.userID {
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: wrongUserMessage,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return true
	}
	if ackErr := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	); ackErr != nil {
		r.logger.ErrorContext(ctx, "error acking component interaction")
	}
	claimed, dropped := c.deliver(
		CollectorEvent{
			Interaction: i,
			Handler:     handler,
			CustomID:    i.MessageComponentData().CustomID,
		},
	)
	if dropped {
		// already acknowledged, so the user gets a followup instead of
		// their click silently vanishing
		if _, followErr := handler.Followup(
			ctx, &discordgo.WebhookParams{
				Content: collectorBusyMessage,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		); followErr != nil {
			r.logger.ErrorContext(
				ctx,
				"error sending busy followup",
				"key", c.key,
			)
		}
	}
	return claimed
}

// dispatchModal routes a modal submission to its collector. Modal
// interactions are delivered un-acknowledged, so the owner can send
// the initial (possibly deferred) response itself. Returns false when
// no live collector claims the submission.
func (r *collectorRegistry) dispatchModal(
	_ context.Context,
	handler InteractionHandler,
) bool {
	i := handler.GetInteraction()
	data := i.ModalSubmitData()
	c := r.get(modalCollectorKey(data.CustomID))
	if c == nil {
		return false
	}
	u := getDiscordUser(i)
	if u == nil || u.ID != c.userID {
		return false
	}
	claimed, dropped := c.deliver(
		CollectorEvent{
			Interaction: i,
			Handler:     handler,
			CustomID:    data.CustomID,
		},
	)
	// modal submissions are un-acked, so a dropped one is reported
	// unclaimed and the caller replies directly
	return claimed && !dropped
}
