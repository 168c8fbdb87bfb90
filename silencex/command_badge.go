package silencex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	badgeSelectCustomID = "hypersquad_select"
	badgeRemoveCustomID = "hypersquad_remove"

	discordAPIBaseURL = "https://discord.com/api/v10"
)

// HypeSquad houses, keyed by the house ID the discord API expects.
const (
	houseBravery    = 1
	houseBrilliance = 2
	houseBalance    = 3
)

var houseNames = map[int]string{
	houseBravery:    "Bravery",
	houseBrilliance: "Brilliance",
	houseBalance:    "Balance",
}

// HypeSquad membership public user flags.
const (
	flagHouseBravery    = 1 << 6
	flagHouseBrilliance = 1 << 7
	flagHouseBalance    = 1 << 8
)

// BadgeUser is the subset of the discord user object the badge command
// needs.
type BadgeUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	PublicFlags int    `json:"public_flags"`
}

// House returns the user's current HypeSquad house ID, or 0 when the
// user has no house badge.
func (u BadgeUser) House() int {
	switch {
	case u.PublicFlags&flagHouseBalance != 0:
		return houseBalance
	case u.PublicFlags&flagHouseBrilliance != 0:
		return houseBrilliance
	case u.PublicFlags&flagHouseBravery != 0:
		return houseBravery
	default:
		return 0
	}
}

// BadgeClient talks to the discord user API on behalf of a user token.
type BadgeClient interface {
	// CurrentUser fetches the user the token belongs to.
	CurrentUser(ctx context.Context, token string) (*BadgeUser, error)

	// SetHouse joins the given HypeSquad house.
	SetHouse(ctx context.Context, token string, houseID int) error

	// RemoveHouse leaves the current HypeSquad house.
	RemoveHouse(ctx context.Context, token string) error
}

type httpBadgeClient struct {
	baseURL    string
	httpClient *http.Client
}

func newBadgeClient(httpClient *http.Client) *httpBadgeClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpBadgeClient{
		baseURL:    discordAPIBaseURL,
		httpClient: httpClient,
	}
}

func (c *httpBadgeClient) CurrentUser(
	ctx context.Context,
	token string,
) (*BadgeUser, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+"/users/@me",
		nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Service: "discord API", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &ValidationError{Message: "Invalid token!"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExternalServiceError{
			Service: "discord API",
			Err:     fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}
	var user BadgeUser
	if err = json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &ExternalServiceError{Service: "discord API", Err: err}
	}
	return &user, nil
}

func (c *httpBadgeClient) SetHouse(
	ctx context.Context,
	token string,
	houseID int,
) error {
	body, err := json.Marshal(map[string]int{"house_id": houseID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/hypesquad/online",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *httpBadgeClient) RemoveHouse(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodDelete,
		c.baseURL+"/hypesquad/online",
		nil,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)
	return c.do(req)
}

func (c *httpBadgeClient) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ExternalServiceError{Service: "discord API", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &ExternalServiceError{
		Service: "discord API",
		Err:     fmt.Errorf("unexpected status: %s", resp.Status),
	}
}

// censorToken masks the middle section of a discord token for display.
// Tokens that don't have the expected three dot-separated sections are
// returned unchanged.
func censorToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	mid := parts[1]
	if len(mid) <= 6 {
		parts[1] = strings.Repeat("*", len(mid))
	} else {
		head := (len(mid) - 6) / 2
		tail := (len(mid) + 6 + 1) / 2
		parts[1] = mid[:head] + "******" + mid[tail:]
	}
	return strings.Join(parts, ".")
}

// commandBadge handles `/badge-hypersquad`: shows the token's current
// HypeSquad badge and lets the invoker switch or remove it through a
// select menu, for as long as the session stays open.
func (x *SilenceX) commandBadge(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	options := discordInteractionOptions(i.ApplicationCommandData().Options)

	tokenOpt, ok := options["token"]
	if !ok {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "token is required"},
		)
		return
	}
	token := strings.TrimSpace(tokenOpt.StringValue())
	if len(strings.Split(token, ".")) != 3 {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "Invalid token format!"},
		)
		return
	}

	badgeUser, err := x.badges.CurrentUser(ctx, token)
	if err != nil {
		x.interactionError(ctx, handler, err)
		return
	}

	if err = x.editBadgeReply(ctx, handler, token, badgeUser); err != nil {
		return
	}

	reply, err := handler.GetResponse(ctx)
	if err != nil {
		return
	}

	collector := x.collectors.collectComponents(
		reply.ID,
		user.ID,
		x.RuntimeConfig().BadgeSessionTimeout.Duration,
		0,
	)

	for ev := range collector.Events() {
		x.handleBadgeAction(ctx, handler, ev, token)
	}

	if collector.State() == CollectorStateExpired {
		content := "⌛ Interaction Timeout"
		components := []discordgo.MessageComponent{}
		if _, editErr := handler.Edit(
			ctx, &discordgo.WebhookEdit{
				Content:    &content,
				Components: &components,
				Embeds:     &[]*discordgo.MessageEmbed{},
			},
		); editErr != nil {
			handler.Logger().WarnContext(
				ctx,
				"error editing expired badge session",
				tint.Err(editErr),
			)
		}
	}
}

// handleBadgeAction applies a single select-menu or remove-button
// action, refreshes the main reply, and reports the result in an
// ephemeral followup.
func (x *SilenceX) handleBadgeAction(
	ctx context.Context,
	handler InteractionHandler,
	ev CollectorEvent,
	token string,
) {
	logger := handler.Logger()

	var err error
	var action string
	switch ev.CustomID {
	case badgeSelectCustomID:
		values := ev.Interaction.MessageComponentData().Values
		if len(values) == 0 {
			return
		}
		houseID, convErr := strconv.Atoi(values[0])
		if convErr != nil || houseNames[houseID] == "" {
			return
		}
		action = fmt.Sprintf("Badge changed to **%s**!", houseNames[houseID])
		err = x.badges.SetHouse(ctx, token, houseID)
	case badgeRemoveCustomID:
		action = "Badge removed!"
		err = x.badges.RemoveHouse(ctx, token)
	default:
		return
	}

	var followupContent string
	if err != nil {
		logger.ErrorContext(ctx, "error updating hypesquad house", tint.Err(err))
		followupContent = "❌ Failed to update your badge. Try again later."
	} else {
		followupContent = "✅ " + action
		badgeUser, fetchErr := x.badges.CurrentUser(ctx, token)
		if fetchErr != nil {
			logger.WarnContext(
				ctx,
				"error refreshing badge state",
				tint.Err(fetchErr),
			)
		} else {
			_ = x.editBadgeReply(ctx, handler, token, badgeUser)
		}
	}

	if _, followErr := ev.Handler.Followup(
		ctx, &discordgo.WebhookParams{
			Content: followupContent,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	); followErr != nil {
		logger.WarnContext(ctx, "error sending badge followup", tint.Err(followErr))
	}
}

// editBadgeReply renders the main badge-session reply: the censored
// token, the account's current badge, and the house controls.
func (x *SilenceX) editBadgeReply(
	ctx context.Context,
	handler InteractionHandler,
	token string,
	badgeUser *BadgeUser,
) error {
	badge := "None"
	if name := houseNames[badgeUser.House()]; name != "" {
		badge = "HypeSquad " + name
	}
	content := fmt.Sprintf(
		"👤 **Account:** %s\n🔑 **Token:** `%s`\n🏠 **Current Badge:** %s",
		badgeUser.Username,
		censorToken(token),
		badge,
	)

	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID:    badgeSelectCustomID,
					Placeholder: "Select a HypeSquad house",
					Options: []discordgo.SelectMenuOption{
						{
							Label:       "Bravery",
							Value:       strconv.Itoa(houseBravery),
							Description: "HypeSquad Bravery",
							Emoji:       &discordgo.ComponentEmoji{Name: "💜"},
						},
						{
							Label:       "Brilliance",
							Value:       strconv.Itoa(houseBrilliance),
							Description: "HypeSquad Brilliance",
							Emoji:       &discordgo.ComponentEmoji{Name: "❤️"},
						},
						{
							Label:       "Balance",
							Value:       strconv.Itoa(houseBalance),
							Description: "HypeSquad Balance",
							Emoji:       &discordgo.ComponentEmoji{Name: "💚"},
						},
					},
				},
			},
		},
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Remove Badge",
					Style:    discordgo.DangerButton,
					CustomID: badgeRemoveCustomID,
				},
			},
		},
	}

	_, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error editing badge reply",
			tint.Err(err),
		)
	}
	return err
}
