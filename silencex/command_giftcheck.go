package silencex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	nitroCheckerModalPrefix = "nitro_checker_modal"

	giftCheckResultsFilename = "nitro-checker-results.json"
)

// giftCodePattern matches bare gift codes and full gift URLs. The first
// group captures the code from a URL, the second a bare code.
var giftCodePattern = regexp.MustCompile(
	`(?:discord\.gift|discordapp\.com/gifts)/([a-zA-Z0-9]+)|([a-zA-Z0-9]{16,})`,
)

// GiftStatus classifies the outcome of checking a single gift code.
type GiftStatus string

const (
	GiftStatusValid       GiftStatus = "valid"
	GiftStatusInvalid     GiftStatus = "invalid"
	GiftStatusRateLimited GiftStatus = "rate_limited"
	GiftStatusError       GiftStatus = "error"
)

// GiftCheckResult is the outcome of checking one gift code.
type GiftCheckResult struct {
	Code     string     `json:"code"`
	Status   GiftStatus `json:"status"`
	Type     string     `json:"type,omitempty"`
	Interval string     `json:"interval,omitempty"`
	Claimed  bool       `json:"claimed,omitempty"`
	Uses     int        `json:"uses,omitempty"`
	MaxUses  int        `json:"max_uses,omitempty"`

	// ExpiresInHours is how long the gift remains redeemable.
	ExpiresInHours int `json:"expires_in_hours,omitempty"`
}

// GiftCheckClient validates gift codes against the local checker service.
type GiftCheckClient interface {
	Check(ctx context.Context, port int, code string) (*GiftCheckResult, error)
}

type httpGiftCheckClient struct {
	host       string
	httpClient *http.Client
}

func newGiftCheckClient(config *GiftCheckConfig) *httpGiftCheckClient {
	return &httpGiftCheckClient{
		host: config.Host,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// giftCheckResponse is the checker service's payload for a valid code.
type giftCheckResponse struct {
	GiftStyle        string `json:"gift_style"`
	SubscriptionPlan struct {
		Name     string `json:"name"`
		Interval int    `json:"interval"`
	} `json:"subscription_plan"`
	Redeemed  bool   `json:"redeemed"`
	Uses      int    `json:"uses"`
	MaxUses   int    `json:"max_uses"`
	ExpiresAt string `json:"expires_at"`
}

func (c *httpGiftCheckClient) Check(
	ctx context.Context,
	port int,
	code string,
) (*GiftCheckResult, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s:%d/check", c.host, port),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Service: "gift checker", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	result := &GiftCheckResult{Code: code}
	switch resp.StatusCode {
	case http.StatusOK:
		var payload giftCheckResponse
		if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, &ExternalServiceError{Service: "gift checker", Err: err}
		}
		result.Status = GiftStatusValid
		result.Type = humanizeGiftType(payload.SubscriptionPlan.Name)
		result.Interval = humanizeGiftInterval(payload.SubscriptionPlan.Interval)
		result.Claimed = payload.Redeemed || payload.Uses >= payload.MaxUses
		result.Uses = payload.Uses
		result.MaxUses = payload.MaxUses
		if payload.ExpiresAt != "" {
			if expires, parseErr := time.Parse(
				time.RFC3339, payload.ExpiresAt,
			); parseErr == nil {
				result.ExpiresInHours = int(time.Until(expires).Hours())
			}
		}
	case http.StatusNotFound:
		result.Status = GiftStatusInvalid
	case http.StatusTooManyRequests:
		result.Status = GiftStatusRateLimited
	default:
		result.Status = GiftStatusError
	}
	return result, nil
}

func humanizeGiftType(planName string) string {
	lower := strings.ToLower(planName)
	switch {
	case strings.Contains(lower, "basic"):
		return "NITRO BASIC"
	case strings.Contains(lower, "classic"):
		return "NITRO CLASSIC"
	default:
		return "NITRO BOOST"
	}
}

func humanizeGiftInterval(months int) string {
	switch months {
	case 12:
		return "YEARLY"
	default:
		return "MONTHLY"
	}
}

// extractGiftCodes pulls gift codes out of free-form text, preserving
// first-seen order and dropping duplicates. Returns the unique codes
// and how many duplicates were discarded.
func extractGiftCodes(text string) (codes []string, duplicates int) {
	seen := map[string]bool{}
	for _, match := range giftCodePattern.FindAllStringSubmatch(text, -1) {
		code := match[1]
		if code == "" {
			code = match[2]
		}
		if code == "" {
			continue
		}
		if seen[code] {
			duplicates++
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, duplicates
}

// maskCode hides the middle of a gift code for display. Codes of eight
// characters or fewer aren't worth masking.
func maskCode(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:5] + "••••••" + code[len(code)-5:]
}

// giftCheckSummary aggregates per-batch counters for the results
// attachment.
type giftCheckSummary struct {
	Total      int `json:"total"`
	Unique     int `json:"unique"`
	Duplicates int `json:"duplicates"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Claimed    int `json:"claimed"`
	NitroBoost int `json:"nitro_boost"`
	NitroBasic int `json:"nitro_basic"`
	Monthly    int `json:"monthly"`
	Yearly     int `json:"yearly"`
}

// commandGiftCheck handles `/checker-nitro`: opens a modal collecting
// up to three blocks of gift codes, checks each unique code against the
// local checker service, and delivers the results with a JSON summary
// attachment, either in DM or in the channel.
func (x *SilenceX) commandGiftCheck(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	options := discordInteractionOptions(i.ApplicationCommandData().Options)

	sendInDM := true
	if dmOpt, ok := options["send_in_dm"]; ok {
		sendInDM = dmOpt.BoolValue()
	}

	rc := x.RuntimeConfig()
	modalCustomID := fmt.Sprintf("%s:%s", nitroCheckerModalPrefix, i.ID)

	if err := handler.Respond(
		ctx,
		giftCheckModalResponse(modalCustomID),
	); err != nil {
		return
	}

	collector := x.collectors.collectModal(
		modalCustomID,
		user.ID,
		rc.ModalTimeout.Duration,
	)

	var submission *CollectorEvent
	for ev := range collector.Events() {
		ev := ev
		submission = &ev
	}
	if submission == nil {
		// Modal dismissed or timed out. There's nothing to clean up -
		// discord discards the modal client-side.
		return
	}

	x.runGiftCheck(ctx, submission.Handler, sendInDM)
}

func giftCheckModalResponse(customID string) *discordgo.InteractionResponse {
	codeInput := func(n int, required bool) discordgo.MessageComponent {
		minLength := 0
		if required {
			minLength = 10
		}
		return discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    fmt.Sprintf("gift_codes_%d", n),
					Label:       fmt.Sprintf("Gift codes (%d)", n),
					Style:       discordgo.TextInputParagraph,
					Placeholder: "Paste gift codes or links, one per line",
					Required:    required,
					MinLength:   minLength,
					MaxLength:   4000,
				},
			},
		}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    "Nitro Gift Code Checker",
			Components: []discordgo.MessageComponent{
				codeInput(1, true),
				codeInput(2, false),
				codeInput(3, false),
			},
		},
	}
}

// runGiftCheck processes a submitted modal: extracts and checks the
// codes, then delivers results. The modal handler is un-acknowledged on
// entry, so the deferred reply here is the modal's initial response.
func (x *SilenceX) runGiftCheck(
	ctx context.Context,
	handler InteractionHandler,
	sendInDM bool,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	logger := handler.Logger()
	rc := x.RuntimeConfig()

	var ackFlags discordgo.MessageFlags
	if rc.GiftCheckEphemeral {
		ackFlags = discordgo.MessageFlagsEphemeral
	}
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: ackFlags},
		},
	); err != nil {
		return
	}

	var text strings.Builder
	for _, row := range i.ModalSubmitData().Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			if input, isInput := component.(*discordgo.TextInput); isInput {
				text.WriteString(input.Value)
				text.WriteString("\n")
			}
		}
	}

	codes, duplicates := extractGiftCodes(text.String())
	if len(codes) == 0 {
		x.editInteractionReply(
			ctx,
			handler,
			"Nitro Checker",
			"❌ No valid gift codes found.",
			colorRed,
		)
		return
	}
	maxCodes := rc.GiftCheckMaxCodes
	if len(codes) > maxCodes {
		x.editInteractionReply(
			ctx,
			handler,
			"Nitro Checker",
			fmt.Sprintf(
				"❌ Too many codes! Found %d unique codes, the maximum is %d.",
				len(codes),
				maxCodes,
			),
			colorRed,
		)
		return
	}

	summary := giftCheckSummary{
		Total:      len(codes) + duplicates,
		Unique:     len(codes),
		Duplicates: duplicates,
	}
	results := make([]*GiftCheckResult, 0, len(codes))
	for _, code := range codes {
		result, err := x.giftChecks.Check(ctx, rc.GiftCheckAPIPort, code)
		if err != nil {
			logger.WarnContext(
				ctx,
				"error checking gift code",
				tint.Err(err),
				"code", maskCode(code),
			)
			result = &GiftCheckResult{Code: code, Status: GiftStatusError}
		}
		switch result.Status {
		case GiftStatusValid:
			summary.Valid++
			if result.Claimed {
				summary.Claimed++
			}
			switch result.Type {
			case "NITRO BASIC":
				summary.NitroBasic++
			case "NITRO BOOST":
				summary.NitroBoost++
			}
			switch result.Interval {
			case "MONTHLY":
				summary.Monthly++
			case "YEARLY":
				summary.Yearly++
			}
		case GiftStatusInvalid:
			summary.Invalid++
		}
		results = append(results, result)
	}
	x.statGiftChecks.Add(int64(len(codes)))

	content := renderGiftCheckResults(summary, results)
	attachment, err := json.MarshalIndent(
		map[string]any{
			"summary": summary,
			"results": results,
		},
		"",
		"  ",
	)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling results", tint.Err(err))
	}

	if sendInDM {
		x.sendGiftCheckDM(ctx, handler, user.ID, content, attachment)
		return
	}

	files := []*discordgo.File{
		{
			Name:        giftCheckResultsFilename,
			ContentType: "application/json",
			Reader:      bytes.NewReader(attachment),
		},
	}
	if _, err = handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Content: &content,
			Files:   files,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending checker results", tint.Err(err))
	}
}

func (x *SilenceX) sendGiftCheckDM(
	ctx context.Context,
	handler InteractionHandler,
	userID string,
	content string,
	attachment []byte,
) {
	logger := handler.Logger()
	session := x.discord.session

	dm, err := session.UserChannelCreate(userID)
	if err == nil {
		_, err = session.ChannelMessageSendComplex(
			dm.ID,
			&discordgo.MessageSend{
				Content: content,
				Files: []*discordgo.File{
					{
						Name:        giftCheckResultsFilename,
						ContentType: "application/json",
						Reader:      bytes.NewReader(attachment),
					},
				},
			},
		)
	}
	if err != nil {
		logger.WarnContext(ctx, "unable to DM checker results", tint.Err(err))
		x.editInteractionReply(
			ctx,
			handler,
			"Nitro Checker",
			"❌ I couldn't DM you! Check your privacy settings, "+
				"or re-run with `send_in_dm: False`.",
			colorRed,
		)
		return
	}
	x.editInteractionReply(
		ctx,
		handler,
		"Nitro Checker",
		"✅ Results sent to your DMs!",
		colorGreen,
	)
}

// renderGiftCheckResults builds the human-readable results message,
// truncated to fit in a single discord message.
func renderGiftCheckResults(
	summary giftCheckSummary,
	results []*GiftCheckResult,
) string {
	var b strings.Builder
	b.WriteString(
		fmt.Sprintf(
			"**Nitro Checker Results**\n"+
				"Checked %d unique codes (%d duplicates skipped): "+
				"%d valid · %d invalid · %d claimed\n\n",
			summary.Unique,
			summary.Duplicates,
			summary.Valid,
			summary.Invalid,
			summary.Claimed,
		),
	)
	for _, r := range results {
		url := "https://discord.gift/" + maskCode(r.Code)
		switch r.Status {
		case GiftStatusValid:
			label := "✅"
			if r.Claimed {
				label = "⚠️ CLAIMED"
			}
			b.WriteString(
				fmt.Sprintf(
					"%s [%s] [%s] [%dh] - %s\n",
					label,
					r.Type,
					r.Interval,
					r.ExpiresInHours,
					url,
				),
			)
		case GiftStatusInvalid:
			b.WriteString(fmt.Sprintf("❌ INVALID - %s\n", url))
		case GiftStatusRateLimited:
			b.WriteString(fmt.Sprintf("⏳ RATE LIMITED - %s\n", url))
		default:
			b.WriteString(fmt.Sprintf("⚠️ ERROR - %s\n", url))
		}
	}
	return truncate(b.String(), discordMaxMessageLength)
}
