package silencex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
)

const (
	// robloxTaxRate is the marketplace fee Roblox takes from every sale.
	robloxTaxRate = 0.30

	// defaultMYRPerUSD is used when the exchange rate API is unreachable.
	defaultMYRPerUSD = 4.70
)

// ExchangeRateClient provides the current MYR per USD exchange rate.
type ExchangeRateClient interface {
	MYRPerUSD(ctx context.Context) (float64, error)
}

type httpExchangeRateClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func newExchangeRateClient(
	url string,
	httpClient *http.Client,
	logger *slog.Logger,
) *httpExchangeRateClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpExchangeRateClient{
		url:        url,
		httpClient: httpClient,
		logger:     logger.With(loggerNameKey, "exchange_rate_client"),
	}
}

func (c *httpExchangeRateClient) MYRPerUSD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating exchange rate request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ExternalServiceError{Service: "exchange rate API", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return 0, &ExternalServiceError{
			Service: "exchange rate API",
			Err:     fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, &ExternalServiceError{Service: "exchange rate API", Err: err}
	}
	rate, ok := payload.Rates["MYR"]
	if !ok || rate <= 0 {
		return 0, &ExternalServiceError{
			Service: "exchange rate API",
			Err:     fmt.Errorf("MYR rate missing from response"),
		}
	}
	return math.Round(rate*100) / 100, nil
}

// robuxAfterTax returns what the seller receives after the marketplace fee.
func robuxAfterTax(robux int64) int64 {
	return int64(math.Floor(float64(robux) * (1 - robloxTaxRate)))
}

// robuxBeforeTax returns what must be charged so the seller receives
// the given amount after the marketplace fee.
func robuxBeforeTax(robux int64) int64 {
	return int64(math.Ceil(float64(robux) / (1 - robloxTaxRate)))
}

// commandTax handles `/roblox-tax`. The exchange rate API is only
// queried when the user supplies a MYR-per-Robux rate; otherwise the
// response is computed entirely locally.
func (x *SilenceX) commandTax(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(i.ApplicationCommandData().Options)

	robuxOpt, ok := options["robux"]
	if !ok {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "robux is required"},
		)
		return
	}
	robux := robuxOpt.IntValue()
	if robux < 1 {
		x.interactionError(
			ctx,
			handler,
			&ValidationError{Message: "robux must be at least 1"},
		)
		return
	}

	afterTax := robuxAfterTax(robux)
	beforeTax := robuxBeforeTax(robux)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("💰 **Robux:** %d\n", robux))
	b.WriteString(fmt.Sprintf("📉 **Tax Rate:** %.0f%%\n\n", robloxTaxRate*100))
	b.WriteString(
		fmt.Sprintf(
			"**After Tax:** %d Robux (you receive if selling %d)\n",
			afterTax,
			robux,
		),
	)
	b.WriteString(
		fmt.Sprintf(
			"**Before Tax:** %d Robux (to receive %d after tax)\n",
			beforeTax,
			robux,
		),
	)

	if rateOpt, hasRate := options["rate"]; hasRate {
		rate := rateOpt.FloatValue()
		myrPerUSD, err := x.exchangeRates.MYRPerUSD(ctx)
		if err != nil {
			handler.Logger().WarnContext(
				ctx,
				"error fetching exchange rate, using fallback",
				tint.Err(err),
				"fallback", defaultMYRPerUSD,
			)
			myrPerUSD = defaultMYRPerUSD
		}
		priceMYR := float64(robux) * rate
		priceUSD := priceMYR / myrPerUSD
		b.WriteString(
			fmt.Sprintf(
				"\n💵 **Price (MYR):** RM%.2f\n💵 **Price (USD):** $%.2f\n",
				priceMYR,
				priceUSD,
			),
		)
		b.WriteString(
			fmt.Sprintf(
				"-# Rate: RM%.3f per Robux · 1 USD = RM%.2f",
				rate,
				myrPerUSD,
			),
		)
	}

	x.editInteractionReply(
		ctx,
		handler,
		"Roblox Tax Calculator",
		b.String(),
		colorGold,
	)
}
