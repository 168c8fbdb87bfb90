package silencex

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExchangeRateClient counts calls and returns a fixed rate or error.
type stubExchangeRateClient struct {
	rate  float64
	err   error
	calls int
}

func (s *stubExchangeRateClient) MYRPerUSD(context.Context) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.rate, nil
}

// newLightBot returns a bot suitable for exercising command handlers
// directly, without the full Run lifecycle.
func newLightBot(t testing.TB) *SilenceX {
	t.Helper()
	return &SilenceX{
		runtimeConfig: DefaultTestRuntimeConfig(t),
		logger:        slog.Default().With("test", t.Name()),
		collectors:    newCollectorRegistry(slog.Default()),
	}
}

func TestRobuxTaxMath(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		robux     int64
		afterTax  int64
		beforeTax int64
	}{
		{1, 0, 2},
		{10, 7, 15},
		{100, 70, 143},
		{1000, 700, 1429},
		{12345, 8641, 17636},
	}
	for _, tc := range testCases {
		assert.Equal(
			t, tc.afterTax, robuxAfterTax(tc.robux),
			"after tax for %d", tc.robux,
		)
		assert.Equal(
			t, tc.beforeTax, robuxBeforeTax(tc.robux),
			"before tax for %d", tc.robux,
		)
	}
}

func TestCommandTax(t *testing.T) {
	t.Parallel()
	bot := newLightBot(t)
	rates := &stubExchangeRateClient{rate: 4.50}
	bot.exchangeRates = rates
	ctx := context.Background()

	user := newDiscordUser(t)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = newSlashInteraction(
		t, user, "", DiscordSlashCommandTax, intOption("robux", 1000),
	)

	bot.commandTax(ctx, handler)

	edit := lastEdit(t, handler)
	text := editText(edit)
	assert.Contains(t, text, "**After Tax:** 700 Robux")
	assert.Contains(t, text, "**Before Tax:** 1429 Robux")

	// without a rate option, the exchange rate API isn't queried
	assert.Equal(t, 0, rates.calls)
	assert.NotContains(t, text, "Price")
}

func TestCommandTax_WithRate(t *testing.T) {
	t.Parallel()
	bot := newLightBot(t)
	rates := &stubExchangeRateClient{rate: 4.50}
	bot.exchangeRates = rates
	ctx := context.Background()

	user := newDiscordUser(t)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = newSlashInteraction(
		t, user, "", DiscordSlashCommandTax,
		intOption("robux", 1000),
		numberOption("rate", 0.05),
	)

	bot.commandTax(ctx, handler)

	assert.Equal(t, 1, rates.calls)
	text := editText(lastEdit(t, handler))
	// 1000 * 0.05 = RM50.00; 50 / 4.50 = $11.11
	assert.Contains(t, text, "RM50.00")
	assert.Contains(t, text, "$11.11")
	assert.Contains(t, text, "1 USD = RM4.50")
}

func TestCommandTax_RateFallback(t *testing.T) {
	t.Parallel()
	bot := newLightBot(t)
	rates := &stubExchangeRateClient{err: errors.New("connection refused")}
	bot.exchangeRates = rates
	ctx := context.Background()

	user := newDiscordUser(t)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = newSlashInteraction(
		t, user, "", DiscordSlashCommandTax,
		intOption("robux", 100),
		numberOption("rate", 0.05),
	)

	bot.commandTax(ctx, handler)

	text := editText(lastEdit(t, handler))
	assert.Contains(t, text, "1 USD = RM4.70")
}

func TestCommandTax_InvalidRobux(t *testing.T) {
	t.Parallel()
	bot := newLightBot(t)
	bot.exchangeRates = &stubExchangeRateClient{rate: 4.50}
	ctx := context.Background()

	user := newDiscordUser(t)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = newSlashInteraction(
		t, user, "", DiscordSlashCommandTax, intOption("robux", 0),
	)

	bot.commandTax(ctx, handler)

	edit := lastEdit(t, handler)
	require.NotNil(t, edit.WebhookEdit.Embeds)
	assert.Equal(t, "Error", (*edit.WebhookEdit.Embeds)[0].Title)
	assert.Contains(t, editText(edit), "at least 1")
	assert.Equal(t, int64(1), bot.statErrors.Load())
}

func TestHTTPExchangeRateClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"ok", func(t *testing.T) {
			srv := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, _ *http.Request) {
						_, _ = w.Write(
							[]byte(`{"rates": {"MYR": 4.70655, "EUR": 0.92}}`),
						)
					},
				),
			)
			t.Cleanup(srv.Close)

			client := newExchangeRateClient(srv.URL, srv.Client(), slog.Default())
			rate, err := client.MYRPerUSD(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4.71, rate)
		},
	)

	t.Run(
		"missing MYR", func(t *testing.T) {
			srv := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, _ *http.Request) {
						_, _ = w.Write([]byte(`{"rates": {"EUR": 0.92}}`))
					},
				),
			)
			t.Cleanup(srv.Close)

			client := newExchangeRateClient(srv.URL, srv.Client(), slog.Default())
			_, err := client.MYRPerUSD(ctx)
			require.Error(t, err)
			var serviceErr *ExternalServiceError
			require.ErrorAs(t, err, &serviceErr)
		},
	)

	t.Run(
		"upstream error", func(t *testing.T) {
			srv := httptest.NewServer(
				http.HandlerFunc(
					func(w http.ResponseWriter, _ *http.Request) {
						w.WriteHeader(http.StatusBadGateway)
					},
				),
			)
			t.Cleanup(srv.Close)

			client := newExchangeRateClient(srv.URL, srv.Client(), slog.Default())
			_, err := client.MYRPerUSD(ctx)
			require.Error(t, err)
			var serviceErr *ExternalServiceError
			require.ErrorAs(t, err, &serviceErr)
		},
	)
}
