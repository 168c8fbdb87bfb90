package silencex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	t.Parallel()
	config := DefaultRuntimeConfig()
	require.NoError(t, structValidator.Struct(config))
	assert.False(t, config.Paused)
	assert.True(t, config.ComponentsV2)
	assert.Equal(t, DefaultGiftCheckAPIPort, config.GiftCheckAPIPort)
	assert.Equal(t, DBLogLevelInfo, config.LogLevel)
}

func TestIsBotAdmin(t *testing.T) {
	t.Parallel()
	config := RuntimeConfig{AdminUserIDs: "111, 222,333"}
	assert.True(t, config.IsBotAdmin("111"))
	assert.True(t, config.IsBotAdmin("222"))
	assert.True(t, config.IsBotAdmin("333"))
	assert.False(t, config.IsBotAdmin("444"))
	assert.False(t, config.IsBotAdmin(""))
	assert.False(t, RuntimeConfig{}.IsBotAdmin("111"))
}

func TestRefreshRuntimeConfig(t *testing.T) {
	t.Parallel()
	bot := newSilenceX(t)
	ctx := context.Background()

	require.False(t, bot.RuntimeConfig().Paused)

	rv := bot.db.Model(&RuntimeConfig{}).
		Where("id > ?", 0).
		Updates(map[string]any{"paused": true, "log_level": DBLogLevelError})
	require.NoError(t, rv.Error)

	// the snapshot is cached until an explicit refresh
	assert.False(t, bot.RuntimeConfig().Paused)

	require.NoError(t, bot.refreshRuntimeConfig(ctx))
	refreshed := bot.RuntimeConfig()
	assert.True(t, refreshed.Paused)
	assert.Equal(t, DBLogLevelError, refreshed.LogLevel)
	assert.Equal(t, refreshed.LogLevel.Level(), bot.config.LogLevel.Level())
}

func TestLoadRuntimeConfig_CreatesDefaults(t *testing.T) {
	t.Parallel()
	bot := newLightBot(t)
	bot.db = setupTestDB(t)
	bot.writeDB = NewDatabase(bot.db, bot.logger, false)

	config, err := bot.loadRuntimeConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultGiftCheckMaxCodes, config.GiftCheckMaxCodes)
	assert.Equal(t, Duration{DefaultNukeConfirmTimeout}, config.NukeConfirmTimeout)

	// the created row is reused, not duplicated
	again, err := bot.loadRuntimeConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.ID, again.ID)

	var count int64
	require.NoError(t, bot.db.Model(&RuntimeConfig{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	d := Duration{90 * time.Second}
	value, err := d.Value()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", value)

	var scanned Duration
	require.NoError(t, scanned.Scan("1m30s"))
	assert.Equal(t, d, scanned)
	require.NoError(t, scanned.Scan([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, scanned.Duration)

	assert.Error(t, scanned.Scan(42))
	assert.Error(t, scanned.Scan("not a duration"))

	var fromJSON Duration
	require.NoError(t, fromJSON.UnmarshalJSON([]byte(`"5m"`)))
	assert.Equal(t, 5*time.Minute, fromJSON.Duration)
	encoded, err := Duration{time.Second}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(encoded))
}
