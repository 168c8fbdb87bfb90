//nolint:lll // struct tags can't be split
package silencex

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	columnRuntimeConfigPaused            = "paused"
	columnRuntimeConfigComponentsV2      = "components_v2"
	columnRuntimeConfigGiftCheckAPIPort  = "gift_check_api_port"
	columnRuntimeConfigGiftCheckMaxCodes = "gift_check_max_codes"
	columnRuntimeConfigAdminUsername     = "admin_username"
	columnRuntimeConfigAdminPassword     = "admin_password"
)

const (
	DefaultGiftCheckAPIPort    = 3000
	DefaultGiftCheckMaxCodes   = 50
	DefaultGiftCheckEphemeral  = true
	DefaultBadgeSessionTimeout = 5 * time.Minute
	DefaultNukeConfirmTimeout  = 30 * time.Second
	DefaultModalTimeout        = 5 * time.Minute
)

// RuntimeConfig holds settings that can be changed while the bot is
// running. A single row is kept in the database; the bot reads a cached
// snapshot that is only replaced via the explicit reload path (the
// config API endpoint, or the periodic TTL refresh).
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused stops the bot from handling any interactions or messages
	Paused bool `json:"paused" gorm:"default:false" yaml:"paused"`

	// ComponentsV2 selects the richer embed rendering for command
	// output. When false, commands reply with plain text content.
	ComponentsV2 bool `json:"components_v2" gorm:"default:true" yaml:"components_v2"`

	// GiftCheckEphemeral makes /checker-nitro replies visible only to the invoker
	GiftCheckEphemeral bool `json:"gift_check_ephemeral" gorm:"default:true" yaml:"gift_check_ephemeral"`

	// GiftCheckAPIPort is the port of the local gift-code check service
	GiftCheckAPIPort int `json:"gift_check_api_port" gorm:"default:3000" yaml:"gift_check_api_port" binding:"required,min=1,max=65535"`

	// GiftCheckMaxCodes caps the number of unique codes checked per submission
	GiftCheckMaxCodes int `json:"gift_check_max_codes" gorm:"default:50" yaml:"gift_check_max_codes" binding:"required,min=1,max=500"`

	// BadgeSessionTimeout bounds how long the /badge-hypersquad
	// select menu and remove button stay live
	BadgeSessionTimeout Duration `json:"badge_session_timeout" gorm:"default:'5m0s'" yaml:"badge_session_timeout"`

	// NukeConfirmTimeout bounds how long the /nuke confirmation buttons stay live
	NukeConfirmTimeout Duration `json:"nuke_confirm_timeout" gorm:"default:'30s'" yaml:"nuke_confirm_timeout"`

	// ModalTimeout bounds how long the bot waits for a modal submission
	ModalTimeout Duration `json:"modal_timeout" gorm:"default:'5m0s'" yaml:"modal_timeout"`

	// BackupTitle, BackupDescription and BackupFooter populate the
	// embed posted by /backup
	BackupTitle       string `json:"backup_title" yaml:"backup_title"`
	BackupDescription string `json:"backup_description" yaml:"backup_description"`
	BackupFooter      string `json:"backup_footer" yaml:"backup_footer"`

	// NotificationChannelID, when set, receives the startup message
	// on gateway connect
	NotificationChannelID string `json:"notification_channel_id" yaml:"notification_channel_id"`

	// AdminUserIDs lists discord user IDs (comma-separated) that pass
	// every permission gate regardless of their guild permissions
	AdminUserIDs string `json:"admin_user_ids" yaml:"admin_user_ids"`

	// AdminUsername and AdminPassword (argon2id hash) secure the HTTP API
	AdminUsername string `json:"admin_username" yaml:"admin_username"`
	AdminPassword string `json:"admin_password" yaml:"admin_password" log:"[redacted]"`

	// LogLevel overrides the base log level
	LogLevel DBLogLevel `json:"log_level" gorm:"default:'INFO'" yaml:"log_level" binding:"required"`
}

func (RuntimeConfig) TableName() string {
	return "runtime_config"
}

func (c RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

// IsBotAdmin reports whether the given discord user ID is listed in
// AdminUserIDs.
func (c RuntimeConfig) IsBotAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range strings.Split(c.AdminUserIDs, ",") {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Paused:              false,
		ComponentsV2:        true,
		GiftCheckEphemeral:  DefaultGiftCheckEphemeral,
		GiftCheckAPIPort:    DefaultGiftCheckAPIPort,
		GiftCheckMaxCodes:   DefaultGiftCheckMaxCodes,
		BadgeSessionTimeout: Duration{DefaultBadgeSessionTimeout},
		NukeConfirmTimeout:  Duration{DefaultNukeConfirmTimeout},
		ModalTimeout:        Duration{DefaultModalTimeout},
		LogLevel:            DBLogLevelInfo,
	}
}

// RuntimeConfig returns the current cached runtime config snapshot.
func (x *SilenceX) RuntimeConfig() RuntimeConfig {
	x.cfgMu.RLock()
	defer x.cfgMu.RUnlock()
	return *x.runtimeConfig
}

// loadRuntimeConfig loads the newest RuntimeConfig row, creating one
// with defaults if none exists yet.
func (x *SilenceX) loadRuntimeConfig(ctx context.Context) (*RuntimeConfig, error) {
	var config RuntimeConfig
	rv := x.db.Last(&config)
	if rv.Error != nil {
		if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, rv.Error
		}
		config = DefaultRuntimeConfig()
		if _, err := x.writeDB.Create(ctx, &config); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// refreshRuntimeConfig replaces the cached snapshot with the current
// database state and applies the log level. This is the only path by
// which a snapshot changes; commands never re-read the database.
func (x *SilenceX) refreshRuntimeConfig(ctx context.Context) error {
	config, err := x.loadRuntimeConfig(ctx)
	if err != nil {
		return err
	}
	if validationErr := structValidator.StructCtx(ctx, config); validationErr != nil {
		return validationErr
	}

	x.cfgMu.Lock()
	x.runtimeConfig = config
	x.cfgMu.Unlock()

	if x.config.LogLevel != nil {
		x.config.LogLevel.Set(config.LogLevel.Level())
	}
	x.logger.InfoContext(ctx, "runtime config refreshed", "config", config)
	return nil
}

// watchRuntimeConfig periodically refreshes the cached snapshot, so
// changes made by another instance against the same database are
// eventually picked up. A zero TTL disables the loop.
func (x *SilenceX) watchRuntimeConfig(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := x.refreshRuntimeConfig(ctx); err != nil {
				x.logger.Warn("periodic runtime config refresh failed", tint.Err(err))
			}
		}
	}
}
