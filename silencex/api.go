package silencex

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiPrefix            = "/api"
	apiPathHealth        = "/api/health"
	apiPathStats         = "/stats"
	apiPathAutoReact     = "/autoreact"
	apiPathAutoReactRule = "/autoreact/:id"
	apiPathConfig        = "/config"
	apiPathQuit          = "/quit"
	apiPathRegister      = "/commands/register"
)

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// API is the bot's administrative HTTP server.
type API struct {
	config           *APIConfig
	engine           *gin.Engine
	logger           *slog.Logger
	httpServer       *http.Server
	listener         net.Listener
	handlers         *APIHandlers
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
}

// APIHandlers bundles the route handlers with their bot backref.
type APIHandlers struct {
	x *SilenceX
}

func newAPI(x *SilenceX, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		handlers:       &APIHandlers{x: x},
	}
	api.logger = setupLogger.With(loggerNameKey, "api")

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiPathHealth, api.handlers.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(basicAuthMiddleware(x))

	protected.GET(apiPathStats, api.handlers.getStats)
	protected.GET(apiPathAutoReact, api.handlers.getAutoReactRules)
	protected.DELETE(apiPathAutoReactRule, api.handlers.deleteAutoReactRule)
	protected.GET(apiPathConfig, api.handlers.getConfig)
	protected.PATCH(apiPathConfig, api.handlers.updateRuntimeConfig)
	protected.POST(apiPathQuit, api.handlers.botQuit)
	protected.POST(apiPathRegister, api.handlers.registerCommands)

	return api, nil
}

// Serve starts listening. With an SSL cert configured, the listener is
// wrapped in TLS.
func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, "tcp", a.config.Listen)
	if err != nil {
		return err
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
	}()

	return a.httpServer.Serve(a.listener)
}

// URL returns the base URL the server is listening on, usable once
// Serve has bound the listener.
func (a *API) URL() string {
	scheme := "http"
	if a.httpServer.TLSConfig != nil {
		scheme = "https"
	}
	if a.listener != nil {
		return fmt.Sprintf("%s://%s", scheme, a.listener.Addr().String())
	}
	return fmt.Sprintf("%s://%s", scheme, a.config.Listen)
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":            "ok",
			"discord_connected": h.x.discord.connected.Load(),
			"uptime":            time.Since(h.x.startedAt).Round(time.Second).String(),
		},
	)
}

func (h *APIHandlers) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.x.stats())
}

func (h *APIHandlers) getAutoReactRules(c *gin.Context) {
	logger := ginContextLogger(c)

	var rules []AutoReactRule
	query := h.x.db.WithContext(c).Order("guild_id, channel_id, added_at")
	if guildID := c.Query("guild_id"); guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	if rv := query.Find(&rules); rv.Error != nil {
		logger.Error("error listing auto-react rules", tint.Err(rv.Error))
		ginReplyError(c, "error listing auto-react rules")
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *APIHandlers) deleteAutoReactRule(c *gin.Context) {
	logger := ginContextLogger(c)

	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, httpError{Error: "guild_id is required"})
		return
	}
	rule, err := h.x.autoReact.Remove(c, c.Param("id"), guildID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rule)
	case isNotFound(err):
		c.JSON(http.StatusNotFound, httpError{Error: err.Error()})
	default:
		logger.Error("error deleting auto-react rule", tint.Err(err))
		ginReplyError(c, "error deleting auto-react rule")
	}
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.x.RuntimeConfig())
}

// RuntimeConfigUpdate is the PATCH payload for the runtime config. Nil
// fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused                *bool       `json:"paused,omitempty"`
	ComponentsV2          *bool       `json:"components_v2,omitempty"`
	GiftCheckEphemeral    *bool       `json:"gift_check_ephemeral,omitempty"`
	GiftCheckAPIPort      *int        `json:"gift_check_api_port,omitempty" binding:"omitempty,min=1,max=65535"`
	GiftCheckMaxCodes     *int        `json:"gift_check_max_codes,omitempty" binding:"omitempty,min=1,max=500"`
	BadgeSessionTimeout   *Duration   `json:"badge_session_timeout,omitempty"`
	NukeConfirmTimeout    *Duration   `json:"nuke_confirm_timeout,omitempty"`
	ModalTimeout          *Duration   `json:"modal_timeout,omitempty"`
	BackupTitle           *string     `json:"backup_title,omitempty"`
	BackupDescription     *string     `json:"backup_description,omitempty"`
	BackupFooter          *string     `json:"backup_footer,omitempty"`
	NotificationChannelID *string     `json:"notification_channel_id,omitempty"`
	AdminUserIDs          *string     `json:"admin_user_ids,omitempty"`
	AdminUsername         *string     `json:"admin_username,omitempty"`
	AdminPassword         *string     `json:"admin_password,omitempty" log:"[redacted]"`
	LogLevel              *DBLogLevel `json:"log_level,omitempty"`
}

// updateRuntimeConfig applies a partial update to the runtime config,
// persists it, and swaps the cached snapshot. An invalid update is
// rolled back entirely.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	x := h.x
	logger := ginContextLogger(c)

	var updateRequest RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	if updateRequest.AdminPassword != nil {
		hashed, err := HashPassword(*updateRequest.AdminPassword)
		if err != nil {
			logger.Error("error hashing password", tint.Err(err))
			ginReplyError(c, "error hashing password")
			return
		}
		updateRequest.AdminPassword = &hashed
	}

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.Error("error marshaling update request", tint.Err(err))
		ginReplyError(c, "error marshaling update request")
		return
	}
	var updates map[string]any
	if err = json.Unmarshal(updateData, &updates); err != nil {
		logger.Error("error unmarshaling update request", tint.Err(err))
		ginReplyError(c, "error unmarshaling update request")
		return
	}
	logger.Info("applying updates", "updates", structToSlogValue(updateRequest))

	x.cfgMu.Lock()
	defer x.cfgMu.Unlock()

	existingConfig := x.runtimeConfig
	rollbackConfig := *existingConfig

	var updateError error
	var statusCode int
	var response httpError

	_ = x.writeDB.Transaction(
		c,
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				response = httpError{Error: "error updating config"}
				return updateError
			}
			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				response = httpError{Error: "error validating config"}
				return updateError
			}
			return nil
		},
	)
	if updateError != nil {
		x.runtimeConfig = &rollbackConfig
		logger.Error("error updating config", tint.Err(updateError))
		c.JSON(statusCode, response)
		return
	}

	if x.config.LogLevel != nil {
		x.config.LogLevel.Set(existingConfig.LogLevel.Level())
	}
	switch {
	case rollbackConfig.Paused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !rollbackConfig.Paused:
		logger.Warn("paused bot")
	}

	c.JSON(http.StatusOK, *existingConfig)
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("sending stop signal")
	select {
	case h.x.signalStop <- struct{}{}:
		ginReplyMessage(c, "quitting")
	default:
		c.JSON(
			http.StatusConflict,
			httpError{Error: "stop signal already pending"},
		)
	}
}

func (h *APIHandlers) registerCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	commands, err := h.x.RegisterSlashCommands()
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusOK, commands)
}

// basicAuthMiddleware authenticates requests against the admin
// credentials in the runtime config. The stored password is an argon2id
// hash. Failed attempts share a token bucket, slowing down guessing
// without tracking per-client state.
func basicAuthMiddleware(x *SilenceX) gin.HandlerFunc {
	failures := rate.NewLimiter(rate.Limit(1), 10)
	return func(c *gin.Context) {
		rc := x.RuntimeConfig()
		if rc.AdminUsername == "" || rc.AdminPassword == "" {
			c.AbortWithStatusJSON(
				http.StatusServiceUnavailable,
				httpError{Error: "admin credentials not configured"},
			)
			return
		}
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="silencex"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		usernameMatch := subtle.ConstantTimeCompare(
			[]byte(username), []byte(rc.AdminUsername),
		) == 1
		passwordMatch, err := VerifyPassword(rc.AdminPassword, password)
		if err != nil || !usernameMatch || !passwordMatch {
			if !failures.Allow() {
				c.AbortWithStatusJSON(
					http.StatusTooManyRequests,
					httpError{Error: "too many failed attempts"},
				)
				return
			}
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "invalid credentials"},
			)
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included and stores it for later calls.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request with its duration, response
// status and any accumulated errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
