// Package silencex implements a Discord utility bot: per-channel
// auto-reactions, a HypeSquad badge manager, a Roblox marketplace tax
// calculator, a channel nuke command, and a Nitro gift-code batch
// checker, plus a small HTTP API for administration.
package silencex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Build metadata, set via ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var defaultLogWriter io.Writer = os.Stdout

const (
	botPausedMessage          = "⏸️ The bot is currently paused. Try again later."
	interactionExpiredMessage = "This interaction has expired."
)

// SilenceX is the top-level bot. Create it with [New], start it with
// [SilenceX.Run].
type SilenceX struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      *gorm.DB
	writeDB DBI

	discord    *Discord
	api        *API
	autoReact  *AutoReactRegistry
	collectors *collectorRegistry

	badges        BadgeClient
	giftChecks    GiftCheckClient
	exchangeRates ExchangeRateClient

	messageReactLimiter *rate.Limiter

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	runMu     sync.Mutex
	startedAt time.Time

	// signalStop enables an explicit stop signal to be sent to the bot,
	// canceling the main runtime context
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting
	// everything up
	signalReady chan struct{}

	// eventShutdown has a value sent on it when the bot has finished
	// shutting down
	eventShutdown chan struct{}

	statCommands   atomic.Int64
	statButtons    atomic.Int64
	statSelects    atomic.Int64
	statModals     atomic.Int64
	statErrors     atomic.Int64
	statGiftChecks atomic.Int64
	statNukes      atomic.Int64

	// getInteractionHandlerFunc should be a callable to be used to get
	// an InteractionHandler in response to a discord interaction. This
	// exists as an injection point for tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New initializes a SilenceX instance from the given config. The
// database isn't opened and no connections are made until [SilenceX.Run]
// is called.
func New(config *Config) (*SilenceX, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	x := &SilenceX{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	x.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     x.config.LogLevel,
			AddSource: true,
		},
	)
	x.logger = slog.New(x.logHandler)
	slog.SetDefault(x.logger)

	x.config.Discord.httpClient = x.config.HTTPClient

	disc, err := newDiscord(x.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     x.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     x.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	x.discord = disc
	disc.bot = x

	x.collectors = newCollectorRegistry(x.logger)
	x.badges = newBadgeClient(x.config.HTTPClient)
	x.giftChecks = newGiftCheckClient(x.config.GiftCheck)
	x.exchangeRates = newExchangeRateClient(
		x.config.ExchangeRateURL,
		x.config.HTTPClient,
		x.logger,
	)
	x.messageReactLimiter = newMessageReactLimiter()

	api, err := newAPI(x, config.API)
	errs = append(errs, err)
	x.api = api

	return x, errors.Join(errs...)
}

// ValidateConfig validates the static configuration.
func (x *SilenceX) ValidateConfig() error {
	return structValidator.Struct(x.config)
}

// RegisterSlashCommands registers the bot's slash commands with discord.
func (x *SilenceX) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return x.discord.registerCommands(options...)
}

// Run starts the bot and blocks until the given context is canceled, a
// stop signal is sent, or startup fails.
func (x *SilenceX) Run(ctx context.Context) error {
	// prevents concurrent runs
	x.runMu.Lock()
	defer x.runMu.Unlock()

	x.signalStop = make(chan struct{}, 1)
	x.startedAt = time.Now()
	logger := x.logger

	if err := x.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", x.config))

	if x.signalReady == nil {
		x.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-x.signalStop:
			x.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			x.logger.Warn("context canceled, sending stop signal")
			x.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		httpErr := x.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			x.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, x.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- x.initRun(startCtx, ctx, runtimeWG)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		x.watchRuntimeConfig(ctx, x.config.RuntimeConfigTTL)
	}()

	x.signalReady <- struct{}{}
	x.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return x.shutdown(runtimeWG)
}

// initRun opens the database, registers commands and connects the
// gateway session. startCtx is bounded by the startup timeout; ctx is
// the long-lived runtime context handed to gateway handlers.
func (x *SilenceX) initRun(
	startCtx context.Context,
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if err := x.initDB(startCtx); err != nil {
		return err
	}
	if err := x.initDiscordSession(ctx, runtimeWG); err != nil {
		return err
	}
	if _, err := x.RegisterSlashCommands(); err != nil {
		return err
	}
	if err := x.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	return nil
}

func (x *SilenceX) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, x.config.DatabaseType, x.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	x.db = db
	x.writeDB = NewDatabase(
		db,
		x.logger.With(loggerNameKey, "database"),
		x.config.DatabaseType == dbTypePostgres,
	)
	x.autoReact = newAutoReactRegistry(x.db, x.writeDB, x.logger)

	if err = x.refreshRuntimeConfig(ctx); err != nil {
		return fmt.Errorf("error loading runtime config: %w", err)
	}
	return nil
}

func (x *SilenceX) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := x.logger.With(loggerNameKey, "discord_session")

	if x.discord.session == nil {
		disc, discErr := x.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		x.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range x.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	x.discord.discordgoRemoveHandlerFuncs = []func(){
		x.discord.session.AddHandler(x.discord.handlerConnect()),
		x.discord.session.AddHandler(x.discord.handlerDisconnect()),
		x.discord.session.AddHandler(x.discord.handlerReady()),
		x.discord.session.AddHandler(x.discord.handlerGuildCreate()),
		x.discord.session.AddHandler(x.discord.handlerGuildDelete()),
		x.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := x.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					x.handleInteraction(ctx, handler)
				}()
			},
		),
		x.discord.session.AddHandler(x.handleMessageCreate),
	}

	if x.getInteractionHandlerFunc == nil {
		x.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     x.discord.session,
				interaction: i,
				logger: x.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
		}
	}
	return nil
}

func (x *SilenceX) shutdown(runtimeWG *sync.WaitGroup) error {
	x.logger.Warn("shutting down")
	defer func() {
		if x.eventShutdown != nil {
			go func() {
				x.eventShutdown <- struct{}{}
			}()
		}
	}()

	if x.discord.session != nil {
		if err := x.discord.session.Close(); err != nil {
			x.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		x.logger.Info("graceful shutdown complete")
		return nil
	case <-time.After(x.config.ShutdownTimeout):
		return fmt.Errorf("shutdown deadline exceeded")
	}
}

// handleInteraction dispatches an incoming interaction: slash commands
// to their handlers, component and modal interactions to whichever
// collector is awaiting them.
func (x *SilenceX) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		"user", structToSlogValue(discordUser),
	)

	if interactionLog, logErr := newInteractionLog(i, discordUser); logErr != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(logErr))
	} else {
		go func() {
			if _, createErr := x.writeDB.Create(
				context.Background(), interactionLog,
			); createErr != nil {
				logger.Error("error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionModalSubmit:
		x.statModals.Add(1)
		if !x.collectors.dispatchModal(ctx, handler) {
			x.respondEphemeral(ctx, handler, interactionExpiredMessage)
		}
	case discordgo.InteractionMessageComponent:
		switch i.MessageComponentData().ComponentType {
		case discordgo.ButtonComponent:
			x.statButtons.Add(1)
		case discordgo.SelectMenuComponent:
			x.statSelects.Add(1)
		default:
		}
		if !x.collectors.dispatchComponent(ctx, handler) {
			x.respondEphemeral(ctx, handler, interactionExpiredMessage)
		}
	case discordgo.InteractionApplicationCommand:
		x.handleApplicationCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type)
	}
}

func (x *SilenceX) handleApplicationCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	commandName := i.ApplicationCommandData().Name

	if x.RuntimeConfig().Paused {
		x.respondEphemeral(ctx, handler, botPausedMessage)
		return
	}
	x.statCommands.Add(1)

	defer func() {
		if rc := recover(); rc != nil {
			x.handleRecover(ctx, rc)
			x.interactionError(
				ctx,
				handler,
				fmt.Errorf("panic handling command %s", commandName),
			)
		}
	}()

	// checker-nitro responds with a modal, which must be the initial
	// interaction response - everything else gets a deferred ack here.
	if commandName != DiscordSlashCommandGiftCheck {
		if err := handler.Respond(ctx, x.discord.ackResponse(commandName)); err != nil {
			return
		}
	}

	switch commandName {
	case DiscordSlashCommandReact:
		x.commandReact(ctx, handler)
	case DiscordSlashCommandBadge:
		x.commandBadge(ctx, handler)
	case DiscordSlashCommandTax:
		x.commandTax(ctx, handler)
	case DiscordSlashCommandNuke:
		x.commandNuke(ctx, handler)
	case DiscordSlashCommandGiftCheck:
		x.commandGiftCheck(ctx, handler)
	case DiscordSlashCommandBackup:
		x.commandBackup(ctx, handler)
	case DiscordSlashCommandStats:
		x.commandStats(ctx, handler)
	default:
		handler.Logger().WarnContext(
			ctx,
			"unknown command",
			"command", commandName,
		)
	}
}

func (x *SilenceX) respondEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// interactionError reports a command failure to the user by editing the
// deferred reply. Domain errors surface their own message; anything
// else gets the generic failure message.
func (x *SilenceX) interactionError(
	ctx context.Context,
	handler InteractionHandler,
	err error,
) {
	x.statErrors.Add(1)
	msg, known := userFacingError(err)
	if !known {
		handler.Logger().ErrorContext(ctx, "command failed", tint.Err(err))
	}
	x.editInteractionReply(ctx, handler, "Error", msg, colorRed)
}

// handleRecover logs a recovered panic with its stack trace.
func (*SilenceX) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(v),
			"stack_trace", stackTrace,
		)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			"panic_arg", rc,
			"stack_trace", stackTrace,
		)
	}
}
