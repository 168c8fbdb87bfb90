package silencex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNew_InvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid database type")
}

func TestLoggerCtx(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	foundLogger, ok := ContextLogger(ctx)
	assert.Nil(t, foundLogger)
	assert.False(t, ok)

	logCtx := WithLogger(ctx, logger)
	foundLogger, ok = ContextLogger(logCtx)
	assert.True(t, ok)
	assert.NotNil(t, foundLogger)
	assert.Equal(t, logger, foundLogger)
}

func TestInteractionLog(t *testing.T) {
	t.Parallel()
	bot := newSilenceX(t)
	ctx := context.Background()

	discordUser := &discordgo.User{ID: "999", Username: "foo"}
	interaction := newSlashInteraction(t, discordUser, "123", DiscordSlashCommandStats)

	bot.handleInteraction(ctx, bot.getInteractionHandlerFunc(ctx, interaction))

	var ilog InteractionLog
	waitForRecord(t, bot.db, &ilog, "interaction_id = ?", "123")
	assert.Equal(t, "999", ilog.UserID)
	assert.Equal(t, discordUser.String(), ilog.Username)
	assert.Equal(t, DiscordSlashCommandStats, ilog.CommandName)
	assert.Equal(t, discordgo.InteractionApplicationCommand.String(), ilog.Type)
}

func TestPausedIgnoresCommands(t *testing.T) {
	t.Parallel()
	bot := newSilenceX(t)
	ctx := context.Background()

	bot.cfgMu.Lock()
	bot.runtimeConfig.Paused = true
	bot.cfgMu.Unlock()

	discordUser := newDiscordUser(t)
	interaction := newSlashInteraction(t, discordUser, "", DiscordSlashCommandStats)
	handler := newBotStubHandler(t, bot, interaction)

	bot.handleInteraction(ctx, handler)

	select {
	case resp := <-handler.callRespond:
		require.NotNil(t, resp.Data)
		assert.Equal(t, botPausedMessage, resp.Data.Content)
		assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	default:
		t.Fatal("expected a response to be sent")
	}
	assert.Equal(t, int64(0), bot.statCommands.Load())
}

func TestBotUserIgnored(t *testing.T) {
	t.Parallel()
	bot := newSilenceX(t)
	ctx := context.Background()

	botUser := &discordgo.User{ID: "b0t", Username: "otherbot", Bot: true}
	interaction := newSlashInteraction(t, botUser, "", DiscordSlashCommandStats)
	handler := newBotStubHandler(t, bot, interaction)

	bot.handleInteraction(ctx, handler)

	select {
	case <-handler.callRespond:
		t.Fatal("expected no response for a bot user")
	default:
		//
	}
}

func TestExpiredComponentInteraction(t *testing.T) {
	t.Parallel()
	bot := newSilenceX(t)
	ctx := context.Background()

	discordUser := newDiscordUser(t)
	interaction := newComponentInteraction(
		t,
		discordUser,
		"long-gone-message",
		nukeConfirmCustomID,
	)
	handler := newBotStubHandler(t, bot, interaction)

	bot.handleInteraction(ctx, handler)

	select {
	case resp := <-handler.callRespond:
		require.NotNil(t, resp.Data)
		assert.Equal(t, interactionExpiredMessage, resp.Data.Content)
	default:
		t.Fatal("expected an expiry notice")
	}
	assert.Equal(t, int64(1), bot.statButtons.Load())
}

func TestHandleRecover(t *testing.T) {
	ctx := WithLogger(context.Background(), slog.Default())
	bot := &SilenceX{}
	bot.handleRecover(ctx, fmt.Errorf("boom"))
	bot.handleRecover(ctx, "boom")
	bot.handleRecover(ctx, 42)
	bot.handleRecover(context.Background(), "no logger in context")
}

// DefaultTestConfig returns a Config suitable for tests: throwaway
// sqlite database, ephemeral API port, and quiet loggers.
func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.RuntimeConfigTTL = 0
	cfg.Development = true

	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app_%s", t.Name())

	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

// DefaultTestRuntimeConfig returns a RuntimeConfig for testing, with
// short collector timeouts and admin credentials derived from the test
// name.
func DefaultTestRuntimeConfig(t testing.TB) *RuntimeConfig {
	t.Helper()
	cfg := DefaultRuntimeConfig()

	cfg.LogLevel = DBLogLevelWarn
	cfg.BadgeSessionTimeout = Duration{5 * time.Second}
	cfg.NukeConfirmTimeout = Duration{5 * time.Second}
	cfg.ModalTimeout = Duration{5 * time.Second}

	cfg.AdminUsername = fmt.Sprintf("user_%s", t.Name())
	password := fmt.Sprintf("password_%s", t.Name())
	hashedPassword, err := HashPassword(password)
	require.NoError(t, err)
	cfg.AdminPassword = hashedPassword
	return &cfg
}

// testAdminPassword returns the plaintext admin password matching the
// hash set by DefaultTestRuntimeConfig.
func testAdminPassword(t testing.TB) string {
	t.Helper()
	return fmt.Sprintf("password_%s", t.Name())
}

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")
	db, err := CreateDB(context.Background(), "sqlite", dbPath)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	return db
}

// newSilenceX returns a started bot with a mocked discord session and
// stub interaction handlers, stopped again on test cleanup.
func newSilenceX(t testing.TB) *SilenceX {
	t.Helper()
	return newSilenceXWithContext(t, context.Background())
}

func newSilenceXWithContext(t testing.TB, ctx context.Context) *SilenceX {
	t.Helper()
	gin.DefaultWriter = os.Stdout

	cfg := DefaultTestConfig(t)

	dbctx, cancel := context.WithTimeout(ctx, time.Minute)
	t.Cleanup(cancel)
	db, err := CreateDB(dbctx, cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	runtimeCfg := DefaultTestRuntimeConfig(t)
	require.NoError(t, db.Create(runtimeCfg).Error)

	bot, err := New(cfg)
	require.NoError(t, err)

	bot.discord.session = newMockDiscordSession()
	setLoggers(t, bot)

	bot.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return newBotStubHandler(t, bot, i)
	}

	botErr := make(chan error, 1)
	go func() {
		botErr <- bot.Run(ctx)
	}()

	select {
	case <-bot.signalReady:
		t.Cleanup(
			func() {
				cleanupCtx, cleanupCancel := context.WithTimeout(
					context.Background(),
					time.Minute,
				)
				defer cleanupCancel()
				select {
				case <-cleanupCtx.Done():
					t.Logf("cleanup timed out")
				case bot.signalStop <- struct{}{}:
					t.Logf("sent stop signal")
				}
			},
		)
	case e := <-botErr:
		t.Fatalf("error starting bot: %v", e)
	}
	return bot
}

// setLoggers tags every component logger with the test name, reverting
// the default logger when the test finishes.
func setLoggers(t testing.TB, bot *SilenceX) {
	t.Helper()

	originalDefault := slog.Default()
	slog.SetDefault(originalDefault.With("test", t.Name()))
	t.Cleanup(
		func() {
			slog.SetDefault(originalDefault)
		},
	)

	bot.logger = bot.logger.With("test", t.Name())
	bot.discord.logger = bot.discord.logger.With("test", t.Name())
	bot.api.logger = bot.api.logger.With("test", t.Name())

	dbLogHandler := tint.NewHandler(
		os.Stdout, &tint.Options{
			Level:     bot.config.DatabaseLogLevel,
			AddSource: true,
		},
	).WithAttrs([]slog.Attr{slog.String("test", t.Name())})
	if bot.db != nil {
		bot.db.Logger = newGORMLogger(
			dbLogHandler,
			bot.config.DatabaseSlowThreshold,
		)
	}
	discordgo.Logger = discordgoLoggerFunc(context.Background(), dbLogHandler)
}

// waitForRecord polls the database until a record matching the
// conditions exists, failing the test after a timeout. Useful for
// records written asynchronously, like the interaction log.
func waitForRecord(
	t testing.TB,
	db *gorm.DB,
	dest any,
	query string,
	args ...any,
) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		err := db.Last(dest, append([]any{query}, args...)...).Error
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for record (%s %v): %v", query, args, err)
		case <-time.After(50 * time.Millisecond):
			//
		}
	}
}

// waitForCollector polls the bot's collector registry until a collector
// exists for the given key.
func waitForCollector(t testing.TB, bot *SilenceX, key string) *Collector {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		if c := bot.collectors.get(key); c != nil {
			return c
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for collector %q", key)
		case <-time.After(10 * time.Millisecond):
			//
		}
	}
}

type stubEdits struct {
	WebhookEdit *discordgo.WebhookEdit
	Opts        []discordgo.RequestOption
}

// stubInteractionHandler implements InteractionHandler, sending every
// call into buffered channels so tests can assert what the bot sent.
type stubInteractionHandler struct {
	GatewayHandler GatewayHandler

	callRespond     chan *discordgo.InteractionResponse
	callGetResponse chan struct{}
	callEdit        chan *stubEdits
	callDelete      chan struct{}
	callFollowup    chan *discordgo.WebhookParams

	response *discordgo.Message
}

func newStubInteractionHandler(t testing.TB) stubInteractionHandler {
	t.Helper()
	return stubInteractionHandler{
		callRespond:     make(chan *discordgo.InteractionResponse, 100),
		callGetResponse: make(chan struct{}, 100),
		callEdit:        make(chan *stubEdits, 100),
		callDelete:      make(chan struct{}, 100),
		callFollowup:    make(chan *discordgo.WebhookParams, 100),
		GatewayHandler: GatewayHandler{
			session: newMockDiscordSession(),
			logger:  slog.Default().With("test_name", t.Name()),
		},
	}
}

// newBotStubHandler returns a stub handler bound to the given
// interaction, with a deterministic response message ID so component
// interactions can reference it.
func newBotStubHandler(
	t testing.TB,
	bot *SilenceX,
	i *discordgo.InteractionCreate,
) stubInteractionHandler {
	t.Helper()
	h := newStubInteractionHandler(t)
	if bot.discord != nil {
		h.GatewayHandler.session = bot.discord.session
	}
	h.GatewayHandler.interaction = i
	h.response = &discordgo.Message{ID: "reply-" + i.ID}
	return h
}

func (s stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	return nil
}

func (s stubInteractionHandler) GetResponse(context.Context) (
	*discordgo.Message,
	error,
) {
	s.callGetResponse <- struct{}{}
	if s.response != nil {
		return s.response, nil
	}
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callEdit <- &stubEdits{WebhookEdit: e, Opts: opts}
	if s.response != nil {
		return s.response, nil
	}
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) Delete(
	_ context.Context,
	_ ...discordgo.RequestOption,
) {
	s.callDelete <- struct{}{}
}

func (s stubInteractionHandler) Followup(
	_ context.Context,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callFollowup <- data
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.GatewayHandler.interaction
}

func (s stubInteractionHandler) Logger() *slog.Logger {
	return s.GatewayHandler.logger
}

// lastEdit drains the handler's edit channel and returns the most
// recent edit, failing the test if none arrived.
func lastEdit(t testing.TB, h stubInteractionHandler) *stubEdits {
	t.Helper()
	var edit *stubEdits
	for {
		select {
		case e := <-h.callEdit:
			edit = e
		default:
			if edit == nil {
				t.Fatal("expected at least one edit")
			}
			return edit
		}
	}
}

// editText returns the human-visible text of an edit: the embed
// description when one is set, otherwise the plain content.
func editText(e *stubEdits) string {
	if e.WebhookEdit.Embeds != nil && len(*e.WebhookEdit.Embeds) > 0 {
		return (*e.WebhookEdit.Embeds)[0].Description
	}
	return stringPointerValue(e.WebhookEdit.Content)
}

// newDiscordUser creates a discordgo.User with IDs derived from the
// test name.
func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         t.Name(),
		Username:   fmt.Sprintf("u_%s", t.Name()),
		GlobalName: fmt.Sprintf("g_%s", t.Name()),
	}
}

// newSlashInteraction creates an application-command interaction with
// the given options.
func newSlashInteraction(
	t testing.TB,
	u *discordgo.User,
	interactionID string,
	commandName string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	t.Helper()
	if interactionID == "" {
		interactionID = fmt.Sprintf("interaction_%s", t.Name())
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			ID:      interactionID,
			AppID:   fmt.Sprintf("app_%s", t.Name()),
			GuildID: fmt.Sprintf("guild_%s", t.Name()),
			User:    u,
			Data: discordgo.ApplicationCommandInteractionData{
				CommandType: discordgo.ChatApplicationCommand,
				Name:        commandName,
				Options:     options,
			},
		},
	}
}

// newGuildSlashInteraction is like newSlashInteraction, but delivers
// the user as a guild member carrying the given permissions.
func newGuildSlashInteraction(
	t testing.TB,
	u *discordgo.User,
	permissions int64,
	commandName string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	t.Helper()
	i := newSlashInteraction(t, nil, "", commandName, options...)
	i.User = nil
	i.Member = &discordgo.Member{User: u, Permissions: permissions}
	return i
}

// newComponentInteraction creates a button-press interaction targeting
// the given message.
func newComponentInteraction(
	t testing.TB,
	u *discordgo.User,
	messageID string,
	customID string,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionMessageComponent,
			ID:      fmt.Sprintf("component_%s_%s", customID, t.Name()),
			User:    u,
			Message: &discordgo.Message{ID: messageID},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

// newSelectInteraction creates a select-menu interaction targeting the
// given message.
func newSelectInteraction(
	t testing.TB,
	u *discordgo.User,
	messageID string,
	customID string,
	values ...string,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionMessageComponent,
			ID:      fmt.Sprintf("select_%s_%s", customID, t.Name()),
			User:    u,
			Message: &discordgo.Message{ID: messageID},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.SelectMenuComponent,
				Values:        values,
			},
		},
	}
}

// stringOption builds a string command option.
func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

// intOption builds an integer command option. Values decoded from
// discord arrive as float64.
func intOption(name string, value int64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func numberOption(name string, value float64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionNumber,
		Value: value,
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

// mockDiscordSession is a DiscordSessionHandler that logs actions
// instead of performing them.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

func newMockDiscordSession() mockDiscordSession {
	m := mockDiscordSession{
		logLevel: &slog.LevelVar{},
	}
	m.logLevel.Set(slog.LevelDebug)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler")
	return m
}

func (d mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d mockDiscordSession) AddHandler(_ any) func() {
	d.logger.Info("added handler")
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("updating custom status", "status", status)
	return nil
}

func (d mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func (d mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"saw message send",
		"channel_id", channelID,
		"content", message,
	)
	return &discordgo.Message{ID: "sent", ChannelID: channelID}, nil
}

func (d mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"saw complex message send",
		"channel_id", channelID,
		"content", data.Content,
	)
	return &discordgo.Message{ID: "sent", ChannelID: channelID}, nil
}

func (d mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"saw message delete",
		"channel_id", channelID,
		"message_id", messageID,
	)
	return nil
}

func (d mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"saw reaction add",
		"channel_id", channelID,
		"message_id", messageID,
		"emoji", emojiID,
	)
	return nil
}

func (d mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.logger.Info("saw channel fetch", "channel_id", channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (d mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.logger.Info("saw channel create", "guild_id", guildID, "name", data.Name)
	return &discordgo.Channel{
		ID:      "new-" + data.Name,
		GuildID: guildID,
		Name:    data.Name,
	}, nil
}

func (d mockDiscordSession) ChannelEditComplex(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.logger.Info("saw channel edit", "channel_id", channelID, "edit", data)
	return &discordgo.Channel{ID: channelID}, nil
}

func (d mockDiscordSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.logger.Info("saw channel delete", "channel_id", channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (d mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.logger.Info("saw user channel create", "recipient_id", recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (d mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
		"commands", len(commands),
	)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"mock responding to interaction",
		"interaction_id", interaction.ID,
		"response", resp,
	)
	return nil
}

func (d mockDiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("mock getting interaction", "interaction_id", interaction.ID)
	return &discordgo.Message{}, nil
}

func (d mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"mock editing interaction",
		"interaction_id", interaction.ID,
		"webhook_edit", newresp,
	)
	return &discordgo.Message{}, nil
}

func (d mockDiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info("mock deleting interaction", "interaction_id", interaction.ID)
	return nil
}

func (d mockDiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"mock followup",
		"interaction_id", interaction.ID,
		"wait", wait,
		"content", data.Content,
	)
	return &discordgo.Message{}, nil
}

type stubChannelMessageSend struct {
	ChannelID string
	Content   string
}

type stubReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// recordingDiscordSession wraps a DiscordSessionHandler and records
// channel-level calls, with per-emoji and per-call error injection.
type recordingDiscordSession struct {
	DiscordSessionHandler

	reactErrs  map[string]error
	sendErr    error
	deleteErr  error
	channelErr error
	createErr  error

	messagesSent    chan stubChannelMessageSend
	reactionsAdded  chan stubReaction
	messagesDeleted chan string
	channelsDeleted chan string
	channelsCreated chan discordgo.GuildChannelCreateData
	dmsSent         chan stubChannelMessageSend
}

func newRecordingDiscordSession() *recordingDiscordSession {
	return &recordingDiscordSession{
		DiscordSessionHandler: newMockDiscordSession(),
		reactErrs:             map[string]error{},
		messagesSent:          make(chan stubChannelMessageSend, 100),
		reactionsAdded:        make(chan stubReaction, 100),
		messagesDeleted:       make(chan string, 100),
		channelsDeleted:       make(chan string, 100),
		channelsCreated:       make(chan discordgo.GuildChannelCreateData, 100),
		dmsSent:               make(chan stubChannelMessageSend, 100),
	}
}

func (r *recordingDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	r.messagesSent <- stubChannelMessageSend{
		ChannelID: channelID,
		Content:   message,
	}
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	return r.DiscordSessionHandler.ChannelMessageSend(channelID, message, opts...)
}

func (r *recordingDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	r.dmsSent <- stubChannelMessageSend{
		ChannelID: channelID,
		Content:   data.Content,
	}
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	return r.DiscordSessionHandler.ChannelMessageSendComplex(channelID, data, opts...)
}

func (r *recordingDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) error {
	r.messagesDeleted <- messageID
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.DiscordSessionHandler.ChannelMessageDelete(channelID, messageID, opts...)
}

func (r *recordingDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	opts ...discordgo.RequestOption,
) error {
	r.reactionsAdded <- stubReaction{
		ChannelID: channelID,
		MessageID: messageID,
		Emoji:     emojiID,
	}
	if err, ok := r.reactErrs[emojiID]; ok {
		return err
	}
	return r.DiscordSessionHandler.MessageReactionAdd(
		channelID, messageID, emojiID, opts...,
	)
}

func (r *recordingDiscordSession) Channel(
	channelID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	if r.channelErr != nil {
		return nil, r.channelErr
	}
	return r.DiscordSessionHandler.Channel(channelID, opts...)
}

func (r *recordingDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	r.channelsCreated <- data
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.DiscordSessionHandler.GuildChannelCreateComplex(guildID, data, opts...)
}

func (r *recordingDiscordSession) ChannelDelete(
	channelID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	r.channelsDeleted <- channelID
	return r.DiscordSessionHandler.ChannelDelete(channelID, opts...)
}
