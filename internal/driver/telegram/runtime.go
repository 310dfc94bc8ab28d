package telegram

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tether/pkg/tether"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/session.json"
	defaultRuntimePublishDelay = 2 * time.Second
	defaultRuntimeAuthTimeout  = 3 * time.Minute
	defaultRuntimeUpdateBuffer = 256
)

type runtimeConfig struct {
	AppID              int     `json:"app_id"`
	AppHash            string  `json:"app_hash"`
	BotToken           string  `json:"bot_token"`
	PublishTimeout     string  `json:"publish_timeout"`
	UpdateBuffer       int     `json:"update_buffer"`
	AuthTimeout        string  `json:"auth_timeout"`
	Code               string  `json:"code"`
	Phone              string  `json:"phone"`
	Password           string  `json:"password"`
	SessionFile        string  `json:"session_file"`
	SnapshotMaxEntries int     `json:"snapshot_max_entries"`
	SnapshotTTL        string  `json:"snapshot_ttl"`
	RateLimit          float64 `json:"rate_limit"`
	RateBurst          int     `json:"rate_burst"`
}

type parsedRuntimeConfig struct {
	appID              int
	appHash            string
	botToken           string
	publishTimeout     time.Duration
	updateBuffer       int
	authTimeout        time.Duration
	code               string
	phone              string
	password           string
	sessionFile        string
	snapshotMaxEntries int
	snapshotTTL        time.Duration
	rateLimit          rate.Limit
	rateBurst          int
}

// BuildRuntimeFromConfig builds one telegram driver runtime from config payload.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (tether.EventSource, tether.Driver, tether.OutboundDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	updateChannel := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	store := NewSnapshotStore(cfg.snapshotMaxEntries, cfg.snapshotTTL)
	fetcher, err := NewGotdMessageFetcher(client.API(), peers)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("new gotd message fetcher: %w", err)
	}

	var driver *Driver
	dispatcher, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.publishTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(tether.SinkRef{Platform: DriverPlatform, ID: name}),
		WithRateLimiter(rate.NewLimiter(cfg.rateLimit, cfg.rateBurst)),
		WithOutboundStore(store),
		WithDeleteHook(func(ctx context.Context, chat ChatRef, stored StoredMessage) error {
			return driver.PublishRetraction(ctx, chat, stored)
		}),
	)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	source, err := NewGotdSessionSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				if err := authenticateGotdClient(ctx, logger, client, cfg); err != nil {
					return err
				}
				self, err := client.Self(ctx)
				if err != nil {
					return fmt.Errorf("resolve self: %w", err)
				}
				dispatcher.SetSelf(mapActor(actorFromUser(self)))
				logger.Info("telegram session ready", "self_id", self.ID, "bot", self.Bot)

				return nil
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
	)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("new gotd session source: %w", err)
	}

	driver, err = NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithLogger(logger),
		WithSnapshotStore(store),
		WithMessageFetcher(fetcher),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return tether.EventSource{}, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	return tether.EventSource{
		Platform: DriverPlatform,
		ID:       name,
	}, driver, dispatcher, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:              parsed.AppID,
		appHash:            strings.TrimSpace(parsed.AppHash),
		botToken:           strings.TrimSpace(parsed.BotToken),
		publishTimeout:     defaultRuntimePublishDelay,
		updateBuffer:       parsed.UpdateBuffer,
		authTimeout:        defaultRuntimeAuthTimeout,
		code:               strings.TrimSpace(parsed.Code),
		phone:              strings.TrimSpace(parsed.Phone),
		password:           strings.TrimSpace(parsed.Password),
		sessionFile:        strings.TrimSpace(parsed.SessionFile),
		snapshotMaxEntries: parsed.SnapshotMaxEntries,
		snapshotTTL:        defaultSnapshotTTL,
		rateLimit:          defaultOutboundRate,
		rateBurst:          defaultOutboundBurst,
	}

	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultRuntimeUpdateBuffer
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}
	if parsed.RateLimit < 0 || parsed.RateBurst < 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("rate_limit and rate_burst must be >= 0")
	}
	if parsed.RateLimit > 0 {
		cfg.rateLimit = rate.Limit(parsed.RateLimit)
	}
	if parsed.RateBurst > 0 {
		cfg.rateBurst = parsed.RateBurst
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, target: &cfg.publishTimeout},
		{field: "auth_timeout", raw: parsed.AuthTimeout, target: &cfg.authTimeout},
		{field: "snapshot_ttl", raw: parsed.SnapshotTTL, target: &cfg.snapshotTTL},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}
	if cfg.botToken == "" && cfg.phone == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("either bot_token or phone is required")
	}

	return cfg, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

func authenticateGotdClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	if client == nil {
		return fmt.Errorf("authenticate gotd client: nil client")
	}

	authCtx := ctx
	cancel := func() {}
	if cfg.authTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, cfg.authTimeout)
		authCtx = timeoutCtx
		cancel = timeoutCancel
	}
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.sessionFile)
		return nil
	}

	if cfg.botToken != "" {
		if _, err := client.Auth().Bot(authCtx, cfg.botToken); err != nil {
			return fmt.Errorf("authenticate bot: %w", err)
		}
		logger.Info("telegram authorized with bot token", "session_file", cfg.sessionFile)
		return nil
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := telegramAuthCode(cfg.code)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codeAuthenticator)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codeAuthenticator)
	}

	if err := client.Auth().IfNecessary(authCtx, auth.NewFlow(authenticator, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.Info("telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

func telegramAuthCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("telegram.code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
