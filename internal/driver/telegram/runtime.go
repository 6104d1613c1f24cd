package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"

	"otogi-invite/pkg/otogi"
)

const (
	defaultRuntimeSessionFile    = ".cache/telegram/session.json"
	defaultRuntimePublishTimeout = 2 * time.Second
	defaultRuntimeRPCTimeout     = 5 * time.Second
	defaultRuntimeAuthTimeout    = 3 * time.Minute
	defaultRuntimeUpdateBuffer   = 256
)

// runtimeConfig is the "config" object of a telegram driver entry.
type runtimeConfig struct {
	AppID          int      `json:"app_id"`
	AppHash        string   `json:"app_hash"`
	PublishTimeout string   `json:"publish_timeout"`
	RPCTimeout     string   `json:"rpc_timeout"`
	AuthTimeout    string   `json:"auth_timeout"`
	UpdateBuffer   int      `json:"update_buffer"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password"`
	Code           string   `json:"code"`
	SessionFile    string   `json:"session_file"`
	Chats          []string `json:"chats"`
}

type parsedRuntimeConfig struct {
	appID   int
	appHash string
	login   loginConfig

	publishTimeout time.Duration
	rpcTimeout     time.Duration
	updateBuffer   int
	chats          []string
}

// Components groups everything one Telegram runtime contributes.
type Components struct {
	Source    otogi.EventSource
	Driver    otogi.Driver
	Sink      otogi.SinkDispatcher
	Directory otogi.MemberDirectory
}

// BuildRuntimeFromConfig wires a gotd userbot session into an inbound
// driver and an outbound dispatcher sharing one peer cache.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (Components, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return Components{}, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	storage, err := newGotdSessionStorage(cfg.login.sessionFile)
	if err != nil {
		return Components{}, fmt.Errorf("new gotd session storage: %w", err)
	}
	updates := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: storage,
	})
	peers := NewPeerCache()

	session := loggedInClient{client: client, login: cfg.login, logger: logger}
	source, err := NewGotdUserbotSource(session, updates, NewDefaultGotdUpdateMapper(peers), logger)
	if err != nil {
		return Components{}, fmt.Errorf("new gotd userbot source: %w", err)
	}

	driver, err := NewDriver(source, NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithChats(cfg.chats...),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return Components{}, fmt.Errorf("new telegram driver: %w", err)
	}

	outbound, err := NewOutboundDispatcher(client, peers, WithOutboundTimeout(cfg.rpcTimeout), WithOutboundLogger(logger))
	if err != nil {
		return Components{}, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return Components{
		Source:    otogi.EventSource{Platform: DriverPlatform, ID: name},
		Driver:    driver,
		Sink:      outbound,
		Directory: outbound,
	}, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, errors.New("missing config")
	}
	var file runtimeConfig
	if err := json.Unmarshal(raw, &file); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}
	if file.AppID <= 0 {
		return parsedRuntimeConfig{}, errors.New("app_id must be > 0")
	}

	cfg := parsedRuntimeConfig{
		appID:        file.AppID,
		appHash:      strings.TrimSpace(file.AppHash),
		updateBuffer: file.UpdateBuffer,
		login: loginConfig{
			phone:       strings.TrimSpace(file.Phone),
			password:    strings.TrimSpace(file.Password),
			code:        strings.TrimSpace(file.Code),
			sessionFile: strings.TrimSpace(file.SessionFile),
		},
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, errors.New("app_hash is required")
	}
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultRuntimeUpdateBuffer
	}
	if cfg.login.sessionFile == "" {
		cfg.login.sessionFile = defaultRuntimeSessionFile
	}
	for _, chat := range file.Chats {
		if chat = strings.TrimSpace(chat); chat != "" {
			cfg.chats = append(cfg.chats, chat)
		}
	}

	durations := []struct {
		field    string
		raw      string
		fallback time.Duration
		into     *time.Duration
	}{
		{"publish_timeout", file.PublishTimeout, defaultRuntimePublishTimeout, &cfg.publishTimeout},
		{"rpc_timeout", file.RPCTimeout, defaultRuntimeRPCTimeout, &cfg.rpcTimeout},
		{"auth_timeout", file.AuthTimeout, defaultRuntimeAuthTimeout, &cfg.login.timeout},
	}
	for _, d := range durations {
		value, err := parsePositiveDuration(d.field, d.raw, d.fallback)
		if err != nil {
			return parsedRuntimeConfig{}, err
		}
		*d.into = value
	}

	return cfg, nil
}

func parsePositiveDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return value, nil
}
