package onebot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"otogi-invite/pkg/otogi"
)

const (
	defaultListenAddr        = ":6700"
	defaultWebSocketPath     = "/onebot/ws"
	defaultEventPath         = "/onebot/event"
	defaultReadHeaderTimeout = 10 * time.Second
)

type runtimeConfig struct {
	ListenAddr     string `json:"listen_addr"`
	WebSocketPath  string `json:"ws_path"`
	EventPath      string `json:"event_path"`
	AccessToken    string `json:"access_token"`
	APIURL         string `json:"api_url"`
	ActionTimeout  string `json:"action_timeout"`
	PublishTimeout string `json:"publish_timeout"`
	EventBuffer    int    `json:"event_buffer"`
}

type parsedRuntimeConfig struct {
	listenAddr     string
	wsPath         string
	eventPath      string
	accessToken    string
	apiURL         string
	actionTimeout  time.Duration
	publishTimeout time.Duration
	eventBuffer    int
}

// Components groups everything one OneBot runtime contributes.
type Components struct {
	Source    otogi.EventSource
	Driver    otogi.Driver
	Sink      otogi.SinkDispatcher
	Directory otogi.MemberDirectory
}

// BuildRuntimeFromConfig builds one OneBot runtime from its config payload.
//
// Actions travel over the reverse WebSocket unless api_url names an HTTP API.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (Components, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return Components{}, fmt.Errorf("parse onebot runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	hub := NewHub(logger, cfg.accessToken, cfg.eventBuffer)
	server := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           hub.Routes(cfg.wsPath, cfg.eventPath),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	driver, err := NewDriver(
		server,
		hub,
		NewDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(asyncErrorLogger(logger)),
	)
	if err != nil {
		return Components{}, fmt.Errorf("new onebot driver: %w", err)
	}

	var caller ActionCaller = hub
	if cfg.apiURL != "" {
		caller = NewHTTPCaller(cfg.apiURL, cfg.accessToken, &http.Client{Timeout: cfg.actionTimeout})
	}
	outbound, err := NewOutbound(caller, cfg.actionTimeout, logger)
	if err != nil {
		return Components{}, fmt.Errorf("new onebot outbound: %w", err)
	}

	return Components{
		Source:    otogi.EventSource{Platform: DriverPlatform, ID: name},
		Driver:    driver,
		Sink:      outbound,
		Directory: outbound,
	}, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	var parsed runtimeConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := parsedRuntimeConfig{
		listenAddr:     strings.TrimSpace(parsed.ListenAddr),
		wsPath:         strings.TrimSpace(parsed.WebSocketPath),
		eventPath:      strings.TrimSpace(parsed.EventPath),
		accessToken:    strings.TrimSpace(parsed.AccessToken),
		apiURL:         strings.TrimSpace(parsed.APIURL),
		actionTimeout:  defaultActionTimeout,
		publishTimeout: defaultPublishTimeout,
		eventBuffer:    parsed.EventBuffer,
	}
	if cfg.listenAddr == "" {
		cfg.listenAddr = defaultListenAddr
	}
	if cfg.wsPath == "" {
		cfg.wsPath = defaultWebSocketPath
	}
	if cfg.eventPath == "" {
		cfg.eventPath = defaultEventPath
	}
	if cfg.eventBuffer <= 0 {
		cfg.eventBuffer = defaultEventBuffer
	}
	if !strings.HasPrefix(cfg.wsPath, "/") || !strings.HasPrefix(cfg.eventPath, "/") {
		return parsedRuntimeConfig{}, fmt.Errorf("ws_path and event_path must start with /")
	}
	if cfg.wsPath == cfg.eventPath {
		return parsedRuntimeConfig{}, fmt.Errorf("ws_path and event_path must differ")
	}

	var err error
	if cfg.actionTimeout, err = parseTimeout("action_timeout", parsed.ActionTimeout, cfg.actionTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.publishTimeout, err = parseTimeout("publish_timeout", parsed.PublishTimeout, cfg.publishTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}

	return cfg, nil
}

func parseTimeout(field string, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return timeout, nil
}
