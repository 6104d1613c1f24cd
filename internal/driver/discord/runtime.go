package discord

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"otogi-invite/pkg/otogi"
)

const gatewayIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildInvites |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

type runtimeConfig struct {
	Token          string `json:"token"`
	PublishTimeout string `json:"publish_timeout"`
	RPCTimeout     string `json:"rpc_timeout"`
	KickLookback   string `json:"kick_lookback"`
	UpdateBuffer   int    `json:"update_buffer"`
}

type parsedRuntimeConfig struct {
	token          string
	publishTimeout time.Duration
	rpcTimeout     time.Duration
	kickLookback   time.Duration
	updateBuffer   int
}

// Components groups everything one Discord runtime contributes.
type Components struct {
	Source    otogi.EventSource
	Driver    otogi.Driver
	Sink      otogi.SinkDispatcher
	Directory otogi.MemberDirectory
}

// BuildRuntimeFromConfig builds one Discord bot runtime from its config payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (Components, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return Components{}, fmt.Errorf("parse discord runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	session, err := discordgo.New("Bot " + cfg.token)
	if err != nil {
		return Components{}, fmt.Errorf("new discord session: %w", err)
	}
	session.Identify.Intents = gatewayIntents

	channels := NewChannelCache(0)
	gateway, err := NewGateway(session, channels, cfg.updateBuffer, logger)
	if err != nil {
		return Components{}, fmt.Errorf("new discord gateway: %w", err)
	}
	gateway.kickLookback = cfg.kickLookback
	gateway.rpcTimeout = cfg.rpcTimeout

	driver, err := NewDriver(
		session,
		gateway,
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(asyncErrorLogger(logger)),
	)
	if err != nil {
		return Components{}, fmt.Errorf("new discord driver: %w", err)
	}

	outbound, err := NewOutbound(session, channels, cfg.rpcTimeout)
	if err != nil {
		return Components{}, fmt.Errorf("new discord outbound: %w", err)
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
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		token:        strings.TrimPrefix(strings.TrimSpace(parsed.Token), "Bot "),
		updateBuffer: parsed.UpdateBuffer,
	}
	if cfg.token == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("token is required")
	}
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultUpdateBuffer
	}

	var err error
	if cfg.publishTimeout, err = parseDuration("publish_timeout", parsed.PublishTimeout, defaultPublishTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.rpcTimeout, err = parseDuration("rpc_timeout", parsed.RPCTimeout, defaultRPCTimeout); err != nil {
		return parsedRuntimeConfig{}, err
	}
	if cfg.kickLookback, err = parseDuration("kick_lookback", parsed.KickLookback, defaultKickLookback); err != nil {
		return parsedRuntimeConfig{}, err
	}

	return cfg, nil
}

func parseDuration(field string, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}
