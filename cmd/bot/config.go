package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"otogi-invite/internal/driver"
	"otogi-invite/internal/kernel"
	"otogi-invite/modules/invitecount"
	"otogi-invite/pkg/otogi"
)

const (
	envConfigFile           = "OTOGI_CONFIG_FILE"
	defaultConfigFilePath   = "config/bot.json"
	alternateConfigFilePath = "bin/config/bot.json"

	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultRedeliveryWindow   = 512
)

// routableModules are the module names routing.modules may refer to.
var routableModules = []string{"invitecount", "help"}

type appConfig struct {
	logLevel slog.Level
	httpAddr string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	redeliveryWindow    int

	drivers        []driver.Definition
	routingDefault *kernel.ModuleRoute
	moduleRoutes   map[string]kernel.ModuleRoute

	invite invitecount.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:            slog.LevelInfo,
		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		redeliveryWindow:    defaultRedeliveryWindow,
		moduleRoutes:        make(map[string]kernel.ModuleRoute),
		invite:              invitecount.DefaultConfig(),
	}
}

// loadConfig reads the config file, applies environment overrides, and
// validates the result against the driver registry.
func loadConfig(registry *driver.Registry) (appConfig, error) {
	path, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return appConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return appConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := file.apply(&cfg); err != nil {
		return appConfig{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", path, err)
	}

	return cfg, nil
}

// resolveConfigFilePath prefers OTOGI_CONFIG_FILE, then the first existing
// default location.
func resolveConfigFilePath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		return path, nil
	}

	for _, candidate := range []string{defaultConfigFilePath, alternateConfigFilePath} {
		info, err := os.Stat(candidate)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		case info.IsDir():
			return "", fmt.Errorf("config file %s is a directory", candidate)
		}
		return candidate, nil
	}

	return "", fmt.Errorf("config file not found; create %s or %s, or set %s",
		defaultConfigFilePath, alternateConfigFilePath, envConfigFile)
}

type fileConfig struct {
	LogLevel string `json:"log_level"`
	HTTP     struct {
		Addr string `json:"addr"`
	} `json:"http"`
	Kernel      fileKernelConfig  `json:"kernel"`
	Drivers     []fileDriverEntry `json:"drivers"`
	Routing     fileRoutingConfig `json:"routing"`
	Invitecount json.RawMessage   `json:"invitecount"`
}

func (f fileConfig) apply(cfg *appConfig) error {
	if raw := strings.TrimSpace(f.LogLevel); raw != "" {
		level, err := parseLogLevel(raw)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	cfg.httpAddr = strings.TrimSpace(f.HTTP.Addr)

	if err := f.Kernel.apply(cfg); err != nil {
		return err
	}
	for index, entry := range f.Drivers {
		definition, err := entry.definition(index)
		if err != nil {
			return err
		}
		cfg.drivers = append(cfg.drivers, definition)
	}
	if err := f.Routing.apply(cfg); err != nil {
		return err
	}

	invite, err := invitecount.ParseConfig(f.Invitecount)
	if err != nil {
		return fmt.Errorf("parse invitecount: %w", err)
	}
	cfg.invite = invite

	return nil
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
	RedeliveryWindow    *int   `json:"redelivery_window"`
}

func (k fileKernelConfig) apply(cfg *appConfig) error {
	timeouts := []struct {
		field string
		raw   string
		into  *time.Duration
	}{
		{"module_hook_timeout", k.ModuleHookTimeout, &cfg.moduleHookTimeout},
		{"shutdown_timeout", k.ShutdownTimeout, &cfg.shutdownTimeout},
	}
	for _, timeout := range timeouts {
		raw := strings.TrimSpace(timeout.raw)
		if raw == "" {
			continue
		}
		value, err := time.ParseDuration(raw)
		if err == nil && value <= 0 {
			err = errors.New("must be > 0")
		}
		if err != nil {
			return fmt.Errorf("parse kernel.%s: %w", timeout.field, err)
		}
		*timeout.into = value
	}

	counts := []struct {
		field string
		raw   *int
		min   int
		into  *int
	}{
		{"subscription_buffer", k.SubscriptionBuffer, 1, &cfg.subscriptionBuffer},
		{"subscription_workers", k.SubscriptionWorkers, 1, &cfg.subscriptionWorkers},
		{"redelivery_window", k.RedeliveryWindow, 0, &cfg.redeliveryWindow},
	}
	for _, count := range counts {
		if count.raw == nil {
			continue
		}
		if *count.raw < count.min {
			return fmt.Errorf("parse kernel.%s: must be >= %d", count.field, count.min)
		}
		*count.into = *count.raw
	}

	return nil
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// definition converts one drivers[] entry. Entries are enabled unless
// "enabled" is explicitly false.
func (e fileDriverEntry) definition(index int) (driver.Definition, error) {
	if len(e.Config) == 0 {
		return driver.Definition{}, fmt.Errorf("parse drivers[%d].config: required", index)
	}

	return driver.Definition{
		Name:    strings.TrimSpace(e.Name),
		Type:    strings.TrimSpace(e.Type),
		Enabled: e.Enabled == nil || *e.Enabled,
		Config:  slices.Clone(e.Config),
	}, nil
}

type fileRoutingConfig struct {
	Default *fileModuleRoute           `json:"default"`
	Modules map[string]fileModuleRoute `json:"modules"`
}

func (r fileRoutingConfig) apply(cfg *appConfig) error {
	if r.Default != nil {
		route, err := r.Default.route("routing.default")
		if err != nil {
			return err
		}
		cfg.routingDefault = &route
	}
	for moduleName, raw := range r.Modules {
		route, err := raw.route("routing.modules." + moduleName)
		if err != nil {
			return err
		}
		cfg.moduleRoutes[moduleName] = route
	}

	return nil
}

type fileModuleRoute struct {
	Sources []struct {
		Platform string `json:"platform"`
		ID       string `json:"id"`
	} `json:"sources"`
}

func (r fileModuleRoute) route(scope string) (kernel.ModuleRoute, error) {
	if len(r.Sources) == 0 {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sources is required", scope)
	}

	sources := make([]otogi.EventSource, len(r.Sources))
	for index, ref := range r.Sources {
		sources[index] = otogi.EventSource{
			Platform: otogi.Platform(strings.TrimSpace(ref.Platform)),
			ID:       strings.TrimSpace(ref.ID),
		}
		if sources[index] == (otogi.EventSource{}) {
			return kernel.ModuleRoute{}, fmt.Errorf("%s.sources[%d]: empty source reference", scope, index)
		}
	}

	return kernel.ModuleRoute{Sources: sources}, nil
}

// envOverrides are deployment-level settings that win over the config file.
type envOverrides struct {
	LogLevel      string `env:"OTOGI_LOG_LEVEL"`
	HTTPAddr      string `env:"OTOGI_HTTP_ADDR"`
	DataFile      string `env:"INVITECOUNT_DATA_FILE"`
	Storage       string `env:"INVITECOUNT_STORAGE"`
	RewardMessage string `env:"INVITECOUNT_REWARD_MESSAGE"`
}

func applyEnvOverrides(cfg *appConfig) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if raw := strings.TrimSpace(overrides.LogLevel); raw != "" {
		level, err := parseLogLevel(raw)
		if err != nil {
			return fmt.Errorf("parse OTOGI_LOG_LEVEL: %w", err)
		}
		cfg.logLevel = level
	}
	if addr := strings.TrimSpace(overrides.HTTPAddr); addr != "" {
		cfg.httpAddr = addr
	}
	if dataFile := strings.TrimSpace(overrides.DataFile); dataFile != "" {
		cfg.invite.DataFile = dataFile
	}
	if storage := strings.TrimSpace(overrides.Storage); storage != "" {
		cfg.invite.Storage = invitecount.StorageKind(strings.ToLower(storage))
	}
	if overrides.RewardMessage != "" {
		cfg.invite.RewardMessage = overrides.RewardMessage
	}
	if err := cfg.invite.Validate(); err != nil {
		return fmt.Errorf("apply invitecount env: %w", err)
	}

	return nil
}

// validateAppConfig checks driver entries and routes. With exactly one
// enabled driver and no default route, every module is routed to it.
func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if registry == nil {
		return errors.New("nil driver registry")
	}

	enabled, err := enabledDrivers(cfg.drivers, registry)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		return errors.New("at least one enabled driver is required")
	}

	for moduleName, route := range cfg.moduleRoutes {
		if !slices.Contains(routableModules, moduleName) {
			return fmt.Errorf("routing.modules.%s: unknown module", moduleName)
		}
		if err := checkRouteSources(route, enabled, "routing.modules."+moduleName); err != nil {
			return err
		}
	}
	if cfg.routingDefault != nil {
		return checkRouteSources(*cfg.routingDefault, enabled, "routing.default")
	}

	if len(enabled) == 1 {
		for name, platform := range enabled {
			cfg.routingDefault = &kernel.ModuleRoute{Sources: []otogi.EventSource{{Platform: platform, ID: name}}}
		}
	}

	return nil
}

// enabledDrivers maps each enabled driver name to its platform.
func enabledDrivers(definitions []driver.Definition, registry *driver.Registry) (map[string]otogi.Platform, error) {
	seen := make(map[string]bool, len(definitions))
	enabled := make(map[string]otogi.Platform, len(definitions))
	for _, definition := range definitions {
		switch {
		case definition.Name == "":
			return nil, errors.New("drivers[].name is required")
		case definition.Type == "":
			return nil, fmt.Errorf("drivers[%s].type is required", definition.Name)
		case seen[definition.Name]:
			return nil, fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = true
		if !definition.Enabled {
			continue
		}

		platform, err := registry.PlatformForType(definition.Type)
		if err != nil {
			return nil, fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabled[definition.Name] = platform
	}

	return enabled, nil
}

// checkRouteSources rejects route sources naming a driver that is not enabled.
func checkRouteSources(route kernel.ModuleRoute, enabled map[string]otogi.Platform, scope string) error {
	for index, source := range route.Sources {
		if source.ID == "" {
			continue
		}
		if _, ok := enabled[source.ID]; !ok {
			return fmt.Errorf("%s.sources[%d]: unknown driver id %s", scope, index, source.ID)
		}
	}

	return nil
}

// parseLogLevel accepts slog level names and "warning".
func parseLogLevel(raw string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		name = "warn"
	}

	var level slog.Level
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, name) {
		return level, fmt.Errorf("unsupported level %q", raw)
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return level, fmt.Errorf("unsupported level %q: %w", raw, err)
	}

	return level, nil
}
