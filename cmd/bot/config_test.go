package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"otogi-invite/internal/driver"
	"otogi-invite/modules/invitecount"
	"otogi-invite/pkg/otogi"
)

func writeConfig(t *testing.T, contents string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bot.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigFile, path)
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"OTOGI_LOG_LEVEL",
		"OTOGI_HTTP_ADDR",
		"INVITECOUNT_DATA_FILE",
		"INVITECOUNT_STORAGE",
		"INVITECOUNT_REWARD_MESSAGE",
	} {
		t.Setenv(key, "")
	}
}

func builtinRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: " Info ", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARNING", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "trace", wantErr: true},
		{input: "info+2", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.input, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(testCase.input)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", testCase.input, err, testCase.wantErr)
			}
			if err == nil && got != testCase.want {
				t.Fatalf("parseLogLevel(%q) = %v, want %v", testCase.input, got, testCase.want)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnvOverrides(t)
	writeConfig(t, `{
		"log_level":"warn",
		"http":{"addr":"127.0.0.1:8088"},
		"kernel":{
			"module_hook_timeout":"7s",
			"shutdown_timeout":"15s",
			"subscription_buffer":64,
			"subscription_workers":5,
			"redelivery_window":0
		},
		"drivers":[
			{"name":"qq-main","type":"onebot","config":{"listen_addr":"127.0.0.1:6700"}},
			{"name":"tg-main","type":"telegram","enabled":false,"config":{}}
		],
		"invitecount":{
			"only_stat_valid":true,
			"reward_message":"邀请满10人送月卡",
			"storage":"sqlite",
			"data_file":"state/invite.db"
		}
	}`)

	cfg, err := loadConfig(builtinRegistry(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.logLevel != slog.LevelWarn || cfg.httpAddr != "127.0.0.1:8088" {
		t.Fatalf("level/addr = %v/%q, want warn/127.0.0.1:8088", cfg.logLevel, cfg.httpAddr)
	}
	if cfg.moduleHookTimeout != 7*time.Second || cfg.shutdownTimeout != 15*time.Second {
		t.Fatalf("timeouts = %s/%s, want 7s/15s", cfg.moduleHookTimeout, cfg.shutdownTimeout)
	}
	if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 5 || cfg.redeliveryWindow != 0 {
		t.Fatalf("kernel = %d/%d/%d, want 64/5/0", cfg.subscriptionBuffer, cfg.subscriptionWorkers, cfg.redeliveryWindow)
	}

	wantDrivers := []driver.Definition{
		{Name: "qq-main", Type: "onebot", Enabled: true, Config: []byte(`{"listen_addr":"127.0.0.1:6700"}`)},
		{Name: "tg-main", Type: "telegram", Config: []byte(`{}`)},
	}
	if diff := cmp.Diff(wantDrivers, cfg.drivers); diff != "" {
		t.Fatalf("drivers mismatch (-want +got):\n%s", diff)
	}

	wantDefault := []otogi.EventSource{{Platform: otogi.PlatformOneBot, ID: "qq-main"}}
	if cfg.routingDefault == nil {
		t.Fatal("routing default = nil, want route derived from the only enabled driver")
	}
	if diff := cmp.Diff(wantDefault, cfg.routingDefault.Sources); diff != "" {
		t.Fatalf("default route mismatch (-want +got):\n%s", diff)
	}

	if !cfg.invite.OnlyStatValid || cfg.invite.Storage != invitecount.StorageSQLite {
		t.Fatalf("invite config = %+v", cfg.invite)
	}
	if cfg.invite.ResolvedDataFile() != "state/invite.db" || cfg.invite.RewardMessage != "邀请满10人送月卡" {
		t.Fatalf("invite config = %+v", cfg.invite)
	}
}

func TestLoadConfigExplicitRoutes(t *testing.T) {
	clearEnvOverrides(t)
	writeConfig(t, `{
		"drivers":[
			{"name":"qq-main","type":"onebot","config":{}},
			{"name":"tg-main","type":"telegram","config":{}}
		],
		"routing":{"modules":{"help":{"sources":[{"platform":"telegram"}]}}}
	}`)

	cfg, err := loadConfig(builtinRegistry(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.routingDefault != nil {
		t.Fatalf("routing default = %+v, want none with two drivers", cfg.routingDefault)
	}
	want := []otogi.EventSource{{Platform: otogi.PlatformTelegram}}
	if diff := cmp.Diff(want, cfg.moduleRoutes["help"].Sources); diff != "" {
		t.Fatalf("help route mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	writeConfig(t, `{
		"drivers":[{"name":"qq-main","type":"onebot","config":{}}],
		"invitecount":{"storage":"sqlite"}
	}`)
	t.Setenv("OTOGI_LOG_LEVEL", "debug")
	t.Setenv("OTOGI_HTTP_ADDR", ":9090")
	t.Setenv("INVITECOUNT_STORAGE", "JSON")
	t.Setenv("INVITECOUNT_DATA_FILE", "/var/lib/invite.json")
	t.Setenv("INVITECOUNT_REWARD_MESSAGE", "找管理员领奖")

	cfg, err := loadConfig(builtinRegistry(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.logLevel != slog.LevelDebug || cfg.httpAddr != ":9090" {
		t.Fatalf("level/addr = %v/%q", cfg.logLevel, cfg.httpAddr)
	}
	if cfg.invite.Storage != invitecount.StorageJSON || cfg.invite.DataFile != "/var/lib/invite.json" {
		t.Fatalf("invite storage = %s %s", cfg.invite.Storage, cfg.invite.DataFile)
	}
	if cfg.invite.RewardMessage != "找管理员领奖" {
		t.Fatalf("reward = %q", cfg.invite.RewardMessage)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	const oneDriver = `"drivers":[{"name":"qq","type":"onebot","config":{}}]`

	tests := []struct {
		name    string
		config  string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "no enabled drivers",
			config:  `{"drivers":[{"name":"qq","type":"onebot","enabled":false,"config":{}}]}`,
			wantErr: "at least one enabled driver",
		},
		{
			name:    "driver config missing",
			config:  `{"drivers":[{"name":"qq","type":"onebot"}]}`,
			wantErr: "drivers[0].config",
		},
		{
			name:    "unknown driver type",
			config:  `{"drivers":[{"name":"qq","type":"irc","config":{}}]}`,
			wantErr: "drivers[qq].type",
		},
		{
			name: "duplicate driver name",
			config: `{"drivers":[
				{"name":"qq","type":"onebot","config":{}},
				{"name":"qq","type":"onebot","enabled":false,"config":{}}
			]}`,
			wantErr: "duplicate name",
		},
		{
			name:    "unknown routed module",
			config:  `{` + oneDriver + `,"routing":{"modules":{"pingpong":{"sources":[{"id":"qq"}]}}}}`,
			wantErr: "routing.modules.pingpong: unknown module",
		},
		{
			name:    "route to unknown driver",
			config:  `{` + oneDriver + `,"routing":{"default":{"sources":[{"platform":"telegram","id":"tg"}]}}}`,
			wantErr: "unknown driver id tg",
		},
		{
			name:    "route without sources",
			config:  `{` + oneDriver + `,"routing":{"default":{"sources":[]}}}`,
			wantErr: "routing.default.sources is required",
		},
		{
			name:    "empty source reference",
			config:  `{` + oneDriver + `,"routing":{"default":{"sources":[{"id":" "}]}}}`,
			wantErr: "routing.default.sources[0]: empty source reference",
		},
		{
			name:    "bad kernel duration",
			config:  `{"kernel":{"shutdown_timeout":"-1s"},` + oneDriver + `}`,
			wantErr: "kernel.shutdown_timeout",
		},
		{
			name:    "zero subscription buffer",
			config:  `{"kernel":{"subscription_buffer":0},` + oneDriver + `}`,
			wantErr: "kernel.subscription_buffer",
		},
		{
			name:    "negative redelivery window",
			config:  `{"kernel":{"redelivery_window":-1},` + oneDriver + `}`,
			wantErr: "kernel.redelivery_window",
		},
		{
			name:    "bad invitecount storage",
			config:  `{` + oneDriver + `,"invitecount":{"storage":"redis"}}`,
			wantErr: "parse invitecount",
		},
		{
			name:    "bad storage override",
			config:  `{` + oneDriver + `}`,
			env:     map[string]string{"INVITECOUNT_STORAGE": "redis"},
			wantErr: "apply invitecount env",
		},
		{
			name:    "bad log level override",
			config:  `{` + oneDriver + `}`,
			env:     map[string]string{"OTOGI_LOG_LEVEL": "trace"},
			wantErr: "OTOGI_LOG_LEVEL",
		},
		{
			name:    "malformed file",
			config:  `{"drivers":`,
			wantErr: "parse config file",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			clearEnvOverrides(t)
			writeConfig(t, testCase.config)
			for key, value := range testCase.env {
				t.Setenv(key, value)
			}

			_, err := loadConfig(builtinRegistry(t))
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("loadConfig() error = %v, want %q", err, testCase.wantErr)
			}
		})
	}
}

func TestResolveConfigFilePath(t *testing.T) {
	t.Setenv(envConfigFile, "")
	dir := t.TempDir()
	t.Chdir(dir)

	if _, err := resolveConfigFilePath(); err == nil || !strings.Contains(err.Error(), envConfigFile) {
		t.Fatalf("resolveConfigFilePath() error = %v, want hint naming %s", err, envConfigFile)
	}

	if err := os.MkdirAll(filepath.Join(dir, "bin", "config"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, alternateConfigFilePath), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := resolveConfigFilePath()
	if err != nil || got != alternateConfigFilePath {
		t.Fatalf("resolveConfigFilePath() = %q, %v; want %s", got, err, alternateConfigFilePath)
	}
}
