package invitecount

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultRewardMessage is replied by the reward command until configured.
const DefaultRewardMessage = "暂无奖励内容\n请联系管理员在WebUI配置奖励说明"

// StorageKind selects the ledger backend.
type StorageKind string

const (
	// StorageJSON keeps the ledger in one JSON document.
	StorageJSON StorageKind = "json"
	// StorageSQLite keeps the ledger in a SQLite table.
	StorageSQLite StorageKind = "sqlite"
)

const (
	defaultJSONDataFile   = "data/plugin-data/invitecount.json"
	defaultSQLiteDataFile = "data/plugin-data/invitecount.db"
)

// Config configures invitecount behavior.
type Config struct {
	// OnlyStatValid limits kicked and left counts to present invitees.
	OnlyStatValid bool
	// ShowInviter resolves the inviter's display name on lookups.
	ShowInviter bool
	// RewardMessage is the reward command reply.
	RewardMessage string
	// AllowAtQuery lets a mention select the lookup target.
	AllowAtQuery bool
	// SyncRosterOnQuery refreshes cached nicknames from the roster before a lookup.
	SyncRosterOnQuery bool
	// Storage selects the ledger backend.
	Storage StorageKind
	// DataFile is the ledger location; empty selects a per-backend default.
	DataFile string
}

// DefaultConfig returns the out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		ShowInviter:       true,
		RewardMessage:     DefaultRewardMessage,
		AllowAtQuery:      true,
		SyncRosterOnQuery: true,
		Storage:           StorageJSON,
	}
}

type fileConfig struct {
	OnlyStatValid     *bool   `json:"only_stat_valid"`
	ShowInviter       *bool   `json:"show_inviter"`
	RewardMessage     *string `json:"reward_message"`
	AllowAtQuery      *bool   `json:"allow_at_query"`
	SyncRosterOnQuery *bool   `json:"sync_roster_on_query"`
	Storage           string  `json:"storage"`
	DataFile          string  `json:"data_file"`
}

// ParseConfig overlays a JSON config section onto DefaultConfig.
// An empty section yields the defaults.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cfg, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	var parsed fileConfig
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse invitecount config: %w", err)
	}

	if parsed.OnlyStatValid != nil {
		cfg.OnlyStatValid = *parsed.OnlyStatValid
	}
	if parsed.ShowInviter != nil {
		cfg.ShowInviter = *parsed.ShowInviter
	}
	if parsed.RewardMessage != nil {
		cfg.RewardMessage = *parsed.RewardMessage
	}
	if parsed.AllowAtQuery != nil {
		cfg.AllowAtQuery = *parsed.AllowAtQuery
	}
	if parsed.SyncRosterOnQuery != nil {
		cfg.SyncRosterOnQuery = *parsed.SyncRosterOnQuery
	}
	if storage := strings.TrimSpace(parsed.Storage); storage != "" {
		cfg.Storage = StorageKind(strings.ToLower(storage))
	}
	cfg.DataFile = strings.TrimSpace(parsed.DataFile)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("parse invitecount config: %w", err)
	}

	return cfg, nil
}

// Validate checks config coherence.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageJSON, StorageSQLite:
	default:
		return fmt.Errorf("unsupported storage %q", c.Storage)
	}

	return nil
}

// ResolvedDataFile returns DataFile or the backend default.
func (c Config) ResolvedDataFile() string {
	if c.DataFile != "" {
		return c.DataFile
	}
	if c.Storage == StorageSQLite {
		return defaultSQLiteDataFile
	}

	return defaultJSONDataFile
}

// OpenStore opens the configured ledger backend.
func OpenStore(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	path := cfg.ResolvedDataFile()
	switch cfg.Storage {
	case StorageSQLite:
		store, err := OpenSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	default:
		store, err := NewFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	}
}
