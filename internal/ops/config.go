// Package ops aggregates the runtime configuration for every pipeline
// component and hashes it so audit records can pin the config version a
// decision ran under.
package ops

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/yanun0323/errors"

	"main/internal/arbiter"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/market"
	"main/internal/marketctx"
	"main/internal/risk"
	"main/internal/thought"
	"main/pkg/canon"
)

const envPrefix = "PIPELINE_"

// Audit store backends.
const (
	AuditBackendMemory   = "memory"
	AuditBackendPostgres = "postgres"
)

// AuditConfig selects the audit store backend.
type AuditConfig struct {
	// Backend is "memory" or "postgres".
	Backend        string `koanf:"backend" json:"backend"`
	MemoryCapacity int    `koanf:"memoryCapacity" json:"memoryCapacity"`
}

// DatabaseConfig points the postgres audit backend at its database.
type DatabaseConfig struct {
	Host     string `koanf:"host" json:"host"`
	Port     int    `koanf:"port" json:"port"`
	User     string `koanf:"user" json:"user"`
	Password string `koanf:"password" json:"-"`
	Database string `koanf:"database" json:"database"`
	SSLMode  string `koanf:"sslmode" json:"sslmode"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Addr       string `koanf:"addr" json:"addr"`
	AdminToken string `koanf:"adminToken" json:"-"`
}

// Config is the full runtime configuration.
type Config struct {
	Symbols  []string      `koanf:"symbols" json:"symbols"`
	Interval time.Duration `koanf:"interval" json:"interval"`

	Bus      bus.Config       `koanf:"bus" json:"bus"`
	Market   market.Config    `koanf:"market" json:"market"`
	Context  marketctx.Config `koanf:"context" json:"context"`
	Thought  thought.Config   `koanf:"thought" json:"thought"`
	Arbiter  arbiter.Config   `koanf:"arbiter" json:"arbiter"`
	Risk     risk.Config      `koanf:"risk" json:"risk"`
	Executor executor.Config  `koanf:"executor" json:"executor"`
	Audit    AuditConfig      `koanf:"audit" json:"audit"`
	Database DatabaseConfig   `koanf:"database" json:"database"`
	API      APIConfig        `koanf:"api" json:"api"`
}

// DefaultConfig returns a runnable paper-mode configuration.
func DefaultConfig() Config {
	return Config{
		Symbols:  []string{"BTCUSDT"},
		Interval: 5 * time.Second,
		Bus:      bus.DefaultConfig(),
		Context:  marketctx.DefaultConfig(),
		Thought:  thought.DefaultConfig(),
		Arbiter:  arbiter.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Executor: executor.DefaultConfig(),
		Audit:    AuditConfig{Backend: AuditBackendMemory, MemoryCapacity: 4096},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
		API:      APIConfig{Addr: ":8080"},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Symbols) == 0 {
		c.Symbols = def.Symbols
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.Executor.Mode == "" {
		c.Executor.Mode = def.Executor.Mode
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = def.Audit.Backend
	}
	if c.Audit.MemoryCapacity == 0 {
		c.Audit.MemoryCapacity = def.Audit.MemoryCapacity
	}
	if c.Database.Host == "" {
		c.Database.Host = def.Database.Host
	}
	if c.Database.Port == 0 {
		c.Database.Port = def.Database.Port
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = def.Database.SSLMode
	}
	if c.API.Addr == "" {
		c.API.Addr = def.API.Addr
	}
	return c
}

// Validate checks the ops-level fields. Component sections are validated by
// their own constructors after component defaults are applied.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("invalid ops config: interval must be > 0")
	}
	switch c.Audit.Backend {
	case AuditBackendMemory, AuditBackendPostgres:
	default:
		return fmt.Errorf("invalid ops config: unknown audit backend %q", c.Audit.Backend)
	}
	return nil
}

// Hash is the canonical hash of the config, recorded on audit records.
// Credentials are excluded from serialization and never hashed.
func (c Config) Hash() (string, error) {
	return canon.Hash(c)
}

// Load reads the yaml file at path, overlays PIPELINE_ environment
// variables, then applies defaults and validates. A missing file is fine
// when path is empty; a named file must exist.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, errors.Wrap(err, "load config file")
			}
			return Config{}, errors.Wrap(err, "config file missing")
		}
	}

	// PIPELINE_RISK__MAXLEVERAGE=3 overrides risk.maxleverage
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return Config{}, errors.Wrap(err, "load env overrides")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
