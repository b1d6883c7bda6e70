package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/logging"
	"github.com/FairForge/vaultscan/internal/scanner"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName names the profile used when none is configured
const DefaultProfileName = "Home directory"

type Config struct {
	Engine   EngineConfig         `yaml:"engine"`
	Scan     ScanConfig           `yaml:"scan"`
	Logging  logging.LoggerConfig `yaml:"logging"`
	Server   ServerConfig         `yaml:"server"`
	Reports  ReportsConfig        `yaml:"reports"`
	Profiles []Profile            `yaml:"profiles"`
}

type EngineConfig struct {
	// DatabasePath empty means use SystemDatabasePath
	DatabasePath       string        `yaml:"database_path"`
	SystemDatabasePath string        `yaml:"system_database_path"`
	DisposeGrace       time.Duration `yaml:"dispose_grace"`
	WatchDatabase      bool          `yaml:"watch_database"`
}

type ScanConfig struct {
	CounterWait  time.Duration `yaml:"counter_wait"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
	// IncludeHidden defaults to true, so dot files and dot directories are
	// scanned. This departs from the desktop scanner's listing, which
	// skipped hidden entries; set it false to get that behaviour back.
	IncludeHidden bool   `yaml:"include_hidden"`
	Locale        string `yaml:"locale"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type ReportsConfig struct {
	// DSN selects the postgres store; empty keeps reports in memory
	DSN string `yaml:"dsn"`
}

// Profile is a named list of paths to scan
type Profile struct {
	Name  string   `yaml:"name" json:"name"`
	Paths []string `yaml:"paths" json:"paths"`
}

var ErrProfileNotFound = errors.New("profile not found")

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			SystemDatabasePath: "/var/lib/clamav",
			DisposeGrace:       engine.DefaultGrace,
			WatchDatabase:      true,
		},
		Scan: ScanConfig{
			CounterWait:   scanner.DefaultCounterWait,
			ShutdownWait:  scanner.DefaultShutdownWait,
			IncludeHidden: true,
			Locale:        "en",
		},
		Logging: logging.LoggerConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatJSON,
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Load reads a yaml file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	LoadFromEnv(cfg)
	cfg.ensureProfiles()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Engine.DisposeGrace < 0 {
		return fmt.Errorf("config: engine.dispose_grace must not be negative")
	}
	if c.Scan.CounterWait < 0 || c.Scan.ShutdownWait < 0 {
		return fmt.Errorf("config: scan waits must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Engine.DatabasePath == "" && c.Engine.SystemDatabasePath == "" {
		return fmt.Errorf("config: no database path configured")
	}

	seen := make(map[string]bool)
	for _, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("config: profile without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate profile %q", p.Name)
		}
		seen[p.Name] = true
	}

	return c.Logging.Validate()
}

// Profile looks a profile up by name
func (c *Config) Profile(name string) (Profile, error) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// EnginePool returns the pool settings
func (c *Config) EnginePool() engine.Config {
	return engine.Config{
		DatabasePath:       c.Engine.DatabasePath,
		SystemDatabasePath: c.Engine.SystemDatabasePath,
		Grace:              c.Engine.DisposeGrace,
	}
}

// Scanner returns the orchestrator settings
func (c *Config) Scanner() scanner.Config {
	return scanner.Config{
		CounterWait:   c.Scan.CounterWait,
		ShutdownWait:  c.Scan.ShutdownWait,
		IncludeHidden: c.Scan.IncludeHidden,
		Locale:        c.Scan.Locale,
	}
}

func (c *Config) ensureProfiles() {
	if len(c.Profiles) > 0 {
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	c.Profiles = []Profile{{Name: DefaultProfileName, Paths: []string{home}}}
}
