package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/provisohq/proviso/internal/sla"
)

type Config struct {
	DB            DBConfig          `yaml:"db"`
	ContractsPath string            `yaml:"contracts_path"`
	Throttle      ThrottleConfig    `yaml:"throttle"`
	Maintenance   MaintenanceConfig `yaml:"maintenance"`
	SLA           sla.Config        `yaml:"sla"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ThrottleConfig struct {
	// Window debounces explain recomputation per submission, as a Go
	// duration string. "0s" disables the throttle.
	Window string `yaml:"window"`
}

type MaintenanceConfig struct {
	MaxAgeDays          int    `yaml:"max_age_days"`
	MaxRows             int    `yaml:"max_rows"`
	MinDeletedForVacuum int    `yaml:"min_deleted_for_vacuum"`
	Interval            string `yaml:"interval"`
}

// Default is the configuration used when no config file is given: an
// in-memory store and the conventional contracts path.
func Default() Config {
	cfg := Config{ContractsPath: "contracts/proviso.yaml"}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "memory"
	}
	if c.Throttle.Window == "" {
		c.Throttle.Window = "0s"
	}
	if c.Maintenance.Interval == "" {
		c.Maintenance.Interval = "1h"
	}
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("db.driver must be one of memory, sqlite, postgres; got %q", c.DB.Driver)
	}

	if c.ContractsPath == "" {
		return fmt.Errorf("contracts_path is required")
	}

	if c.Throttle.Window != "" {
		if _, err := time.ParseDuration(c.Throttle.Window); err != nil {
			return fmt.Errorf("throttle.window: %w", err)
		}
	}
	if c.Maintenance.Interval != "" {
		interval, err := time.ParseDuration(c.Maintenance.Interval)
		if err != nil {
			return fmt.Errorf("maintenance.interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("maintenance.interval must be positive, got %s", interval)
		}
	}
	if c.Maintenance.MaxAgeDays < 0 {
		return fmt.Errorf("maintenance.max_age_days must not be negative")
	}
	if c.Maintenance.MaxRows < 0 {
		return fmt.Errorf("maintenance.max_rows must not be negative")
	}
	if c.Maintenance.MinDeletedForVacuum < 0 {
		return fmt.Errorf("maintenance.min_deleted_for_vacuum must not be negative")
	}

	return nil
}

// ThrottleWindow returns the parsed debounce window. Call only after
// Validate has accepted the config.
func (c Config) ThrottleWindow() time.Duration {
	window, err := time.ParseDuration(c.Throttle.Window)
	if err != nil {
		return 0
	}
	return window
}

// MaintenanceInterval returns the parsed maintenance cadence. Call
// only after Validate has accepted the config.
func (c Config) MaintenanceInterval() time.Duration {
	interval, err := time.ParseDuration(c.Maintenance.Interval)
	if err != nil || interval <= 0 {
		return time.Hour
	}
	return interval
}
