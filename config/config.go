package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Cron     CronConfig     `yaml:"cron"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port     string `yaml:"port" env:"PORT"`
	Mode     string `yaml:"mode" env:"GIN_MODE"` // debug, release, test
	APIToken string `yaml:"api_token" env:"API_TOKEN"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER"` // sqlite, postgres
	DSN    string `yaml:"dsn" env:"DB_DSN"`
}

type FeedConfig struct {
	Link    string        `yaml:"link" env:"FEED_LINK"`
	Token   string        `yaml:"token" env:"RSS_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"FEED_TIMEOUT"`
}

type CronConfig struct {
	IngestInterval string        `yaml:"ingest_interval" env:"INGEST_INTERVAL"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout" env:"CYCLE_TIMEOUT"`
	RunOnStart     bool          `yaml:"run_on_start" env:"RUN_ON_START"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns the configuration used when no file or environment
// variable overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "data/posts.db",
		},
		Feed: FeedConfig{
			Timeout: 30 * time.Second,
		},
		Cron: CronConfig{
			IngestInterval: "@hourly",
			CycleTimeout:   10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at configPath (if it exists) over the defaults and
// then applies environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else {
		log.WithField("path", configPath).Info("Config file not found, using defaults")
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// Validate reports every setting that prevents the service from starting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode (GIN_MODE): unknown mode %q", c.Server.Mode))
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}

	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}

	if c.Feed.Link == "" {
		errs = append(errs, errors.New("feed.link (FEED_LINK): required"))
	} else if u, err := url.Parse(c.Feed.Link); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("feed.link (FEED_LINK): invalid URL %q", c.Feed.Link))
	}

	if c.Feed.Timeout <= 0 {
		errs = append(errs, errors.New("feed.timeout: must be positive"))
	}

	if c.Cron.CycleTimeout <= 0 {
		errs = append(errs, errors.New("cron.cycle_timeout: must be positive"))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// GetServerAddress returns the address the HTTP server listens on.
func (c *Config) GetServerAddress() string {
	// A bare port number gets the colon prefix
	if _, err := strconv.Atoi(c.Server.Port); err == nil {
		return ":" + c.Server.Port
	}
	return c.Server.Port
}
