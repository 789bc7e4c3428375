// Package config loads the klinelab YAML configuration with .env and
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"klinelab/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the klinelab platform.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Market  Market  `yaml:"market"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
}

// Storage selects and parameterises the persistence backend.
type Storage struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
	// DataDir holds parquet bar files and trade exports.
	DataDir string `yaml:"data_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Market enumerates the recognised symbol/interval series.
type Market struct {
	Symbols   []string `yaml:"symbols"`
	Intervals []string `yaml:"intervals"`
}

// Alpaca holds credentials for the Alpaca market-data API used by the
// crypto bar fetcher.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration at path, then applies .env and
// environment variable overrides and fills defaults. A missing file is not
// an error; the defaults plus environment are enough to run locally.
func Load(path string) (*Config, error) {
	// Values already exported in the environment win over .env entries.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fall through to defaults.
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	// Component Postgres variables compose a URL when no full URL is given.
	host := os.Getenv("POSTGRES_HOST")
	if host != "" && cfg.Storage.PostgresURL == "" {
		port := envOr("POSTGRES_PORT", "5432")
		db := envOr("POSTGRES_DB", "klinelab")
		user := envOr("POSTGRES_USER", "postgres")
		pass := os.Getenv("POSTGRES_PASSWORD")
		cfg.Storage.PostgresURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, pass, host, port, db)
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca SDK variable names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		if cfg.Storage.PostgresURL != "" {
			cfg.Storage.Backend = "postgres"
		} else {
			cfg.Storage.Backend = "sqlite"
		}
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "klinelab.db"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8082
	}
	if len(cfg.Market.Symbols) == 0 {
		cfg.Market.Symbols = domain.DefaultSymbols
	}
	if len(cfg.Market.Intervals) == 0 {
		cfg.Market.Intervals = domain.DefaultIntervals
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
