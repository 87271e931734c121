// Package config loads server settings from an optional TOML file and the
// environment. Environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

type Config struct {
	HTTPAddr        string        `toml:"http_addr" env:"CARBON_HTTP_ADDR"`
	GRPCAddr        string        `toml:"grpc_addr" env:"CARBON_GRPC_ADDR"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"CARBON_SHUTDOWN_TIMEOUT"`

	Store StoreConfig `toml:"store" envPrefix:"CARBON_STORE_"`

	// RedisAddr enables Redis-backed idempotency, payments and the event
	// stream. Empty keeps everything in process memory.
	RedisAddr string `toml:"redis_addr" env:"CARBON_REDIS_ADDR"`

	Market MarketConfig `toml:"market" envPrefix:"CARBON_"`
	Oracle OracleConfig `toml:"oracle" envPrefix:"CARBON_ORACLE_"`
	Log    LogConfig    `toml:"log" envPrefix:"CARBON_"`
}

type StoreConfig struct {
	Driver     string `toml:"driver" env:"DRIVER"`
	SQLitePath string `toml:"sqlite_path" env:"SQLITE_PATH"`
	MySQLDSN   string `toml:"mysql_dsn" env:"MYSQL_DSN"`
}

type MarketConfig struct {
	Owner          string  `toml:"owner" env:"OWNER"`
	Treasury       string  `toml:"treasury" env:"TREASURY"`
	FeeBasisPoints int64   `toml:"fee_basis_points" env:"FEE_BPS"`
	OutboxSize     int     `toml:"outbox_size" env:"OUTBOX_SIZE"`
	RateLimit      float64 `toml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst      int     `toml:"rate_burst" env:"RATE_BURST"`
}

type OracleConfig struct {
	URL           string        `toml:"url" env:"URL"`
	MinConfidence float64       `toml:"min_confidence" env:"MIN_CONFIDENCE"`
	Timeout       time.Duration `toml:"timeout" env:"TIMEOUT"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

// Default returns the settings used when neither file nor environment
// provide a value.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		ShutdownTimeout: 5 * time.Second,
		Store: StoreConfig{
			Driver:     StoreMemory,
			SQLitePath: "carbon.db",
		},
		Market: MarketConfig{
			Owner:          "platform",
			FeeBasisPoints: 250,
			OutboxSize:     10000,
			RateLimit:      50,
			RateBurst:      100,
		},
		Oracle: OracleConfig{
			MinConfidence: 0.8,
			Timeout:       10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("read config %s: unknown keys %v", path, undecoded)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case StoreMySQL:
		if strings.TrimSpace(c.Store.MySQLDSN) == "" {
			errs = append(errs, errors.New("store.mysql_dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if strings.TrimSpace(c.Market.Owner) == "" {
		errs = append(errs, errors.New("market.owner is required"))
	}
	if c.Market.FeeBasisPoints < 0 || c.Market.FeeBasisPoints > 10000 {
		errs = append(errs, fmt.Errorf("market.fee_basis_points %d out of range [0, 10000]", c.Market.FeeBasisPoints))
	}
	if c.Market.OutboxSize < 1 {
		errs = append(errs, errors.New("market.outbox_size must be positive"))
	}
	if c.Market.RateLimit < 0 || c.Market.RateBurst < 0 {
		errs = append(errs, errors.New("market.rate_limit and market.rate_burst must not be negative"))
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("oracle.min_confidence %v out of range [0, 1]", c.Oracle.MinConfidence))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
