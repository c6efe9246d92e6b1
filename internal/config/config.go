// Package config loads client settings from an optional YAML file overlaid
// with ARTIFACTS_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultWSURL is the fallback endpoint of the authority.
const DefaultWSURL = "ws://localhost:3001/ws"

type Config struct {
	WSURL        string    `yaml:"ws_url"        env:"ARTIFACTS_WS_URL"`
	StrictSchema bool      `yaml:"strict_schema" env:"ARTIFACTS_STRICT_SCHEMA"`
	JournalDir   string    `yaml:"journal_dir"   env:"ARTIFACTS_JOURNAL_DIR"`
	HistoryDB    string    `yaml:"history_db"    env:"ARTIFACTS_HISTORY_DB"`
	Log          LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"ARTIFACTS_LOG_LEVEL"`
	Format string `yaml:"format" env:"ARTIFACTS_LOG_FORMAT"` // "text" or "json"
}

func defaults() Config {
	return Config{
		WSURL: DefaultWSURL,
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty), then applies the environment. A missing
// file is an error; an empty path means defaults plus environment.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.WSURL = strings.TrimSpace(c.WSURL)
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("ws_url must be a ws:// or wss:// url: %q", c.WSURL)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json: %q", c.Log.Format)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
