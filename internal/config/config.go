// Package config loads the bot configuration from the environment and,
// optionally, a small YAML overrides file that can be hot-reloaded at
// runtime (threshold/delay only).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxThreshold is the platform ceiling on grouped sends; the configured
	// threshold is clamped to it.
	MaxThreshold = 10

	DefaultThreshold  = 10
	DefaultDelay      = 3 * time.Second
	DefaultRatePerSec = 25
	DefaultDigestSpec = "0 9 * * *"
)

type Config struct {
	Telegram TelegramConfig
	Batching BatchingConfig
	Logging  LoggingConfig
	History  HistoryConfig
	Metrics  MetricsConfig
	Digest   DigestConfig

	// OverridesFile is an optional YAML file whose threshold/delay values
	// override the environment and are hot-reloaded while running.
	OverridesFile string
}

type TelegramConfig struct {
	Token      string
	RatePerSec int // outbound send rate limit
}

type BatchingConfig struct {
	// Threshold is the pending-item count that triggers an immediate
	// dispatch. Always within 1..MaxThreshold.
	Threshold int
	// Delay is the inactivity window after which a non-empty queue is
	// auto-dispatched.
	Delay time.Duration
}

type LoggingConfig struct {
	Level string
	File  string // empty disables the file sink
}

type HistoryConfig struct {
	Driver string // "none" or "sqlite"
	Path   string
}

type MetricsConfig struct {
	Addr string // promhttp listen address; empty disables
}

type DigestConfig struct {
	OwnerChatID int64  // digest target; 0 disables
	Schedule    string // cron spec
}

// FromEnv builds the config from environment variables. Malformed numeric
// values fall back to their defaults; only a missing BOT_TOKEN is fatal.
func FromEnv() (*Config, error) {
	token := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if token == "" {
		return nil, errors.New("BOT_TOKEN is not set")
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:      token,
			RatePerSec: envInt("SEND_RATE_PER_SEC", DefaultRatePerSec),
		},
		Batching: BatchingConfig{
			Threshold: ClampThreshold(envInt("AUTO_SEND_THRESHOLD", DefaultThreshold)),
			Delay:     envSeconds("AUTO_SEND_DELAY", DefaultDelay),
		},
		Logging: LoggingConfig{
			Level: envStr("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		History: HistoryConfig{
			Driver: envStr("HISTORY_DRIVER", "none"),
			Path:   envStr("HISTORY_PATH", "./albumbot.db"),
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("METRICS_ADDR"),
		},
		Digest: DigestConfig{
			OwnerChatID: envInt64("OWNER_CHAT_ID", 0),
			Schedule:    envStr("DIGEST_SCHEDULE", DefaultDigestSpec),
		},
		OverridesFile: os.Getenv("CONFIG_FILE"),
	}
	if cfg.Telegram.RatePerSec <= 0 {
		cfg.Telegram.RatePerSec = DefaultRatePerSec
	}
	return cfg, nil
}

// ClampThreshold forces the threshold into 1..MaxThreshold, falling back to
// the default for non-positive values.
func ClampThreshold(n int) int {
	if n <= 0 {
		return DefaultThreshold
	}
	if n > MaxThreshold {
		return MaxThreshold
	}
	return n
}

func envStr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// envSeconds parses a float number of seconds (e.g. "3", "2.5").
func envSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}
