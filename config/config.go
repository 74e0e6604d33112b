// Package config loads service configuration from environment variables,
// with an optional .env bootstrap for local development.
package config

import (
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

// Config holds all env-parsed configuration for the indicator stream service.
type Config struct {
	Service  string `env:"SERVICE_NAME" envDefault:"indstream"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Feed
	FeedURL        string `env:"FEED_URL" envDefault:"ws://localhost:9001/feed"`
	FeedClientID   string `env:"FEED_CLIENT_ID"`
	FeedTOTPSecret string `env:"FEED_TOTP_SECRET"`

	// Infrastructure
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/indstream.db"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`

	// Universe. Timeframes accept seconds ("60,300") or tick counts ("100t").
	Symbols    []string `env:"SYMBOLS" envSeparator:"," envDefault:"AAPL,MSFT,SPY"`
	EnabledTFs string   `env:"ENABLED_TFS" envDefault:"60,300,900"`

	// Indicator specs registered per symbol/timeframe, e.g. "SMA:20,EMA:9".
	Indicators string `env:"INDICATOR_CONFIGS" envDefault:"SMA:20,EMA:9,RSI:14,MACD:12:26:9"`

	// Cross-series spread pairs, e.g. "AAPL/MSFT,SPY/AAPL". Each pair gets
	// a SmoothedSpread on the first enabled duration timeframe.
	SpreadPairs     string `env:"SPREAD_PAIRS"`
	SpreadSmoothing int    `env:"SPREAD_SMOOTHING" envDefault:"10"`

	// Engine behavior
	EmitUpdates   bool `env:"EMIT_UPDATES" envDefault:"false"`
	HistoryWindow int  `env:"HISTORY_WINDOW" envDefault:"256"`
	EventBuffer   int  `env:"EVENT_BUFFER" envDefault:"4096"`

	// Loops
	SnapshotIntervalS int `env:"SNAPSHOT_INTERVAL_SEC" envDefault:"30"`
	AdvanceIntervalMs int `env:"ADVANCE_INTERVAL_MS" envDefault:"250"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse environment")
	}
	return cfg, nil
}

// ParseTimeframes parses EnabledTFs. A bare integer is seconds, a "t"
// suffix is a tick count ("100t").
func (c *Config) ParseTimeframes() ([]model.Timeframe, error) {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]model.Timeframe, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := parseTimeframe(p)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return nil, errors.New("config: ENABLED_TFS is empty")
	}
	return tfs, nil
}

func parseTimeframe(s string) (model.Timeframe, error) {
	raw, ticks := strings.CutSuffix(s, "t")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return model.Timeframe{}, errors.Errorf("config: invalid timeframe %q", s)
	}
	if ticks {
		return model.TickCount(n), nil
	}
	return model.Seconds(n), nil
}

// ParseIndicators splits INDICATOR_CONFIGS into individual specs.
// Spec syntax is validated later at registration, not here.
func (c *Config) ParseIndicators() []string {
	parts := strings.Split(c.Indicators, ",")
	specs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		specs = append(specs, p)
	}
	return specs
}

// SpreadPair names the two symbols of a cross-series spread.
type SpreadPair struct {
	Left  string
	Right string
}

// ParseSpreadPairs parses SPREAD_PAIRS ("AAPL/MSFT,SPY/AAPL").
func (c *Config) ParseSpreadPairs() ([]SpreadPair, error) {
	if strings.TrimSpace(c.SpreadPairs) == "" {
		return nil, nil
	}
	parts := strings.Split(c.SpreadPairs, ",")
	pairs := make([]SpreadPair, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		left, right, ok := strings.Cut(p, "/")
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if !ok || left == "" || right == "" || left == right {
			return nil, errors.Errorf("config: invalid spread pair %q", p)
		}
		pairs = append(pairs, SpreadPair{Left: left, Right: right})
	}
	return pairs, nil
}
