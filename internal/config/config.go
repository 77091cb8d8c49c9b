// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Deploys set only the env vars they care
// about; everything else falls back to the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
)

// ErrInvalidConfig is returned for values that cannot run a server.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Duration wraps time.Duration so YAML can say "100ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CrashConfig holds the crash game parameters shared by all tables.
type CrashConfig struct {
	PayoutFactor float64  `yaml:"payout_factor"`
	GrowthRate   float64  `yaml:"growth_rate"`
	TickInterval Duration `yaml:"tick_interval"`
	WaitingDelay Duration `yaml:"waiting_delay"`
	Countdown    Duration `yaml:"countdown"`
	CrashPause   Duration `yaml:"crash_pause"`
	Tables       []string `yaml:"tables"`
}

// LimitsConfig holds stake limits. Zero disables a limit.
type LimitsConfig struct {
	MaxStake     int64 `yaml:"max_stake"`
	MaxOpenStake int64 `yaml:"max_open_stake"`
}

// Config is the full engine configuration.
type Config struct {
	Port            string             `yaml:"port"`
	DatabaseURL     string             `yaml:"database_url"`
	RedisURL        string             `yaml:"redis_url"`
	StartingBalance int64              `yaml:"starting_balance"`
	UpgradeFee      int64              `yaml:"upgrade_fee"`
	Limits          LimitsConfig       `yaml:"limits"`
	Crash           CrashConfig        `yaml:"crash"`
	Cases           []catalog.CaseSpec `yaml:"cases"`
}

// Default returns the configuration the server runs with when nothing else
// is provided, including a small built-in case catalog.
func Default() Config {
	return Config{
		Port:            "8080",
		StartingBalance: 1000,
		UpgradeFee:      0,
		Limits: LimitsConfig{
			MaxStake:     10_000,
			MaxOpenStake: 50_000,
		},
		Crash: CrashConfig{
			PayoutFactor: 0.95,
			GrowthRate:   0.7,
			TickInterval: Duration(100 * time.Millisecond),
			WaitingDelay: Duration(10 * time.Second),
			Countdown:    Duration(5 * time.Second),
			CrashPause:   Duration(3 * time.Second),
			Tables:       []string{"main"},
		},
		Cases: []catalog.CaseSpec{
			{
				ID:    "banana-basic",
				Price: 100,
				Items: []catalog.ItemSpec{
					{ID: "peel", Value: 10, Weight: 60},
					{ID: "banana", Value: 80, Weight: 25},
					{ID: "bunch", Value: 250, Weight: 12},
					{ID: "golden-banana", Value: 2500, Weight: 3},
				},
			},
			{
				ID:    "banana-premium",
				Price: 500,
				Items: []catalog.ItemSpec{
					{ID: "banana", Value: 80, Weight: 35},
					{ID: "bunch", Value: 250, Weight: 40},
					{ID: "golden-banana", Value: 2500, Weight: 20},
					{ID: "diamond-banana", Value: 20_000, Weight: 5},
				},
			},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty the file must exist), then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setInt64(&cfg.StartingBalance, "STARTING_BALANCE")
	setInt64(&cfg.UpgradeFee, "UPGRADE_FEE")
	setInt64(&cfg.Limits.MaxStake, "MAX_STAKE")
	setInt64(&cfg.Limits.MaxOpenStake, "MAX_OPEN_STAKE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is empty", ErrInvalidConfig)
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("%w: starting balance %d", ErrInvalidConfig, c.StartingBalance)
	}
	if c.UpgradeFee < 0 {
		return fmt.Errorf("%w: upgrade fee %d", ErrInvalidConfig, c.UpgradeFee)
	}
	if c.Crash.PayoutFactor <= 0 || c.Crash.PayoutFactor >= 1 {
		return fmt.Errorf("%w: payout factor %v outside (0, 1)", ErrInvalidConfig, c.Crash.PayoutFactor)
	}
	if c.Crash.GrowthRate <= 0 {
		return fmt.Errorf("%w: growth rate %v", ErrInvalidConfig, c.Crash.GrowthRate)
	}
	if len(c.Crash.Tables) == 0 {
		return fmt.Errorf("%w: no crash tables configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Crash.Tables))
	for _, id := range c.Crash.Tables {
		if id == "" || seen[id] {
			return fmt.Errorf("%w: bad table id %q", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	if len(c.Cases) == 0 {
		return fmt.Errorf("%w: no cases configured", ErrInvalidConfig)
	}
	return nil
}
