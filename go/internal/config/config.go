package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPalette colours racer carets by roster index.
var DefaultPalette = []string{
	"#3B82F6", "#10B981", "#F59E0B", "#EF4444",
	"#8B5CF6", "#EC4899", "#14B8A6", "#F97316",
}

type Config struct {
	Race     RaceConfig     `yaml:"race"`
	NATS     NATSConfig     `yaml:"nats"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Service  ServiceConfig  `yaml:"service"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

type RaceConfig struct {
	AllowedDurations []int         `yaml:"allowed_durations"`
	DefaultDuration  int           `yaml:"default_duration"`
	MaxPlayers       int           `yaml:"max_players"`
	CountdownTicks   int           `yaml:"countdown_ticks"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	Palette          []string      `yaml:"palette"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	PresenceBucket string        `yaml:"presence_bucket"`
	PresenceTTL    time.Duration `yaml:"presence_ttl"`
	EventStream    string        `yaml:"event_stream"`
}

type GatewayConfig struct {
	Port           string   `yaml:"port"`
	MessagesPerSec float64  `yaml:"messages_per_sec"`
	MessageBurst   int      `yaml:"message_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ServiceConfig struct {
	Port           string   `yaml:"port"`
	URL            string   `yaml:"url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type WatchdogConfig struct {
	Grace      time.Duration `yaml:"grace"`
	WordsLimit time.Duration `yaml:"words_limit"`
	Port       string        `yaml:"port"`
}

type OutboxConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Race: RaceConfig{
			AllowedDurations: []int{30, 60, 120},
			DefaultDuration:  60,
			MaxPlayers:       5,
			CountdownTicks:   3,
			ProgressInterval: 200 * time.Millisecond,
			Palette:          slices.Clone(DefaultPalette),
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			PresenceBucket: "RACE_PRESENCE",
			PresenceTTL:    30 * time.Second,
			EventStream:    "RACE_EVENTS",
		},
		Gateway: GatewayConfig{
			Port:           "8081",
			MessagesPerSec: 20,
			MessageBurst:   40,
			AllowedOrigins: []string{"*"},
		},
		Service: ServiceConfig{
			Port:           "8080",
			URL:            "http://localhost:8080",
			AllowedOrigins: []string{"*"},
		},
		Outbox: OutboxConfig{
			BatchSize:    100,
			PollInterval: 5 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Grace:      15 * time.Second,
			WordsLimit: 10 * time.Minute,
			Port:       "8083",
		},
	}
}

// Load reads path over the defaults and applies env overrides. A missing file
// is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by CONFIG_PATH, default config.yaml.
func LoadFromEnv() (Config, error) {
	return Load(GetEnv("CONFIG_PATH", "config.yaml"))
}

func (c *Config) applyEnv() {
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)
	c.Gateway.Port = GetEnv("GATEWAY_PORT", c.Gateway.Port)
	c.Service.Port = GetEnv("PORT", c.Service.Port)
	c.Service.URL = GetEnv("RACE_SERVICE_URL", c.Service.URL)
	c.Watchdog.Port = GetEnv("WATCHDOG_PORT", c.Watchdog.Port)
	c.Race.MaxPlayers = GetEnvAsInt("RACE_MAX_PLAYERS", c.Race.MaxPlayers)
}

// Validate rejects settings the race engine cannot run with.
func (c Config) Validate() error {
	if len(c.Race.AllowedDurations) == 0 {
		return errors.New("race.allowed_durations must not be empty")
	}
	if !slices.Contains(c.Race.AllowedDurations, c.Race.DefaultDuration) {
		return fmt.Errorf("race.default_duration %d is not an allowed duration", c.Race.DefaultDuration)
	}
	if c.Race.MaxPlayers < 2 {
		return fmt.Errorf("race.max_players must be at least 2, got %d", c.Race.MaxPlayers)
	}
	if c.Race.CountdownTicks < 1 {
		return fmt.Errorf("race.countdown_ticks must be positive, got %d", c.Race.CountdownTicks)
	}
	if c.Race.ProgressInterval <= 0 {
		return errors.New("race.progress_interval must be positive")
	}
	if len(c.Race.Palette) == 0 {
		return errors.New("race.palette must not be empty")
	}
	if c.Watchdog.WordsLimit <= 0 || c.Watchdog.Grace < 0 {
		return errors.New("watchdog.words_limit must be positive and watchdog.grace not negative")
	}
	return nil
}

// DurationAllowed reports whether d is one of the configured race durations.
func (r RaceConfig) DurationAllowed(d int) bool {
	return slices.Contains(r.AllowedDurations, d)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
