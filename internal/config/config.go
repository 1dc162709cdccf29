// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration. A .env file is honored via
// godotenv autoload in main; defaults make every knob optional.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL selects the Postgres store; empty keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr enables the lobby event history queue; empty disables it.
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`
	HistoryQueue string `env:"HISTORY_QUEUE_NAME"`

	// ModesFile overrides the built-in question sets.
	ModesFile string `env:"MODES_FILE"`

	ModeGraceDelay time.Duration `env:"MODE_GRACE_DELAY" envDefault:"2s"`
	RevealDelay    time.Duration `env:"REVEAL_DELAY" envDefault:"5s"`
	LobbyTTL       time.Duration `env:"LOBBY_TTL" envDefault:"24h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
