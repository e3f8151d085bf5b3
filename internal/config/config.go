package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/internal/room"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type Config struct {
	Port           int      `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogDev         bool     `env:"LOG_DEV" envDefault:"false"`

	// Empty disables the session archive.
	DatabaseURL string   `env:"DATABASE_URL"`
	CardValues  []string `env:"CARD_VALUES" envDefault:"0,1,2,3,5,8,13,21,34,55,89,?" envSeparator:","`

	IdentifyTimeout    time.Duration `env:"IDENTIFY_TIMEOUT" envDefault:"10s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	PingInterval       time.Duration `env:"PING_INTERVAL" envDefault:"15s"`
	OutboxSize         int           `env:"OUTBOX_SIZE" envDefault:"32"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads envFile if it exists, then the process environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs error
	if c.Port <= 0 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"IDENTIFY_TIMEOUT":     c.IdentifyTimeout,
		"WRITE_TIMEOUT":        c.WriteTimeout,
		"PING_INTERVAL":        c.PingInterval,
		"SESSION_IDLE_TIMEOUT": c.SessionIdleTimeout,
		"SHUTDOWN_TIMEOUT":     c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.OutboxSize < room.MinOutboxSize {
		errs = multierr.Append(errs, fmt.Errorf("OUTBOX_SIZE must be at least %d, got %d", room.MinOutboxSize, c.OutboxSize))
	}
	if _, err := c.Deck(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("CARD_VALUES: %w", err))
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errs
}

func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

func (c Config) Deck() (protocol.Deck, error) {
	return protocol.NewDeck(c.CardValues)
}

// Logger builds the process logger: JSON in production, console when LogDev.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
