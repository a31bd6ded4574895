package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Addr             string `validate:"required"`
	WSPath           string `validate:"required,startswith=/"`
	Username         string `validate:"required"`
	PasswordHash     string `validate:"required"`
	Manifest         string `validate:"required"`
	WatchManifest    bool
	StreamsDir       string
	MQTTBroker       string        `validate:"omitempty,url"`
	MQTTClientID     string        `validate:"required"`
	SubscribeTimeout time.Duration `validate:"gt=0"`
	StreamReadMax    time.Duration `validate:"gt=0"`
	SendBuffer       int           `validate:"min=1"`
	Metrics          bool
	ConnectRate      float64 `validate:"gt=0"`
	LogFormat        string  `validate:"oneof=text json"`
	LogLevel         string  `validate:"oneof=debug info warn error"`
}

// LookupFunc reads one variable, as os.LookupEnv does.
type LookupFunc func(key string) (string, bool)

// New loads a .env file when one exists and reads the configuration from
// environment variables.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a validated Config from lookup, applying defaults for unset
// variables.
func FromEnv(lookup LookupFunc) (*Config, error) {
	r := reader{lookup: lookup}
	cfg := &Config{
		Addr:             r.str("CONSOLE_ADDR", ":1441"),
		WSPath:           r.str("CONSOLE_WS_PATH", "/ws"),
		Username:         r.str("CONSOLE_USERNAME", ""),
		PasswordHash:     r.str("CONSOLE_PASSWORD_HASH", ""),
		Manifest:         r.str("CONSOLE_MANIFEST", "components.yaml"),
		WatchManifest:    r.boolean("CONSOLE_WATCH_MANIFEST", true),
		StreamsDir:       r.str("CONSOLE_STREAMS_DIR", ""),
		MQTTBroker:       r.str("CONSOLE_MQTT_BROKER", ""),
		MQTTClientID:     r.str("CONSOLE_MQTT_CLIENT_ID", "consoled"),
		SubscribeTimeout: r.duration("CONSOLE_SUBSCRIBE_TIMEOUT", 10*time.Second),
		StreamReadMax:    r.duration("CONSOLE_STREAM_READ_MAX", 10*time.Second),
		SendBuffer:       r.integer("CONSOLE_SEND_BUFFER", 256),
		Metrics:          r.boolean("CONSOLE_METRICS", true),
		ConnectRate:      r.float("CONSOLE_CONNECT_RATE", 20),
		LogFormat:        r.str("LOG_FORMAT", "text"),
		LogLevel:         r.str("LOG_LEVEL", "info"),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags. It is run again after command line
// overrides are applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MQTTEnabled reports whether a broker was configured.
func (c *Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

// reader keeps the first parse error so every variable can be read in one
// expression.
type reader struct {
	lookup LookupFunc
	err    error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) parse(key string, fn func(string) error) {
	v, ok := r.lookup(key)
	if !ok || v == "" || r.err != nil {
		return
	}
	if err := fn(v); err != nil {
		r.err = fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
}

func (r *reader) boolean(key string, def bool) bool {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = strconv.ParseBool(v)
		return err
	})
	return out
}

func (r *reader) integer(key string, def int) int {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = strconv.Atoi(v)
		return err
	})
	return out
}

func (r *reader) float(key string, def float64) float64 {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = strconv.ParseFloat(v, 64)
		return err
	})
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = time.ParseDuration(v)
		return err
	})
	return out
}
