// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            string         `yaml:"port"`
	DatabaseURL     string         `yaml:"databaseUrl"`
	Migrate         bool           `yaml:"migrate"`
	ShutdownTimeout time.Duration  `yaml:"shutdownTimeout"`
	Broker          BrokerConfig   `yaml:"broker"`
	Routing         RoutingConfig  `yaml:"routing"`
	Playback        PlaybackConfig `yaml:"playback"`
	Auth            AuthConfig     `yaml:"auth"`
	Log             LogConfig      `yaml:"log"`
}

type BrokerConfig struct {
	// Kind is memory, redis or amqp.
	Kind     string `yaml:"kind"`
	RedisURL string `yaml:"redisUrl"`
	AMQPURL  string `yaml:"amqpUrl"`
}

type RoutingConfig struct {
	// Provider is straight or google.
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"apiKey"`
	BaseURL  string        `yaml:"baseUrl"`
	Timeout  time.Duration `yaml:"timeout"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Steps    int           `yaml:"steps"`
}

type PlaybackConfig struct {
	Interval         time.Duration `yaml:"interval"`
	TerminalAttempts int           `yaml:"terminalAttempts"`
	PublishTimeout   time.Duration `yaml:"publishTimeout"`
	AutoComplete     bool          `yaml:"autoComplete"`
}

type AuthConfig struct {
	// Mode is dev or hmac.
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmacSecret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Port:            "8080",
		Migrate:         true,
		ShutdownTimeout: 15 * time.Second,
		Broker:          BrokerConfig{Kind: "memory"},
		Routing:         RoutingConfig{Provider: "straight", Timeout: 10 * time.Second, RPS: 5, Burst: 5, Steps: 10},
		Playback:        PlaybackConfig{Interval: time.Second, TerminalAttempts: 3, PublishTimeout: 2 * time.Second, AutoComplete: true},
		Auth:            AuthConfig{Mode: "dev"},
		Log:             LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env from the working directory when present, then builds the
// config from the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a config from defaults, the YAML file named by CONFIG_FILE
// and the variables visible through lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("PORT", &c.Port)
	e.str("DATABASE_URL", &c.DatabaseURL)
	e.boolean("DB_MIGRATE", &c.Migrate)
	e.duration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	e.str("BROKER", &c.Broker.Kind)
	e.str("REDIS_URL", &c.Broker.RedisURL)
	e.str("AMQP_URL", &c.Broker.AMQPURL)

	e.str("ROUTE_PROVIDER", &c.Routing.Provider)
	e.str("GOOGLE_MAPS_API_KEY", &c.Routing.APIKey)
	e.str("ROUTE_BASE_URL", &c.Routing.BaseURL)
	e.duration("ROUTE_TIMEOUT", &c.Routing.Timeout)
	e.float("ROUTE_RPS", &c.Routing.RPS)
	e.integer("ROUTE_BURST", &c.Routing.Burst)
	e.integer("ROUTE_STEPS", &c.Routing.Steps)

	e.duration("PLAYBACK_INTERVAL", &c.Playback.Interval)
	e.integer("PLAYBACK_TERMINAL_ATTEMPTS", &c.Playback.TerminalAttempts)
	e.duration("PLAYBACK_PUBLISH_TIMEOUT", &c.Playback.PublishTimeout)
	e.boolean("PLAYBACK_AUTO_COMPLETE", &c.Playback.AutoComplete)

	e.str("AUTH_MODE", &c.Auth.Mode)
	e.str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	return errors.Join(e.errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Port != "", "port is required")
	switch c.Broker.Kind {
	case "memory":
	case "redis":
		check(c.Broker.RedisURL != "", "REDIS_URL is required for the redis broker")
	case "amqp":
		check(c.Broker.AMQPURL != "", "AMQP_URL is required for the amqp broker")
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Broker.Kind))
	}
	switch c.Routing.Provider {
	case "straight":
		check(c.Routing.Steps >= 2, "route steps must be at least 2")
	case "google":
		check(c.Routing.APIKey != "", "GOOGLE_MAPS_API_KEY is required for the google provider")
	default:
		errs = append(errs, fmt.Errorf("unknown route provider %q", c.Routing.Provider))
	}
	check(c.Routing.Timeout > 0, "route timeout must be positive")
	check(c.Playback.Interval > 0, "playback interval must be positive")
	check(c.Playback.TerminalAttempts >= 2, "terminal attempts must be at least 2")
	check(c.Playback.PublishTimeout > 0, "publish timeout must be positive")
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		check(c.Auth.HMACSecret != "", "AUTH_HMAC_SECRET is required for hmac auth")
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	return errors.Join(errs...)
}

// Public returns the settings that are safe to show on the debug endpoint.
func (c Config) Public() map[string]any {
	return map[string]any{
		"port":             c.Port,
		"hasDatabaseUrl":   c.DatabaseURL != "",
		"broker":           c.Broker.Kind,
		"routeProvider":    c.Routing.Provider,
		"routeTimeout":     c.Routing.Timeout.String(),
		"playbackInterval": c.Playback.Interval.String(),
		"terminalAttempts": c.Playback.TerminalAttempts,
		"autoComplete":     c.Playback.AutoComplete,
		"authMode":         c.Auth.Mode,
	}
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}
