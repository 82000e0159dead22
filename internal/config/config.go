// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ServiceName    = "inventory-service"
	ServiceVersion = "0.1.0"
	EnvPrefix      = "INVENTORY"
)

type Config struct {
	Server    Server
	Store     Store
	RateLimit RateLimit
	Log       Log
	Otel      Otel
	Seed      Seed
}

type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Store struct {
	Driver             string // memory, postgres or sqlite
	DSN                string
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

type RateLimit struct {
	RPS   float64 // zero disables limiting
	Burst int
}

type Log struct {
	Level  string
	Format string // text or json
}

type Otel struct {
	Endpoint       string // empty disables trace and metric export
	Insecure       bool
	MetricInterval time.Duration
}

type Seed struct {
	OnStart bool
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path skips the
// file lookup.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain variables kept for deployments that predate the prefix.
	if err := v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("bind store.dsn: %w", err)
	}
	if err := v.BindEnv("server.port", "PORT"); err != nil {
		return nil, fmt.Errorf("bind server.port: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Store: Store{
			Driver:             strings.ToLower(v.GetString("store.driver")),
			DSN:                v.GetString("store.dsn"),
			BreakerMaxFailures: v.GetUint32("store.breaker.max_failures"),
			BreakerTimeout:     v.GetDuration("store.breaker.timeout"),
		},
		RateLimit: RateLimit{
			RPS:   v.GetFloat64("ratelimit.rps"),
			Burst: v.GetInt("ratelimit.burst"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Otel: Otel{
			Endpoint:       v.GetString("otel.endpoint"),
			Insecure:       v.GetBool("otel.insecure"),
			MetricInterval: v.GetDuration("otel.metric_interval"),
		},
		Seed: Seed{
			OnStart: v.GetBool("seed.on_start"),
		},
	}

	if port := v.GetString("server.port"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.breaker.max_failures", 5)
	v.SetDefault("store.breaker.timeout", "30s")

	v.SetDefault("ratelimit.rps", 100)
	v.SetDefault("ratelimit.burst", 200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.metric_interval", 15*time.Second)

	v.SetDefault("seed.on_start", false)
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("ratelimit.rps must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("ratelimit.burst must be positive when rate limiting is enabled"))
	}
	if c.Otel.Endpoint != "" && c.Otel.MetricInterval <= 0 {
		errs = append(errs, errors.New("otel.metric_interval must be positive when otel.endpoint is set"))
	}

	return errors.Join(errs...)
}
