// Package config loads the resilience subsystem's settings from the
// environment. Every recognized option has a safe default, so an empty
// environment yields a working configuration.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	resilience "github.com/noteflow/go-resilience"
	"github.com/noteflow/go-resilience/cache"
	"github.com/noteflow/go-resilience/storage"
)

// envPrefix is the prefix of every environment variable this package reads,
// e.g. NOTEFLOW_RETRY_MAX_ATTEMPTS.
const envPrefix = "NOTEFLOW"

// Config bundles the settings of every component in the subsystem.
type Config struct {
	Retry    Retry
	Breaker  Breaker
	Stampede Stampede
	Redis    Redis
	Storage  Storage
}

// Retry holds retry policy settings.
type Retry struct {
	MaxAttempts           int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	Strategy              string        `envconfig:"STRATEGY" default:"exponential"`
	InitialDelay          time.Duration `envconfig:"INITIAL_DELAY" default:"1s"`
	MaxDelay              time.Duration `envconfig:"MAX_DELAY" default:"30s"`
	BackoffMultiplier     float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2.0"`
	RetryableFailureKinds []string      `envconfig:"RETRYABLE_FAILURE_KINDS" default:"timeout,connection,throttled,unavailable"`
}

// Breaker holds circuit breaker settings.
type Breaker struct {
	FailureThreshold  uint32        `envconfig:"FAILURE_THRESHOLD" default:"5"`
	SuccessThreshold  uint32        `envconfig:"SUCCESS_THRESHOLD" default:"2"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"30s"`
	HalfOpenMaxProbes uint32        `envconfig:"HALF_OPEN_MAX_PROBES" default:"3"`
}

// Stampede holds cache stampede protection settings.
type Stampede struct {
	LockTimeout        time.Duration `envconfig:"LOCK_TIMEOUT" default:"30s"`
	LockRetryDelay     time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"50ms"`
	MaxLockWaitRetries int           `envconfig:"MAX_LOCK_WAIT_RETRIES" default:"10"`
	Beta               float64       `envconfig:"BETA" default:"1.0"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

// Redis holds shared-cache connection settings.
type Redis struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
}

// Storage holds object-backend connection settings.
type Storage struct {
	Endpoint  string `envconfig:"ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"ACCESS_KEY" default:""`
	SecretKey string `envconfig:"SECRET_KEY" default:""`
	Bucket    string `envconfig:"BUCKET" default:"media"`
	Region    string `envconfig:"REGION" default:""`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

// Load reads configuration from NOTEFLOW_-prefixed environment variables,
// applying defaults for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without consulting the environment.
func Default() *Config {
	return &Config{
		Retry: Retry{
			MaxAttempts:           3,
			Strategy:              "exponential",
			InitialDelay:          time.Second,
			MaxDelay:              30 * time.Second,
			BackoffMultiplier:     2.0,
			RetryableFailureKinds: []string{"timeout", "connection", "throttled", "unavailable"},
		},
		Breaker: Breaker{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			Timeout:           30 * time.Second,
			HalfOpenMaxProbes: 3,
		},
		Stampede: Stampede{
			LockTimeout:        30 * time.Second,
			LockRetryDelay:     50 * time.Millisecond,
			MaxLockWaitRetries: 10,
			Beta:               1.0,
			SweepInterval:      time.Minute,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Storage: Storage{
			Endpoint: "localhost:9000",
			Bucket:   "media",
		},
	}
}

// LoadOrDefault loads from the environment, falling back to Default when the
// environment holds unparseable values.
func LoadOrDefault(logger *slog.Logger) *Config {
	cfg, err := Load()
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("falling back to default configuration", "error", err)
		return Default()
	}
	return cfg
}

// RetryConfig converts the settings into a resilience retry config. It fails
// when RetryableFailureKinds names an unknown kind.
func (r Retry) RetryConfig() (*resilience.RetryConfig, error) {
	kinds, err := resilience.ParseFailureKinds(r.RetryableFailureKinds)
	if err != nil {
		return nil, fmt.Errorf("parsing retryable failure kinds: %w", err)
	}
	return &resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		Strategy:       resilience.RetryStrategy(r.Strategy),
		InitialDelay:   r.InitialDelay,
		MaxDelay:       r.MaxDelay,
		Multiplier:     r.BackoffMultiplier,
		RetryableKinds: kinds,
	}, nil
}

// BreakerConfig converts the settings into a resilience circuit breaker
// config.
func (b Breaker) BreakerConfig() *resilience.CircuitBreakerConfig {
	return &resilience.CircuitBreakerConfig{
		FailureThreshold:  b.FailureThreshold,
		SuccessThreshold:  b.SuccessThreshold,
		Timeout:           b.Timeout,
		HalfOpenMaxProbes: b.HalfOpenMaxProbes,
	}
}

// Options converts the settings into stampede protection options.
func (s Stampede) Options() []cache.ProtectionOption {
	return []cache.ProtectionOption{
		cache.WithLockTimeout(s.LockTimeout),
		cache.WithLockRetryDelay(s.LockRetryDelay),
		cache.WithMaxLockWaitRetries(s.MaxLockWaitRetries),
		cache.WithBeta(s.Beta),
	}
}

// Store builds the Redis-backed shared cache store these settings describe.
func (r Redis) Store() *cache.Redis {
	return cache.NewRedis(cache.NewRedisClient(r.Addr, r.Password, r.DB))
}

// MinIOConfig converts the settings into the object-backend adapter config.
func (s Storage) MinIOConfig() storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Bucket:    s.Bucket,
		Region:    s.Region,
		UseSSL:    s.UseSSL,
	}
}
