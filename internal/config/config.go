// Package config provides configuration loading for signalforge.
//
// Configuration is loaded from an optional YAML file overlaid by environment
// variables, on top of the defaults returned by NewDefault.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete signalforge configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Store         StoreConfig         `koanf:"store"`
	Redis         RedisConfig         `koanf:"redis"`
	NATS          NATSConfig          `koanf:"nats"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Publish       PublishConfig       `koanf:"publish"`
	Guardrails    GuardrailConfig     `koanf:"guardrails"`
	Auth          AuthConfig          `koanf:"auth"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SchedulerConfig controls how runs are executed.
type SchedulerConfig struct {
	Concurrency        int      `koanf:"concurrency"`          // accounts processed in parallel
	AccountTimeout     Duration `koanf:"account_timeout"`      // deadline for one account's decision+publish+append
	SeedBucket         Duration `koanf:"seed_bucket"`          // granularity of the per-run random seed
	RecencyWindow      Duration `koanf:"recency_window"`       // history window used for label decay
	RunInterval        Duration `koanf:"run_interval"`         // 0 disables the in-process ticker
	MaxPublishAttempts int      `koanf:"max_publish_attempts"` // failed publishes before a candidate is retired; 0 never retires
	PostingDisabled    bool     `koanf:"posting_disabled"`     // compute decisions but never publish
}

// StoreConfig selects the SQL backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // "postgres" or "sqlite"
	DSN    Secret `koanf:"dsn"`
}

// RedisConfig enables the distributed account lock.
type RedisConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Addr     string   `koanf:"addr"`
	Password Secret   `koanf:"password"`
	DB       int      `koanf:"db"`
	LockTTL  Duration `koanf:"lock_ttl"`
}

// NATSConfig configures the JetStream publisher.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Stream        string `koanf:"stream"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig configures the optional Temporal worker.
type TemporalConfig struct {
	Enabled      bool   `koanf:"enabled"`
	HostPort     string `koanf:"host_port"`
	Namespace    string `koanf:"namespace"`
	TaskQueue    string `koanf:"task_queue"`
	CronSchedule string `koanf:"cron_schedule"`
}

// PublishConfig bounds the rate of publisher calls.
type PublishConfig struct {
	RatePerSecond float64 `koanf:"rate_per_second"` // 0 disables limiting
	Burst         int     `koanf:"burst"`
}

// GuardrailConfig holds the checks new drafts must pass before they enter
// the candidate pool.
type GuardrailConfig struct {
	MaxLength                 int      `koanf:"max_length"`
	MaxThreadPostLength       int      `koanf:"max_thread_post_length"`
	Blocklist                 []string `koanf:"blocklist"` // added to the built-in terms; comma separated in env
	SimilarityThreshold       float64  `koanf:"similarity_threshold"`
	SourceSimilarityThreshold float64  `koanf:"source_similarity_threshold"`
	ScanSecrets               bool     `koanf:"scan_secrets"`
}

// AuthConfig holds the bearer token required by the HTTP API.
type AuthConfig struct {
	Token Secret `koanf:"token"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel        string   `koanf:"log_level"`
	LogFormat       string   `koanf:"log_format"`
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	ServiceName     string   `koanf:"service_name"`
	OTLPEndpoint    string   `koanf:"otlp_endpoint"`
	OTLPProtocol    string   `koanf:"otlp_protocol"` // "grpc" or "http/protobuf"
	OTLPInsecure    bool     `koanf:"otlp_insecure"`
	OTLPSkipVerify  bool     `koanf:"otlp_skip_verify"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// LockReleaseMargin is how long an account may still hold its lock after
// the account deadline while claimed candidates are released.
const LockReleaseMargin = 5 * time.Second

// NewDefault returns the configuration used when nothing is overridden.
func NewDefault() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8010,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Concurrency:        4,
			AccountTimeout:     Duration(30 * time.Second),
			SeedBucket:         Duration(time.Minute),
			RecencyWindow:      Duration(7 * 24 * time.Hour),
			MaxPublishAttempts: 3,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "signalforge.db",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockTTL: Duration(2 * time.Minute),
		},
		NATS: NATSConfig{
			Enabled:       true,
			URL:           "nats://localhost:4222",
			Stream:        "POSTS",
			SubjectPrefix: "posts.publish",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "signalforge-scheduler",
		},
		Publish: PublishConfig{
			RatePerSecond: 5,
			Burst:         5,
		},
		Guardrails: GuardrailConfig{
			MaxLength:                 240,
			MaxThreadPostLength:       260,
			SimilarityThreshold:       0.85,
			SourceSimilarityThreshold: 0.8,
			ScanSecrets:               true,
		},
		Observability: ObservabilityConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			ServiceName:     "signalforge",
			OTLPEndpoint:    "localhost:4317",
			OTLPProtocol:    "grpc",
			OTLPInsecure:    true,
			SampleRate:      1,
			MetricsInterval: Duration(15 * time.Second),
		},
	}
}

// Validate validates the configuration.
//
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("scheduler concurrency must be >= 1, got %d", c.Scheduler.Concurrency))
	}
	if c.Scheduler.AccountTimeout <= 0 {
		errs = append(errs, errors.New("scheduler account timeout must be positive"))
	}
	if c.Scheduler.SeedBucket <= 0 {
		errs = append(errs, errors.New("scheduler seed bucket must be positive"))
	}
	if c.Scheduler.MaxPublishAttempts < 0 {
		errs = append(errs, fmt.Errorf("scheduler max publish attempts must be >= 0, got %d", c.Scheduler.MaxPublishAttempts))
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store driver must be 'postgres' or 'sqlite', got %q", c.Store.Driver))
	}
	if !c.Store.DSN.IsSet() {
		errs = append(errs, errors.New("store dsn is required"))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis addr required when redis is enabled"))
		}
		if c.Redis.LockTTL <= 0 {
			errs = append(errs, errors.New("redis lock ttl must be positive"))
		} else if floor := c.Scheduler.AccountTimeout.Duration() + LockReleaseMargin; c.Redis.LockTTL.Duration() <= floor {
			errs = append(errs, fmt.Errorf("redis lock ttl %s must exceed scheduler account timeout plus %s (%s)",
				c.Redis.LockTTL.Duration(), LockReleaseMargin, floor))
		}
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.SubjectPrefix == "") {
		errs = append(errs, errors.New("nats url, stream and subject_prefix are required when nats is enabled"))
	}

	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, errors.New("temporal host_port and task_queue are required when temporal is enabled"))
	}

	if c.Publish.RatePerSecond < 0 {
		errs = append(errs, errors.New("publish rate must be >= 0"))
	}
	if c.Publish.RatePerSecond > 0 && c.Publish.Burst < 1 {
		errs = append(errs, errors.New("publish burst must be >= 1 when rate limiting is enabled"))
	}

	g := c.Guardrails
	if g.MaxLength < 1 || g.MaxThreadPostLength < 1 {
		errs = append(errs, errors.New("guardrail max lengths must be >= 1"))
	}
	if !(g.SimilarityThreshold > 0 && g.SimilarityThreshold <= 1) || !(g.SourceSimilarityThreshold > 0 && g.SourceSimilarityThreshold <= 1) {
		errs = append(errs, errors.New("guardrail similarity thresholds must be in (0,1]"))
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability sample rate must be in [0,1], got %v", c.Observability.SampleRate))
	}

	return errors.Join(errs...)
}
