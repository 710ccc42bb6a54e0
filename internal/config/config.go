// Package config loads the YAML configuration shared by the pipeline
// binaries. Configuration is immutable after startup; a validation
// failure is the only condition under which a service exits non-zero.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fleetgrid/backend/internal/rules"
)

// Config is the root configuration document.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Detector DetectorConfig `yaml:"detector"`
	Operator OperatorConfig `yaml:"operator"`
	Replay   ReplayConfig   `yaml:"replay"`
}

// BusConfig identifies the partitioned log the services talk to. The
// bus is Google Cloud Pub/Sub with message ordering enabled; ordering
// key = vehicle_id is what gives per-vehicle delivery order.
type BusConfig struct {
	ProjectID    string `yaml:"project_id"`
	Subscription string `yaml:"subscription"` // consumer group identity
	InTopic      string `yaml:"in_topic"`
	OutTopic     string `yaml:"out_topic"`

	// RequestTimeoutSeconds bounds individual bus operations.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// DetectorConfig configures the anomaly-detection engine.
type DetectorConfig struct {
	RingBufferSize       int              `yaml:"ring_buffer_size"`
	DedupCapacity        int              `yaml:"dedup_capacity"`
	ShutdownGraceSeconds int              `yaml:"shutdown_grace_seconds"`
	AgentWindowSeconds   int              `yaml:"agent_window_seconds"`
	StateTTLSeconds      int              `yaml:"state_ttl_seconds"` // 0 = retain vehicles forever
	HealthAddr           string           `yaml:"health_addr"`
	Thresholds           rules.Thresholds `yaml:"thresholds"`
}

// OperatorConfig configures the operator-facing aggregation service.
// Redis and Postgres are optional; absent backends degrade to in-memory
// aggregates.
type OperatorConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	Subscription string `yaml:"subscription"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	PostgresDSN  string `yaml:"postgres_dsn"`
}

// ReplayConfig configures the telemetry replay publisher.
type ReplayConfig struct {
	DatasetPath string  `yaml:"dataset_path"`
	RateHz      float64 `yaml:"rate_hz"`
	Loop        bool    `yaml:"loop"`
}

// Default returns the configuration with every defaultable field set.
// Bus project and subscription stay empty: they are required.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			InTopic:               "raw_telemetry",
			OutTopic:              "anomalies",
			RequestTimeoutSeconds: 10,
		},
		Detector: DetectorConfig{
			RingBufferSize:       30,
			DedupCapacity:        10000,
			ShutdownGraceSeconds: 5,
			AgentWindowSeconds:   1,
			HealthAddr:           ":8081",
			Thresholds:           rules.DefaultThresholds(),
		},
		Operator: OperatorConfig{
			HTTPAddr:     ":8090",
			Subscription: "operator-service",
		},
		Replay: ReplayConfig{
			RateHz: 10,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides, and validates. Pass an empty path to run on
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps the deploy-time environment onto the config. Only
// identity and endpoint fields are overridable; thresholds come from
// the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("BUS_PROJECT_ID"); v != "" {
		c.Bus.ProjectID = v
	}
	if v := os.Getenv("BUS_SUBSCRIPTION"); v != "" {
		c.Bus.Subscription = v
	}
	if v := os.Getenv("BUS_IN_TOPIC"); v != "" {
		c.Bus.InTopic = v
	}
	if v := os.Getenv("BUS_OUT_TOPIC"); v != "" {
		c.Bus.OutTopic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Operator.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Operator.PostgresDSN = v
	}
}

// Validate fails fast on anything the services cannot run with.
func (c *Config) Validate() error {
	if c.Bus.ProjectID == "" {
		return fmt.Errorf("bus.project_id is required")
	}
	if c.Bus.Subscription == "" {
		return fmt.Errorf("bus.subscription is required")
	}
	if c.Bus.InTopic == "" || c.Bus.OutTopic == "" {
		return fmt.Errorf("bus topics must not be empty")
	}
	if c.Bus.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("bus.request_timeout_seconds must be positive, got %d", c.Bus.RequestTimeoutSeconds)
	}
	if c.Detector.RingBufferSize < 2 {
		return fmt.Errorf("detector.ring_buffer_size must be at least 2, got %d", c.Detector.RingBufferSize)
	}
	if c.Detector.DedupCapacity <= 0 {
		return fmt.Errorf("detector.dedup_capacity must be positive, got %d", c.Detector.DedupCapacity)
	}
	if c.Detector.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("detector.shutdown_grace_seconds must not be negative")
	}
	if c.Detector.AgentWindowSeconds <= 0 {
		return fmt.Errorf("detector.agent_window_seconds must be positive")
	}

	th := c.Detector.Thresholds
	if th.SuddenDeceleration.Warning >= 0 || th.SuddenDeceleration.Critical >= 0 {
		return fmt.Errorf("deceleration thresholds must be negative")
	}
	if th.SuddenDeceleration.Critical > th.SuddenDeceleration.Warning {
		return fmt.Errorf("deceleration critical threshold %.2f must not be above warning %.2f",
			th.SuddenDeceleration.Critical, th.SuddenDeceleration.Warning)
	}
	if th.PerceptionInstability.CentroidWarning <= 0 || th.PerceptionInstability.CentroidCritical <= 0 {
		return fmt.Errorf("centroid thresholds must be positive")
	}
	if th.PerceptionInstability.CentroidCritical < th.PerceptionInstability.CentroidWarning {
		return fmt.Errorf("centroid critical threshold %.2f must not be below warning %.2f",
			th.PerceptionInstability.CentroidCritical, th.PerceptionInstability.CentroidWarning)
	}
	if th.DropoutProxy.AgentDrop <= 0 {
		return fmt.Errorf("dropout agent_drop must be positive")
	}

	if c.Replay.RateHz <= 0 {
		return fmt.Errorf("replay.rate_hz must be positive")
	}
	return nil
}

// RequestTimeout returns the per-operation bus deadline.
func (c *BusConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace returns the drain window for cooperative shutdown.
func (c *DetectorConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// AgentWindow returns the rolling active-agent window cadence.
func (c *DetectorConfig) AgentWindow() time.Duration {
	return time.Duration(c.AgentWindowSeconds) * time.Second
}

// StateTTL returns the cold-vehicle eviction TTL; zero disables eviction.
func (c *DetectorConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}
