// Package config loads agentlink configuration from YAML files and
// CLOUDFLAIR_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/outbox"
	"github.com/cloudflair/agentlink/pkg/resilience"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Agent     AgentConfig     `koanf:"agent"`
	Playbooks PlaybooksConfig `koanf:"playbooks"`
	Sync      SyncConfig      `koanf:"sync"`
	Outbox    OutboxConfig    `koanf:"outbox"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// AgentConfig names the identity this process acts as. The secret normally
// arrives via CLOUDFLAIR_AGENT_SECRET rather than the config file.
type AgentConfig struct {
	Name   string `koanf:"name"`
	Secret string `koanf:"secret"`
}

type PlaybooksConfig struct {
	Dir string `koanf:"dir"`
}

type SyncConfig struct {
	Endpoint     string        `koanf:"endpoint"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
}

type OutboxConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepTimeout  time.Duration `koanf:"sweep_timeout"`
	Batch         int           `koanf:"batch"`
	MaxAttempts   int           `koanf:"max_attempts"`
	MaxAge        time.Duration `koanf:"max_age"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("playbooks.dir", "./playbooks")

	k.Set("sync.timeout", "30s")
	k.Set("sync.max_attempts", 3)
	k.Set("sync.initial_delay", "500ms")
	k.Set("sync.max_delay", "10s")
	k.Set("sync.multiplier", 2.0)

	k.Set("outbox.enabled", false)
	k.Set("outbox.path", "./agentlink-outbox.db")
	k.Set("outbox.sweep_interval", "1m")
	k.Set("outbox.sweep_timeout", "30s")
	k.Set("outbox.batch", 50)
	k.Set("outbox.max_attempts", 10)
	k.Set("outbox.max_age", "24h")

	k.Set("telemetry.exporter", "none")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (CLOUDFLAIR_SYNC_ENDPOINT -> sync.endpoint)
	if err := k.Load(env.Provider("CLOUDFLAIR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CLOUDFLAIR_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Identity builds the agent identity this process runs as.
func (c *Config) Identity() (identity.Identity, error) {
	return identity.New(c.Agent.Name, identity.SecretFromString(c.Agent.Secret))
}

// RetryConfig maps the sync section onto the resilience policy.
func (c SyncConfig) RetryConfig() resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		retry.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelay > 0 {
		retry.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		retry.MaxDelay = c.MaxDelay
	}
	if c.Multiplier > 1 {
		retry.Multiplier = c.Multiplier
	}
	return retry
}

// SweeperConfig maps the outbox section onto the sweep bounds.
func (c OutboxConfig) SweeperConfig() outbox.SweeperConfig {
	sweep := outbox.DefaultSweeperConfig()
	if c.SweepInterval > 0 {
		sweep.Interval = c.SweepInterval
	}
	if c.SweepTimeout > 0 {
		sweep.Timeout = c.SweepTimeout
	}
	if c.Batch > 0 {
		sweep.Batch = c.Batch
	}
	if c.MaxAttempts > 0 {
		sweep.MaxAttempts = c.MaxAttempts
	}
	if c.MaxAge > 0 {
		sweep.MaxAge = c.MaxAge
	}
	return sweep
}

// Validate checks the fields a running adapter cannot do without.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.Secret == "" {
		return fmt.Errorf("agent.secret is required (set CLOUDFLAIR_AGENT_SECRET)")
	}
	if c.Playbooks.Dir == "" {
		return fmt.Errorf("playbooks.dir is required")
	}
	return nil
}
