package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults that keep the broker safe and functional with no config file at
// all. Load failures fall back to these rather than refusing to start.
const (
	DefaultSocketPath = "/run/makemeadmin/broker.sock"
	DefaultStateDir   = "/var/lib/makemeadmin"
	DefaultConfigDir  = "/etc/makemeadmin"
	DefaultUnitDir    = "/etc/systemd/system"
)

// Config holds all application configuration
type Config struct {
	Broker        BrokerConfig        `mapstructure:"broker"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Group         GroupConfig         `mapstructure:"group"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
}

// BrokerConfig holds the IPC endpoint and durable-state locations.
type BrokerConfig struct {
	SocketPath  string        `mapstructure:"socket_path"`
	StateDir    string        `mapstructure:"state_dir"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// PolicyConfig holds authorization and duration policy.
type PolicyConfig struct {
	DefaultDurationMinutes int      `mapstructure:"default_duration_minutes"`
	MinDurationMinutes     int      `mapstructure:"min_duration_minutes"`
	MaxDurationMinutes     int      `mapstructure:"max_duration_minutes"`
	AllowList              []string `mapstructure:"allow"`
	DenyList               []string `mapstructure:"deny"`
}

// GroupConfig identifies the privileged group. GID pins the group by its
// stable numeric identifier; when negative the broker resolves one of the
// well-known names once at startup and pins the result.
type GroupConfig struct {
	GID         int           `mapstructure:"gid"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// SchedulerConfig holds revocation-job scheduling configuration.
// OnScheduleFailure decides what happens when the group add succeeded but
// the revocation job could not be created: "warn" keeps the grant without
// auto-expiry, "revoke" rolls the membership back and fails the request.
type SchedulerConfig struct {
	JobNamespace      string `mapstructure:"job_namespace"`
	UnitDir           string `mapstructure:"unit_dir"`
	OnScheduleFailure string `mapstructure:"on_schedule_failure"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	OTELEnabled    bool   `mapstructure:"otel_enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// RateLimitConfig holds per-caller rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"rps"`
	Burst             int     `mapstructure:"burst"`
}

// Default returns the built-in safe configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			SocketPath:  DefaultSocketPath,
			StateDir:    DefaultStateDir,
			ReadTimeout: 30 * time.Second,
		},
		Policy: PolicyConfig{
			DefaultDurationMinutes: 15,
			MinDurationMinutes:     1,
			MaxDurationMinutes:     120,
		},
		Group: GroupConfig{
			GID:         -1,
			SettleDelay: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			JobNamespace:      "makemeadmin-revoke",
			UnitDir:           DefaultUnitDir,
			OnScheduleFailure: "warn",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "makemeadmin",
			ServiceVersion: "0.1.0",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// Load reads configuration from the given directory (config.yaml) merged
// with MAKEMEADMIN_* environment variables, then validates it. A missing
// file yields the defaults; an unreadable or invalid file is an error so
// the caller can decide to fail closed or fall back.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.AutomaticEnv()
	v.SetEnvPrefix("MAKEMEADMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("broker.socket_path", def.Broker.SocketPath)
	v.SetDefault("broker.state_dir", def.Broker.StateDir)
	v.SetDefault("broker.read_timeout", def.Broker.ReadTimeout)
	v.SetDefault("policy.default_duration_minutes", def.Policy.DefaultDurationMinutes)
	v.SetDefault("policy.min_duration_minutes", def.Policy.MinDurationMinutes)
	v.SetDefault("policy.max_duration_minutes", def.Policy.MaxDurationMinutes)
	v.SetDefault("group.gid", def.Group.GID)
	v.SetDefault("group.settle_delay", def.Group.SettleDelay)
	v.SetDefault("scheduler.job_namespace", def.Scheduler.JobNamespace)
	v.SetDefault("scheduler.unit_dir", def.Scheduler.UnitDir)
	v.SetDefault("scheduler.on_schedule_failure", def.Scheduler.OnScheduleFailure)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_format", def.Observability.LogFormat)
	v.SetDefault("observability.otel_enabled", def.Observability.OTELEnabled)
	v.SetDefault("observability.service_name", def.Observability.ServiceName)
	v.SetDefault("observability.service_version", def.Observability.ServiceVersion)
	v.SetDefault("ratelimit.rps", def.RateLimit.RequestsPerSecond)
	v.SetDefault("ratelimit.burst", def.RateLimit.Burst)
}

// Validate validates the configuration. Duration bounds are rejected when
// inconsistent, never silently clamped.
func (c *Config) Validate() error {
	p := c.Policy
	if p.MinDurationMinutes <= 0 {
		return fmt.Errorf("policy.min_duration_minutes must be positive, got %d", p.MinDurationMinutes)
	}
	if p.MinDurationMinutes > p.DefaultDurationMinutes {
		return fmt.Errorf("policy.min_duration_minutes (%d) exceeds default (%d)", p.MinDurationMinutes, p.DefaultDurationMinutes)
	}
	if p.DefaultDurationMinutes > p.MaxDurationMinutes {
		return fmt.Errorf("policy.default_duration_minutes (%d) exceeds max (%d)", p.DefaultDurationMinutes, p.MaxDurationMinutes)
	}
	if c.Broker.SocketPath == "" {
		return fmt.Errorf("broker.socket_path is required")
	}
	if c.Broker.ReadTimeout <= 0 {
		return fmt.Errorf("broker.read_timeout must be positive")
	}
	switch c.Scheduler.OnScheduleFailure {
	case "warn", "revoke":
	default:
		return fmt.Errorf("scheduler.on_schedule_failure must be \"warn\" or \"revoke\", got %q", c.Scheduler.OnScheduleFailure)
	}
	if c.Scheduler.JobNamespace == "" {
		return fmt.Errorf("scheduler.job_namespace is required")
	}
	return nil
}

// DefaultDuration returns the policy default as a duration.
func (p PolicyConfig) DefaultDuration() time.Duration {
	return time.Duration(p.DefaultDurationMinutes) * time.Minute
}

// ClampDuration clamps a requested duration in minutes into the configured
// bounds; non-positive requests take the default.
func (p PolicyConfig) ClampDuration(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = p.DefaultDurationMinutes
	}
	if minutes < p.MinDurationMinutes {
		minutes = p.MinDurationMinutes
	}
	if minutes > p.MaxDurationMinutes {
		minutes = p.MaxDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}
