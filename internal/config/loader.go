package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/actual-software/mailslot/internal/mailslot"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// MAILSLOT_CHANNELS_DEFAULT_MODE.
const EnvPrefix = "MAILSLOT"

const (
	defaultShutdownTimeout   = 30 * time.Second
	defaultStressTimeout     = time.Minute
	defaultStressWorkers     = 4
	defaultStressMessages    = 1000
	defaultStressMaxLength   = 64
	defaultTracingSampleRate = 1.0
)

// Load reads the configuration from path, falling back to defaults for
// anything unset. An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	return &Config{
		Version: 1,
		Channels: ChannelsConfig{
			Count:                  mailslot.DefaultChannels,
			AbsoluteMaxMessageSize: mailslot.DefaultAbsoluteMaxMessageSize,
			DefaultMaxMessageSize:  mailslot.DefaultMaxMessageSize,
			SlotCount:              mailslot.DefaultSlotCount,
			DefaultMode:            mailslot.DefaultMode.String(),
		},
		Server: ServerConfig{
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
			Address: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "mailslotd",
			Environment:  "development",
			SamplerType:  "always_on",
			SamplerParam: defaultTracingSampleRate,
			ExporterType: "stdout",
			OTLPEndpoint: "localhost:4317",
			OTLPInsecure: true,
		},
		Stress: StressConfig{
			Channel:           0,
			Writers:           defaultStressWorkers,
			Readers:           defaultStressWorkers,
			MessagesPerWriter: defaultStressMessages,
			MaxMessageLength:  defaultStressMaxLength,
			Timeout:           defaultStressTimeout,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("version", d.Version)

	setChannelDefaults(v, d.Channels)
	setObservabilityDefaults(v, d)

	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("stress.channel", d.Stress.Channel)
	v.SetDefault("stress.writers", d.Stress.Writers)
	v.SetDefault("stress.readers", d.Stress.Readers)
	v.SetDefault("stress.messages_per_writer", d.Stress.MessagesPerWriter)
	v.SetDefault("stress.max_message_length", d.Stress.MaxMessageLength)
	v.SetDefault("stress.seed", d.Stress.Seed)
	v.SetDefault("stress.timeout", d.Stress.Timeout)
}

func setChannelDefaults(v *viper.Viper, c ChannelsConfig) {
	v.SetDefault("channels.count", c.Count)
	v.SetDefault("channels.absolute_max_message_size", c.AbsoluteMaxMessageSize)
	v.SetDefault("channels.default_max_message_size", c.DefaultMaxMessageSize)
	v.SetDefault("channels.slot_count", c.SlotCount)
	v.SetDefault("channels.default_mode", c.DefaultMode)
}

func setObservabilityDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("health.enabled", d.Health.Enabled)
	v.SetDefault("health.address", d.Health.Address)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.include_caller", d.Logging.IncludeCaller)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sampler_type", d.Tracing.SamplerType)
	v.SetDefault("tracing.sampler_param", d.Tracing.SamplerParam)
	v.SetDefault("tracing.exporter_type", d.Tracing.ExporterType)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", d.Tracing.OTLPInsecure)
}
