package config

import (
	"strings"

	"go.uber.org/zap/zapcore"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

const component = "config"

var (
	validLogFormats    = []string{"json", "console"}
	validExporterTypes = []string{"stdout", "otlp", "none"}
	validSamplerTypes  = []string{"always_on", "always_off", "ratio", "parent_based"}
)

// Validate validates the entire configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("config cannot be nil")
	}

	if cfg.Version != 1 {
		return invalid("unsupported config version").WithContext("version", cfg.Version)
	}

	validators := []struct {
		section string
		check   func(*Config) error
	}{
		{"channels", validateChannels},
		{"server", validateServer},
		{"metrics", validateMetrics},
		{"health", validateHealth},
		{"logging", validateLogging},
		{"tracing", validateTracing},
		{"stress", validateStress},
	}

	for _, v := range validators {
		if err := v.check(cfg); err != nil {
			return mserrors.Wrap(err, mserrors.KindInvalidConfig, "invalid "+v.section+" configuration").
				WithComponent(component)
		}
	}

	return nil
}

func validateChannels(cfg *Config) error {
	settings, err := cfg.Channels.Settings()
	if err != nil {
		return err
	}

	return settings.Validate()
}

func validateServer(cfg *Config) error {
	if cfg.Server.ShutdownTimeout <= 0 {
		return invalid("shutdown timeout must be positive").
			WithContext("shutdown_timeout", cfg.Server.ShutdownTimeout.String())
	}

	return nil
}

func validateMetrics(cfg *Config) error {
	if !cfg.Metrics.Enabled {
		return nil
	}

	if cfg.Metrics.Address == "" {
		return invalid("metrics address is required when metrics are enabled")
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return invalid("metrics path must start with /").WithContext("path", cfg.Metrics.Path)
	}

	return nil
}

func validateHealth(cfg *Config) error {
	if cfg.Health.Enabled && cfg.Health.Address == "" {
		return invalid("health address is required when health endpoints are enabled")
	}

	return nil
}

func validateLogging(cfg *Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return invalid("invalid log level").WithContext("level", cfg.Logging.Level)
	}

	if !contains(validLogFormats, cfg.Logging.Format) {
		return invalid("invalid log format").WithContext("format", cfg.Logging.Format)
	}

	return nil
}

func validateTracing(cfg *Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}

	if cfg.Tracing.ServiceName == "" {
		return invalid("tracing service name is required")
	}

	if !contains(validExporterTypes, cfg.Tracing.ExporterType) {
		return invalid("invalid exporter type").WithContext("exporter_type", cfg.Tracing.ExporterType)
	}

	if !contains(validSamplerTypes, cfg.Tracing.SamplerType) {
		return invalid("invalid sampler type").WithContext("sampler_type", cfg.Tracing.SamplerType)
	}

	if cfg.Tracing.SamplerParam < 0 || cfg.Tracing.SamplerParam > 1 {
		return invalid("sampler param must be between 0 and 1").
			WithContext("sampler_param", cfg.Tracing.SamplerParam)
	}

	if cfg.Tracing.ExporterType == "otlp" && cfg.Tracing.OTLPEndpoint == "" {
		return invalid("otlp endpoint is required for the otlp exporter")
	}

	return nil
}

func validateStress(cfg *Config) error {
	s := cfg.Stress

	switch {
	case s.Channel < 0 || s.Channel >= cfg.Channels.Count:
		return invalid("stress channel out of range").WithContext("channel", s.Channel)
	case s.Writers <= 0 || s.Readers <= 0:
		return invalid("stress needs at least one writer and one reader")
	case s.MessagesPerWriter <= 0:
		return invalid("messages per writer must be positive")
	case s.MaxMessageLength <= 0 || s.MaxMessageLength > cfg.Channels.DefaultMaxMessageSize:
		return invalid("stress max message length must be within the default max message size").
			WithContext("max_message_length", s.MaxMessageLength)
	case s.Timeout <= 0:
		return invalid("stress timeout must be positive")
	}

	return nil
}

func invalid(message string) *mserrors.Error {
	return mserrors.Newf(mserrors.KindInvalidConfig, "%s", message).WithComponent(component)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}

	return false
}
