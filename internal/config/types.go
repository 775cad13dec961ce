// Package config defines the mailslotd configuration and loads it with viper.
package config

import (
	"time"

	"github.com/actual-software/mailslot/internal/mailslot"
)

// Config represents the mailslotd configuration.
type Config struct {
	Version  int            `mapstructure:"version"  yaml:"version"`
	Channels ChannelsConfig `mapstructure:"channels" yaml:"channels"`
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Health   HealthConfig   `mapstructure:"health"   yaml:"health"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"  yaml:"tracing"`
	Stress   StressConfig   `mapstructure:"stress"   yaml:"stress"`
}

// ChannelsConfig holds the registry startup constants.
type ChannelsConfig struct {
	Count                  int    `mapstructure:"count"                     yaml:"count"`
	AbsoluteMaxMessageSize int    `mapstructure:"absolute_max_message_size" yaml:"absolute_max_message_size"`
	DefaultMaxMessageSize  int    `mapstructure:"default_max_message_size"  yaml:"default_max_message_size"`
	SlotCount              int    `mapstructure:"slot_count"                yaml:"slot_count"`
	DefaultMode            string `mapstructure:"default_mode"              yaml:"default_mode"`
}

// Settings converts the section into registry settings.
func (c ChannelsConfig) Settings() (mailslot.Settings, error) {
	mode, err := mailslot.ParseMode(c.DefaultMode)
	if err != nil {
		return mailslot.Settings{}, err
	}

	return mailslot.Settings{
		Count:                  c.Count,
		AbsoluteMaxMessageSize: c.AbsoluteMaxMessageSize,
		DefaultMaxMessageSize:  c.DefaultMaxMessageSize,
		DefaultSlotCount:       c.SlotCount,
		DefaultMode:            mode,
	}, nil
}

// ServerConfig holds process lifecycle settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// HealthConfig represents the health endpoint configuration.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level         string `mapstructure:"level"          yaml:"level"`
	Format        string `mapstructure:"format"         yaml:"format"`
	IncludeCaller bool   `mapstructure:"include_caller" yaml:"include_caller"`
}

// TracingConfig represents the distributed tracing configuration.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"         yaml:"enabled"`
	ServiceName    string  `mapstructure:"service_name"    yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
	Environment    string  `mapstructure:"environment"     yaml:"environment"`
	SamplerType    string  `mapstructure:"sampler_type"    yaml:"sampler_type"`
	SamplerParam   float64 `mapstructure:"sampler_param"   yaml:"sampler_param"`
	ExporterType   string  `mapstructure:"exporter_type"   yaml:"exporter_type"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"   yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"   yaml:"otlp_insecure"`
}

// StressConfig drives the built-in producer/consumer exercise.
type StressConfig struct {
	Channel           int           `mapstructure:"channel"             yaml:"channel"`
	Writers           int           `mapstructure:"writers"             yaml:"writers"`
	Readers           int           `mapstructure:"readers"             yaml:"readers"`
	MessagesPerWriter int           `mapstructure:"messages_per_writer" yaml:"messages_per_writer"`
	MaxMessageLength  int           `mapstructure:"max_message_length"  yaml:"max_message_length"`
	Seed              int64         `mapstructure:"seed"                yaml:"seed"`
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
}
