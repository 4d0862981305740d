// Package config loads the relay's YAML configuration. The file is read
// once at startup and never re-read.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Snowflake SnowflakeConfig `yaml:"snowflake"`
	Batch     BatchConfig     `yaml:"batch"`
	Queue     QueueConfig     `yaml:"queue"`
	Device    DeviceConfig    `yaml:"device"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Spool     SpoolConfig     `yaml:"spool"`
	Log       LogConfig       `yaml:"log"`
}

// SnowflakeConfig identifies the ingest target and the credential material.
// Exactly one of PAT or PrivateKeyFile must be set.
type SnowflakeConfig struct {
	Account        string `yaml:"account"`
	User           string `yaml:"user"`
	Role           string `yaml:"role"`
	Database       string `yaml:"database"`
	Schema         string `yaml:"schema"`
	Pipe           string `yaml:"pipe"`
	ChannelName    string `yaml:"channel_name"`
	PAT            string `yaml:"pat"`
	PrivateKeyFile string `yaml:"private_key_file"`

	// ControlHost overrides the account-derived control endpoint; used by
	// tests and non-standard deployments.
	ControlHost    string   `yaml:"control_host"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type BatchConfig struct {
	Size          int      `yaml:"size"`
	FlushInterval Duration `yaml:"flush_interval"`
	PollTimeout   Duration `yaml:"poll_timeout"`
}

// QueueConfig bounds the ingestion queue. MaxLen 0 keeps it unbounded, the
// default for this deployment profile; a positive value enables the
// drop-oldest policy.
type QueueConfig struct {
	MaxLen int `yaml:"max_len"`
}

// DeviceConfig points the replay collector at a capture file. Live device
// transports are separate processes feeding the same callback shape.
type DeviceConfig struct {
	ReplayFile  string   `yaml:"replay_file"`
	ReplayDelay Duration `yaml:"replay_delay"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SpoolConfig enables the failed-batch spool when Dir is non-empty.
type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Batch.Size == 0 {
		c.Batch.Size = 10
	}
	if c.Batch.FlushInterval == 0 {
		c.Batch.FlushInterval = Duration(5 * time.Second)
	}
	if c.Batch.PollTimeout == 0 {
		c.Batch.PollTimeout = Duration(500 * time.Millisecond)
	}
	if c.Snowflake.ChannelName == "" {
		c.Snowflake.ChannelName = "MESH_CHNL"
	}
	if c.Snowflake.Role == "" {
		c.Snowflake.Role = "PUBLIC"
	}
	if c.Snowflake.RequestTimeout == 0 {
		c.Snowflake.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Snowflake.Account == "" && c.Snowflake.ControlHost == "" {
		return fmt.Errorf("snowflake.account is required")
	}
	if c.Snowflake.Database == "" {
		return fmt.Errorf("snowflake.database is required")
	}
	if c.Snowflake.Schema == "" {
		return fmt.Errorf("snowflake.schema is required")
	}
	if c.Snowflake.Pipe == "" {
		return fmt.Errorf("snowflake.pipe is required")
	}
	if c.Snowflake.PAT == "" && c.Snowflake.PrivateKeyFile == "" {
		return fmt.Errorf("snowflake auth: set either pat or private_key_file")
	}
	if c.Snowflake.PrivateKeyFile != "" && c.Snowflake.User == "" {
		return fmt.Errorf("snowflake.user is required for key-pair auth")
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be at least 1")
	}
	if c.Queue.MaxLen < 0 {
		return fmt.Errorf("queue.max_len cannot be negative")
	}
	return nil
}
