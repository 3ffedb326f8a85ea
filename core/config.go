package core

import (
	"fmt"
	"strings"
	"time"
)

type RetryConfig struct {
	BaseBackoff time.Duration `koanf:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type WorkerConfig struct {
	Interval   time.Duration `koanf:"interval" mapstructure:"interval"`
	BatchSize  int           `koanf:"batch_size" mapstructure:"batch_size"`
	StaleAfter time.Duration `koanf:"stale_after" mapstructure:"stale_after"`
}

type BroadcastConfig struct {
	ChannelPrefix string `koanf:"channel_prefix" mapstructure:"channel_prefix"`
}

type IntakeConfig struct {
	// SyncAck raises dispatch failures to the intake caller, inviting the
	// sender's redelivery. Default off: acknowledge once stored, retry
	// internally.
	SyncAck bool `koanf:"sync_ack" mapstructure:"sync_ack"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Retry       RetryConfig     `koanf:"retry" mapstructure:"retry"`
	Worker      WorkerConfig    `koanf:"worker" mapstructure:"worker"`
	Broadcast   BroadcastConfig `koanf:"broadcast" mapstructure:"broadcast"`
	Intake      IntakeConfig    `koanf:"intake" mapstructure:"intake"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "ingest",
		Retry: RetryConfig{
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  5 * time.Minute,
			MaxAttempts: 5,
		},
		Worker: WorkerConfig{
			Interval:   30 * time.Second,
			BatchSize:  50,
			StaleAfter: 10 * time.Minute,
		},
		Broadcast: BroadcastConfig{
			ChannelPrefix: "ingest.broadcast",
		},
		Intake: IntakeConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.BaseBackoff <= 0 {
		return fmt.Errorf("core: retry.base_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("core: retry.max_backoff must be >= retry.base_backoff")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be >= 1")
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("core: worker.interval must be positive")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("core: worker.batch_size must be >= 1")
	}
	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("core: worker.stale_after must be positive")
	}
	return nil
}
