package safi

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envConfig is the environment surface, read with the SAFI_ prefix
// (SAFI_BASE_URL, SAFI_STORAGE_PATH, ...).
type envConfig struct {
	BaseURL              string        `envconfig:"BASE_URL" required:"true"`
	HTTPTimeout          time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	StoragePath          string        `envconfig:"STORAGE_PATH"`
	QueueMaxAttempts     int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"8"`
	QueueBaseBackoff     time.Duration `envconfig:"QUEUE_BASE_BACKOFF" default:"1s"`
	QueueMaxInterval     time.Duration `envconfig:"QUEUE_MAX_INTERVAL" default:"5m"`
	AuditPollInterval    time.Duration `envconfig:"AUDIT_POLL_INTERVAL" default:"3s"`
	AuditPollMaxAttempts int           `envconfig:"AUDIT_POLL_MAX_ATTEMPTS" default:"20"`
	Debug                bool          `envconfig:"DEBUG"`
}

// FromEnv constructs a Client from SAFI_* environment variables. Explicit
// options are applied after the environment-derived ones and win.
func FromEnv(opts ...Option) (*Client, error) {
	var cfg envConfig
	if err := envconfig.Process("safi", &cfg); err != nil {
		return nil, err
	}

	base := []Option{
		WithHTTPTimeout(cfg.HTTPTimeout),
		WithQueueRetry(cfg.QueueMaxAttempts, cfg.QueueBaseBackoff, cfg.QueueMaxInterval),
		WithAuditPolling(cfg.AuditPollInterval, cfg.AuditPollMaxAttempts),
	}
	if cfg.StoragePath != "" {
		base = append(base, WithStoragePath(cfg.StoragePath))
	}
	if cfg.Debug {
		base = append(base, WithDebugLogging(true))
	}
	return New(cfg.BaseURL, append(base, opts...)...), nil
}
