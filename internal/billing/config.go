package billing

import (
	"time"

	"github.com/smallbiznis/enrollment/internal/config"
)

// Config controls the recurring billing run.
type Config struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	BatchSize        int
	Workers          int
	FailureThreshold int
	ChargeTimeout    time.Duration
	ClaimLease       time.Duration
	RetryInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Hour,
		JobTimeout:       30 * time.Minute,
		BatchSize:        100,
		Workers:          8,
		FailureThreshold: 3,
		ChargeTimeout:    20 * time.Second,
		ClaimLease:       10 * time.Minute,
		RetryInterval:    24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Billing.RunInterval,
		BatchSize:        cfg.Billing.BatchSize,
		Workers:          cfg.Billing.Workers,
		FailureThreshold: cfg.Billing.FailureThreshold,
		ChargeTimeout:    cfg.Billing.ChargeTimeout,
		ClaimLease:       cfg.Billing.ClaimLease,
		RetryInterval:    cfg.Billing.RetryInterval,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.ChargeTimeout <= 0 {
		c.ChargeTimeout = defaults.ChargeTimeout
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = defaults.ClaimLease
	}
	if c.RetryInterval < 0 {
		c.RetryInterval = 0
	}
	return c
}
