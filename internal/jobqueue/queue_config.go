/*
Package jobqueue configuration - tunable parameters for the River periodic passes.

# River Job Queue Configuration Guide

Each pass (ingest per platform, classify, autopilot tick) is a River periodic job. River
persists the jobs in Postgres, so only one worker process runs a given pass at a time even
when several `replyradar worker` processes share a database.

## Quick Configuration Reference:

### Cadence:
- IngestInterval controls how often every platform is searched (default 30 minutes)
- ClassifyInterval should be shorter than IngestInterval so new posts are scored promptly
- TickInterval drives drafting and sending; pacing caps still apply on every tick

### Resource Management:
- MaxWorkers bounds concurrent passes and therefore database connections
- JobTimeout bounds a single pass; LLM calls inside it have their own 120s timeout
*/
package jobqueue

import (
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers int           `koanf:"max_workers"`
	MaxRetries int           `koanf:"max_retries"`
	JobTimeout time.Duration `koanf:"job_timeout"`

	IngestInterval   time.Duration `koanf:"ingest_interval"`
	ClassifyInterval time.Duration `koanf:"classify_interval"`
	TickInterval     time.Duration `koanf:"tick_interval"`

	// Platforms gets one ingest job each. Empty means a single job covering all adapters.
	Platforms []string `koanf:"platforms"`

	// RunOnStart enqueues every pass as soon as the client starts.
	RunOnStart bool `koanf:"run_on_start"`
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 4,
		// passes are idempotent and periodic; the next period is the retry
		MaxRetries:       1,
		JobTimeout:       15 * time.Minute,
		IngestInterval:   30 * time.Minute,
		ClassifyInterval: 10 * time.Minute,
		TickInterval:     5 * time.Minute,
		RunOnStart:       true,
	}
}

// DevelopmentQueueConfig returns a configuration with short cadences for local runs
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 2
	config.IngestInterval = 5 * time.Minute
	config.ClassifyInterval = 2 * time.Minute
	config.TickInterval = time.Minute
	return config
}

// Validate rejects intervals River cannot schedule sensibly.
func (c *QueueConfig) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"ingest_interval":   c.IngestInterval,
		"classify_interval": c.ClassifyInterval,
		"tick_interval":     c.TickInterval,
	} {
		if d < time.Minute {
			return fmt.Errorf("%s must be at least 1m, got %s", name, d)
		}
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}
	return nil
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
