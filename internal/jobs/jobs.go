// Package jobs runs periodic maintenance: closing idle or dead sessions and
// purging old audit records.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Default schedules.
const (
	DefaultSweepSpec = "@every 1m"
	DefaultPurgeSpec = "@daily"
)

// SessionSweeper closes sessions idle past a timeout.
type SessionSweeper interface {
	SweepIdle(idleTimeout time.Duration) int
}

// AuditPurger deletes audit records older than a number of days.
type AuditPurger interface {
	PurgeOlderThan(days int) (int64, error)
}

// Config configures the scheduler. Empty specs select the defaults.
type Config struct {
	IdleTimeout time.Duration
	SweepSpec   string
	PurgeSpec   string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	config  Config
	sweeper SessionSweeper
	purger  AuditPurger
}

// New registers the maintenance jobs. A nil purger skips the audit purge.
func New(config Config, sweeper SessionSweeper, purger AuditPurger) (*Scheduler, error) {
	if config.SweepSpec == "" {
		config.SweepSpec = DefaultSweepSpec
	}
	if config.PurgeSpec == "" {
		config.PurgeSpec = DefaultPurgeSpec
	}

	logger := cron.PrintfLogger(log.Default())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		config:  config,
		sweeper: sweeper,
		purger:  purger,
	}

	if sweeper != nil && config.IdleTimeout > 0 {
		if _, err := s.cron.AddFunc(config.SweepSpec, s.RunSweep); err != nil {
			return nil, fmt.Errorf("schedule session sweep %q: %w", config.SweepSpec, err)
		}
	}
	if purger != nil {
		if _, err := s.cron.AddFunc(config.PurgeSpec, s.RunPurge); err != nil {
			return nil, fmt.Errorf("schedule audit purge %q: %w", config.PurgeSpec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[jobs] scheduler started with %d jobs", s.Jobs())
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[jobs] stop timed out waiting for running jobs")
	}
}

// RunSweep closes idle and dead sessions once.
func (s *Scheduler) RunSweep() {
	if n := s.sweeper.SweepIdle(s.config.IdleTimeout); n > 0 {
		log.Printf("[jobs] closed %d idle or failed sessions", n)
	}
}

// RunPurge deletes expired audit records once.
func (s *Scheduler) RunPurge() {
	if _, err := s.purger.PurgeOlderThan(0); err != nil {
		log.Printf("[jobs] audit purge failed: %v", err)
	}
}
