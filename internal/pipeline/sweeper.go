package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/olumide-dev/brainpipe/internal/config"
	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// SweepStats summarizes one recovery pass.
type SweepStats struct {
	NeverStarted int
	Stalled      int
	Retried      int
}

// Sweeper periodically finds jobs that never started, jobs stalled mid-
// processing, and failed jobs matching a transient error signature, and
// redrives each through the same entry point workers use. There is no
// in-memory sweeping flag: the store's claim queries stamp each job as they
// select it, so any number of instances can run the sweep concurrently
// without double-redriving.
type Sweeper struct {
	store  core.JobStore
	proc   *Processor
	cfg    config.PipelineConfig
	cron   *cron.Cron
	logger log.Logger
}

func NewSweeper(store core.JobStore, proc *Processor, cfg config.PipelineConfig, logger log.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		proc:   proc,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the sweep on the configured interval.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("interval", s.cfg.SweepInterval.String()).Msg("recovery sweeper started")
	return nil
}

// Stop stops the schedule; an in-flight pass finishes on its own.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("recovery sweeper stopped")
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepInterval*4)
	defer cancel()

	stats, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("recovery sweep failed")
		return
	}
	if stats.NeverStarted+stats.Stalled+stats.Retried > 0 {
		s.logger.Info().Int("never_started", stats.NeverStarted).
			Int("stalled", stats.Stalled).Int("retried", stats.Retried).
			Msg("recovery sweep redrove jobs")
	}
}

// Sweep executes one pass. Jobs younger than their respective thresholds are
// left alone; failures outside the retry window or without a transient
// signature stay failed for manual intervention.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	pending, err := s.store.ClaimNeverStarted(ctx, s.cfg.PendingGrace)
	if err != nil {
		return stats, fmt.Errorf("claim never-started: %w", err)
	}
	stats.NeverStarted = s.redrive(ctx, pending, "never_started")

	stalled, err := s.store.ClaimStalled(ctx, s.cfg.StallAfter)
	if err != nil {
		return stats, fmt.Errorf("claim stalled: %w", err)
	}
	stats.Stalled = s.redrive(ctx, stalled, "stalled")

	// Claiming a retryable failure also resets it to pending, clearing the
	// error message, completion timestamp and counters.
	retried, err := s.store.ClaimRetryableFailed(ctx, s.cfg.RetryAfter, s.cfg.RetryWindow, s.cfg.TransientErrs)
	if err != nil {
		return stats, fmt.Errorf("claim retryable failures: %w", err)
	}
	stats.Retried = s.redrive(ctx, retried, "transient_failure")

	return stats, nil
}

func (s *Sweeper) redrive(ctx context.Context, jobs []models.Job, reason string) int {
	n := 0
	for _, job := range jobs {
		age := time.Since(job.CreatedAt).Round(time.Second)
		if err := s.proc.ProcessJob(ctx, job.ID, true); err != nil {
			s.logger.Error().Str("job_id", job.ID).Str("reason", reason).
				Str("age", age.String()).Err(err).Msg("redrive failed")
			continue
		}
		s.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).
			Str("reason", reason).Str("age", age.String()).Msg("job redriven")
		n++
	}
	return n
}
