/**
 * @description
 * Cron scheduler that drives interest accrual on a fixed interval.
 *
 * @notes
 * - The first tick runs as soon as Start is called; later ticks follow every interval.
 * - Overlapping ticks are skipped, not queued.
 * - Tick errors are logged and swallowed; the next tick always runs.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/ledger-service/internal/metrics"
)

// Scheduler runs the accrual job in the background for the life of the process.
type Scheduler struct {
	cron     *cron.Cron
	job      cron.Job
	accrual  *InterestAccrual
	lock     TickLock
	interval time.Duration
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// NewScheduler creates a scheduler. lock may be nil, in which case every tick runs.
func NewScheduler(accrual *InterestAccrual, lock TickLock, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	chain := cron.NewChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	)
	if lock == nil {
		lock = localTickLock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(),
		accrual:  accrual,
		lock:     lock,
		interval: accrual.Interval(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	// The startup run and the cron ticks share one wrapped job so they never overlap.
	s.job = chain.Then(cron.FuncJob(s.runTick))
	return s
}

// Start runs the accrual job once in the background, registers it on the interval and
// starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.logger.Info("scheduled interest accrual job", "interval", s.interval.String())

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.job.Run()
	}()
	s.cron.Start()
}

// Stop stops scheduling new ticks. The returned context is done once a tick that was
// already running (including the startup run) has finished and the job context has
// been cancelled.
func (s *Scheduler) Stop() context.Context {
	stopped, done := context.WithCancel(context.Background())
	cronDone := s.cron.Stop()
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		s.cancel()
		done()
	}()
	return stopped
}

func (s *Scheduler) runTick() {
	if s.ctx.Err() != nil {
		return
	}

	// One lease per wall-clock slot; the lease outlives the slot so a late replica
	// cannot claim it again.
	slot := time.Now().UTC().Truncate(s.interval)
	acquired, err := s.lock.Acquire(s.ctx, fmt.Sprintf("accrual:%d", slot.Unix()), 2*s.interval)
	if err != nil {
		metrics.AccrualTicks.WithLabelValues("failed").Inc()
		s.logger.Error("failed to acquire accrual tick lock; skipping tick", "error", err)
		return
	}
	if !acquired {
		metrics.AccrualTicks.WithLabelValues("skipped").Inc()
		s.logger.Debug("accrual tick owned by another instance", "slot", slot)
		return
	}

	s.logger.Info("starting interest accrual job")
	updated, err := s.accrual.ProcessOnce(s.ctx)
	if err != nil {
		metrics.AccrualTicks.WithLabelValues("failed").Inc()
		s.logger.Error("interest accrual failed", "error", err)
		return
	}
	if updated == 0 {
		metrics.AccrualTicks.WithLabelValues("noop").Inc()
		s.logger.Info("no active loans to accrue")
		return
	}
	metrics.AccrualTicks.WithLabelValues("applied").Inc()
	s.logger.Info("interest accrual job finished", "loans_updated", updated)
}
