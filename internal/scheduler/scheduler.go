package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drip/internal/config"
	"drip/internal/constants"
	"drip/internal/enrollment"
	"drip/internal/logger"
	"drip/pkg/metrics"
)

// maxConcurrentAccounts bounds the per-run fan-out across accounts.
const maxConcurrentAccounts = 8

// Scheduler drives the periodic send loop: pick up due enrollments, group
// them per account and hand each group to the processor.
type Scheduler struct {
	enrollments enrollment.Repository
	processor   *Processor
	interval    time.Duration
	batchLimit  int
	log         logger.Logger

	mu      sync.Mutex
	running bool
}

func New(enrollments enrollment.Repository, processor *Processor, cfg config.SchedulerConfig, log logger.Logger) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = constants.DefaultSchedulerInterval
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = constants.SchedulerBatchLimit
	}

	return &Scheduler{
		enrollments: enrollments,
		processor:   processor,
		interval:    interval,
		batchLimit:  batchLimit,
		log:         log,
	}
}

// Run ticks until ctx is cancelled. A run that outlasts the interval
// simply skips the overlapping ticks.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infow("scheduler started", "interval", s.interval.String(), "batch_limit", s.batchLimit)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single scheduling pass. Overlapping calls are no-ops.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("previous scheduler run still in progress, skipping tick")
		metrics.SchedulerRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	status := "ok"

	due, err := s.enrollments.FindDue(ctx, start.UnixMilli(), s.batchLimit)
	if err != nil {
		s.log.Errorw("failed to find due enrollments", "error", err)
		metrics.ObserveSchedulerRun(time.Since(start), "error")
		return
	}

	metrics.SchedulerDueEnrollments.Set(float64(len(due)))
	if len(due) == 0 {
		metrics.ObserveSchedulerRun(time.Since(start), status)
		return
	}

	s.log.Infow("scheduler run started", "due", len(due))

	byAccount := make(map[string][]enrollment.Enrollment)
	for _, e := range due {
		byAccount[e.AccountID] = append(byAccount[e.AccountID], e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentAccounts)
	for accountID, group := range byAccount {
		g.Go(func() error {
			s.processor.ProcessAccount(gctx, accountID, group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		status = "error"
	}

	metrics.ObserveSchedulerRun(time.Since(start), status)
	s.log.Infow("scheduler run finished",
		"due", len(due),
		"accounts", len(byAccount),
		"duration_ms", time.Since(start).Milliseconds())
}
