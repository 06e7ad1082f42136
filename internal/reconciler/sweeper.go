package reconciler

import (
	"context"
	"time"

	"drip/internal/config"
	"drip/internal/constants"
	"drip/internal/logger"
	"drip/pkg/metrics"
	"drip/pkg/retry"
)

// maxSweepRetries parks an event after repeated sweeper failures so a
// poison row cannot occupy the queue forever.
const maxSweepRetries = 10

// Sweeper periodically retries webhook events whose side effects failed
// on first delivery.
type Sweeper struct {
	repo      Repository
	service   *Service
	interval  time.Duration
	batchSize int
	log       logger.Logger
}

func NewSweeper(repo Repository, service *Service, cfg config.WebhookConfig, log logger.Logger) *Sweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = constants.DefaultSweepInterval
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultSweepBatchSize
	}

	return &Sweeper{
		repo:      repo,
		service:   service,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.log.Infow("webhook sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("webhook sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	stuck, err := s.repo.ListUnprocessed(ctx, s.batchSize)
	if err != nil {
		s.log.Errorw("failed to list unprocessed webhook events", "error", err)
		return
	}

	if count, err := s.repo.CountUnprocessed(ctx); err == nil {
		metrics.UnprocessedWebhookEvents.Set(float64(count))
	}

	if len(stuck) == 0 {
		return
	}
	s.log.Infow("retrying stuck webhook events", "count", len(stuck))

	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}

	for i := range stuck {
		record := &stuck[i]

		if record.RetryCount >= maxSweepRetries {
			s.log.Warnw("webhook event exceeded retry budget, parking",
				"webhook_event_id", record.ID,
				"event_type", record.EventType,
				"last_error", record.LastError)
			if err := s.repo.MarkProcessed(ctx, record.ID); err != nil {
				s.log.Errorw("failed to park webhook event", "error", err)
			}
			continue
		}

		err := retry.Retry(ctx, policy, func() error {
			return s.service.Reprocess(ctx, record)
		})
		if err != nil {
			s.log.Warnw("webhook event retry failed",
				"webhook_event_id", record.ID,
				"event_type", record.EventType,
				"error", err)
		}
	}
}
