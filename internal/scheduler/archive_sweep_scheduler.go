package scheduler

import (
	"context"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const defaultArchiveSweepInterval = time.Hour

// ArchiveSweepScheduler periodically queues an archival pass. The sweep
// itself runs on the worker; duplicate passes are harmless because archiving
// is idempotent.
type ArchiveSweepScheduler struct {
	client   *Client
	log      *logger.Logger
	interval time.Duration
}

func NewArchiveSweepScheduler(client *Client, cfg config.ArchiveConfig, log *logger.Logger) *ArchiveSweepScheduler {
	interval := cfg.GetArchiveSweepInterval()
	if interval <= 0 {
		interval = defaultArchiveSweepInterval
	}

	return &ArchiveSweepScheduler{
		client:   client,
		log:      log,
		interval: interval,
	}
}

func (s *ArchiveSweepScheduler) Run(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}

	s.enqueue(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(ctx)
		}
	}
}

func (s *ArchiveSweepScheduler) enqueue(ctx context.Context) {
	if err := s.client.EnqueueArchiveSweep(ctx); err != nil {
		s.log.Warn("archive sweep enqueue failed", "error", err)
	}
}
