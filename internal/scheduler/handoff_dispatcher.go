package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/handoff"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dispatchRetryDelay spaces out re-claims of a row whose enqueue failed.
const dispatchRetryDelay = 30 * time.Second

// HandoffDispatcher moves due handoff ledger rows onto the task queue. The
// claim marks rows enqueued, so a second dispatcher instance cannot pick
// them up again; rows whose enqueue fails are re-pended with a delay.
type HandoffDispatcher struct {
	client *asynq.Client
	queue  string
	repo   *handoff.Repository
	log    *logger.Logger
}

func NewHandoffDispatcher(cfg config.SchedulerConfig, pool *pgxpool.Pool, log *logger.Logger) (*HandoffDispatcher, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &HandoffDispatcher{
		client: asynq.NewClient(opt),
		queue:  queue,
		repo:   handoff.NewRepository(pool),
		log:    log,
	}, nil
}

func (d *HandoffDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *HandoffDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := d.repo.ClaimPending(ctx, 50)
		if err != nil {
			d.log.Warn("handoff claim failed", "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		for _, rec := range records {
			task, err := NewDealHandoffTask(DealHandoffPayload{
				HandoffID: rec.ID.String(),
				LeadID:    rec.LeadID.String(),
			})
			if err != nil {
				msg := err.Error()
				_ = d.repo.MarkPending(ctx, rec.ID, &msg, time.Now().Add(dispatchRetryDelay))
				continue
			}

			_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue))
			if err != nil {
				msg := err.Error()
				_ = d.repo.MarkPending(ctx, rec.ID, &msg, time.Now().Add(dispatchRetryDelay))
				continue
			}
		}
	}
}
