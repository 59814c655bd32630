package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/archive"
	"leadflow_backend/internal/crm"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/handoff"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	leads    *repository.Repository
	handoffs *handoff.Repository
	crm      *crm.Client
	archiver *archive.Service
	bus      events.Bus
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, crmClient *crm.Client, archiver *archive.Service, bus events.Bus, log *logger.Logger) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		leads:    repository.New(pool),
		handoffs: handoff.NewRepository(pool),
		crm:      crmClient,
		archiver: archiver,
		bus:      bus,
		log:      log,
	}

	mux.HandleFunc(TaskDealHandoff, w.handleDealHandoff)
	mux.HandleFunc(TaskLeadFollowup, w.handleLeadFollowup)
	mux.HandleFunc(TaskArchiveSweep, w.handleArchiveSweep)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleDealHandoff delivers one ledger row to the CRM. The provider dedupes
// by the row's idempotency key, so a crash between the call and the status
// update cannot create a second opportunity.
func (w *Worker) handleDealHandoff(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDealHandoffPayload(task)
	if err != nil {
		return err
	}

	handoffID, err := uuid.Parse(payload.HandoffID)
	if err != nil {
		return err
	}

	rec, err := w.handoffs.GetByID(ctx, handoffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	if rec.Status == handoff.StatusSucceeded {
		return nil
	}

	if w.crm == nil || !w.crm.Enabled() {
		// Parked, not lost: flipping the row back to pending after
		// configuring the CRM resumes delivery.
		_ = w.handoffs.MarkFailed(ctx, rec.ID, "crm not configured, delivery skipped")
		return nil
	}

	if err := w.handoffs.MarkProcessing(ctx, rec.ID); err != nil {
		return err
	}

	var opp crm.Opportunity
	if err := json.Unmarshal(rec.Payload, &opp); err != nil {
		_ = w.handoffs.MarkFailed(ctx, rec.ID, fmt.Sprintf("malformed payload: %v", err))
		return nil
	}

	result, err := w.crm.CreateOpportunity(ctx, opp, rec.IdempotencyKey)
	if err != nil {
		msg := err.Error()
		if apperr.Retryable(err) {
			// Re-pend for the dispatcher; returning the error keeps the
			// asynq retry as a second net.
			_ = w.handoffs.MarkPending(ctx, rec.ID, &msg, time.Now().Add(dispatchRetryDelay))
			return err
		}
		_ = w.handoffs.MarkFailed(ctx, rec.ID, msg)
		return nil
	}

	if err := w.handoffs.MarkSucceeded(ctx, rec.ID); err != nil {
		return err
	}

	detail := fmt.Sprintf("opportunity %s delivered to CRM", result.OpportunityID)
	if result.AlreadyDelivered {
		detail = fmt.Sprintf("opportunity %s already delivered, confirmed by idempotency key", result.OpportunityID)
	}
	_ = w.leads.AppendTimeline(ctx, rec.LeadID, repository.TimelineHandoffComplete, detail)

	if w.bus != nil {
		w.bus.Publish(ctx, events.HandoffDelivered{
			BaseEvent:        events.NewBaseEvent(),
			LeadID:           rec.LeadID,
			HandoffID:        rec.ID,
			OpportunityID:    result.OpportunityID,
			AlreadyDelivered: result.AlreadyDelivered,
		})
	}

	return nil
}

// handleLeadFollowup fires when a follow-up reminder elapses. Leads that
// moved on since the reminder was armed are skipped silently.
func (w *Worker) handleLeadFollowup(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadFollowupPayload(task)
	if err != nil {
		return err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}

	lead, err := w.leads.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if lead.State != domain.StateNeedsFollowup {
		return nil
	}

	if w.bus == nil {
		return nil
	}

	w.bus.Publish(ctx, events.LeadFollowupReminderDue{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Name:      getOptionalString(lead.Name),
		Email:     getOptionalString(lead.Email),
		Company:   getOptionalString(lead.Company),
		Reason:    getOptionalString(lead.StateReason),
	})

	return nil
}

func (w *Worker) handleArchiveSweep(ctx context.Context, task *asynq.Task) error {
	if w.archiver == nil {
		return nil
	}

	_, err := w.archiver.Sweep(ctx)
	return err
}

func getOptionalString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
