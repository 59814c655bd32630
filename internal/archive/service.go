// Package archive retires terminal leads after a retention window. A sweep
// stamps archived_at and, when object storage is configured, writes a full
// JSON snapshot first. Archived leads stay readable; nothing is deleted.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const defaultBatchSize = 50

// Ledger is the slice of the leads repository the sweep needs.
type Ledger interface {
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]repository.Lead, error)
	GetForArchive(ctx context.Context, id uuid.UUID) (repository.Lead, []repository.TimelineEvent, error)
	MarkArchived(ctx context.Context, id uuid.UUID) error
	AppendTimeline(ctx context.Context, leadID uuid.UUID, kind, detail string) error
}

// Snapshotter persists one snapshot document per archived lead.
type Snapshotter interface {
	Upload(ctx context.Context, key string, doc any) error
}

type Service struct {
	ledger   Ledger
	exporter Snapshotter
	bus      events.Bus
	log      *logger.Logger
	after    time.Duration
	batch    int
	now      func() time.Time
}

// New builds the sweep service. exporter may be nil, in which case leads are
// flagged without a snapshot export.
func New(ledger Ledger, exporter Snapshotter, bus events.Bus, cfg config.ArchiveConfig, log *logger.Logger) *Service {
	after := cfg.GetArchiveAfter()
	if after <= 0 {
		after = 72 * time.Hour
	}
	return &Service{
		ledger:   ledger,
		exporter: exporter,
		bus:      bus,
		log:      log,
		after:    after,
		batch:    defaultBatchSize,
		now:      time.Now,
	}
}

// snapshot is the exported document. It carries everything needed to answer
// questions about a lead after the fact.
type snapshot struct {
	Lead       leadDoc       `json:"lead"`
	Timeline   []timelineDoc `json:"timeline"`
	ArchivedAt time.Time     `json:"archivedAt"`
}

type leadDoc struct {
	ID           uuid.UUID      `json:"id"`
	IdentityKey  string         `json:"identityKey"`
	State        string         `json:"state"`
	StateReason  *string        `json:"stateReason,omitempty"`
	RunEpoch     int            `json:"runEpoch"`
	Name         *string        `json:"name,omitempty"`
	Email        *string        `json:"email,omitempty"`
	Company      *string        `json:"company,omitempty"`
	Domain       *string        `json:"domain,omitempty"`
	Title        *string        `json:"title,omitempty"`
	Phone        *string        `json:"phone,omitempty"`
	Revenue      *float64       `json:"revenue,omitempty"`
	Headcount    *int           `json:"headcount,omitempty"`
	Industry     *string        `json:"industry,omitempty"`
	FundingStage *string        `json:"fundingStage,omitempty"`
	Score        *int           `json:"score,omitempty"`
	Rationale    *string        `json:"rationale,omitempty"`
	Decision     string         `json:"decision"`
	MeetingID    *string        `json:"meetingId,omitempty"`
	MeetingStart *time.Time     `json:"meetingStart,omitempty"`
	MeetingEnd   *time.Time     `json:"meetingEnd,omitempty"`
	RawPayload   map[string]any `json:"rawPayload,omitempty"`
	ReceivedAt   time.Time      `json:"receivedAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type timelineDoc struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sweep archives one batch of terminal leads past the retention window and
// returns how many were archived. Per-lead failures are logged and skipped;
// the lead stays eligible for the next pass.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.after)

	leads, err := s.ledger.ListArchivable(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list archivable leads: %w", err)
	}

	archived := 0
	for _, lead := range leads {
		key, err := s.archiveOne(ctx, lead.ID)
		if err != nil {
			s.log.Warn("archive sweep: lead skipped", "leadId", lead.ID, "error", err)
			continue
		}

		archived++
		s.bus.Publish(ctx, events.LeadArchived{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			State:     lead.State,
			ObjectKey: key,
		})
	}

	if archived > 0 {
		s.log.Info("archive sweep finished", "archived", archived, "cutoff", cutoff)
	}
	return archived, nil
}

// archiveOne exports the snapshot (when configured) before flagging. An
// export failure leaves the lead unflagged so the next sweep retries it.
func (s *Service) archiveOne(ctx context.Context, id uuid.UUID) (string, error) {
	var objectKey string

	if s.exporter != nil {
		lead, timeline, err := s.ledger.GetForArchive(ctx, id)
		if err != nil {
			return "", err
		}

		objectKey = fmt.Sprintf("leads/%s.json", id)
		if err := s.exporter.Upload(ctx, objectKey, buildSnapshot(lead, timeline, s.now().UTC())); err != nil {
			return "", err
		}
	}

	if err := s.ledger.MarkArchived(ctx, id); err != nil {
		return "", err
	}

	detail := "retention sweep"
	if objectKey != "" {
		detail = fmt.Sprintf("retention sweep, snapshot %s", objectKey)
	}
	_ = s.ledger.AppendTimeline(ctx, id, repository.TimelineArchived, detail)

	return objectKey, nil
}

func buildSnapshot(lead repository.Lead, timeline []repository.TimelineEvent, archivedAt time.Time) snapshot {
	doc := snapshot{
		Lead: leadDoc{
			ID:           lead.ID,
			IdentityKey:  lead.IdentityKey,
			State:        lead.State,
			StateReason:  lead.StateReason,
			RunEpoch:     lead.RunEpoch,
			Name:         lead.Name,
			Email:        lead.Email,
			Company:      lead.Company,
			Domain:       lead.Domain,
			Title:        lead.Title,
			Phone:        lead.Phone,
			Revenue:      lead.Revenue,
			Headcount:    lead.Headcount,
			Industry:     lead.Industry,
			FundingStage: lead.FundingStage,
			Score:        lead.Score,
			Rationale:    lead.Rationale,
			Decision:     lead.Decision,
			MeetingID:    lead.MeetingID,
			MeetingStart: lead.MeetingStart,
			MeetingEnd:   lead.MeetingEnd,
			RawPayload:   lead.RawPayload,
			ReceivedAt:   lead.ReceivedAt,
			UpdatedAt:    lead.UpdatedAt,
		},
		ArchivedAt: archivedAt,
	}

	doc.Timeline = make([]timelineDoc, 0, len(timeline))
	for _, e := range timeline {
		doc.Timeline = append(doc.Timeline, timelineDoc{
			Kind:      e.Kind,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return doc
}
