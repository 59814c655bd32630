package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timeline event kinds.
const (
	TimelineStateChanged    = "state_changed"
	TimelineStageFailed     = "stage_failed"
	TimelineStageSkipped    = "stage_skipped"
	TimelineCoalesced       = "coalesced"
	TimelineSuperseded      = "superseded"
	TimelineRunStarted      = "run_started"
	TimelineQualification   = "qualification"
	TimelineMeetingBooked   = "meeting_booked"
	TimelineHandoffQueued   = "handoff_queued"
	TimelineHandoffComplete = "handoff_delivered"
	TimelineArchived        = "archived"
)

// timelineDetailMaxLen caps stored detail text; collaborator errors can be
// arbitrarily long.
const timelineDetailMaxLen = 500

type TimelineEvent struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// AppendTimeline records an audit entry for a lead. Timeline writes are
// best-effort from the orchestrator's perspective; callers log failures and
// move on.
func (r *Repository) AppendTimeline(ctx context.Context, leadID uuid.UUID, kind, detail string) error {
	detail = strings.TrimSpace(detail)
	if len(detail) > timelineDetailMaxLen {
		detail = detail[:timelineDetailMaxLen] + "..."
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_timeline (lead_id, kind, detail)
		VALUES ($1, $2, $3)
	`, leadID, kind, detail)
	return err
}

// ListTimeline returns the audit trail for a lead, oldest first.
func (r *Repository) ListTimeline(ctx context.Context, leadID uuid.UUID) ([]TimelineEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, kind, detail, created_at
		FROM lead_timeline
		WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]TimelineEvent, 0)
	for rows.Next() {
		var item TimelineEvent
		if err := rows.Scan(&item.ID, &item.LeadID, &item.Kind, &item.Detail, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
