package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
)

// ListArchivable returns terminal, not-yet-archived leads whose last update
// is older than the cutoff. STALE is excluded: a stale lead is waiting on its
// fresh run, not retired.
func (r *Repository) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT`+leadSelectCols+`
		FROM leads
		WHERE archived_at IS NULL
			AND updated_at < $1
			AND state = ANY($2)
		ORDER BY updated_at ASC
		LIMIT $3
	`, cutoff, []string{domain.StateDone, domain.StateDisqualified, domain.StateErrored, domain.StateNeedsFollowup}, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, lead)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// MarkArchived stamps archived_at. Archived leads stay readable; nothing is
// ever deleted.
func (r *Repository) MarkArchived(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET archived_at = now(), updated_at = now()
		WHERE id = $1 AND archived_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetForArchive loads a lead with its timeline for the snapshot export.
func (r *Repository) GetForArchive(ctx context.Context, id uuid.UUID) (Lead, []TimelineEvent, error) {
	lead, err := r.GetByID(ctx, id)
	if err != nil {
		return Lead{}, nil, err
	}

	timeline, err := r.ListTimeline(ctx, id)
	if err != nil {
		return Lead{}, nil, err
	}
	return lead, timeline, nil
}
