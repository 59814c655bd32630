// Package handoff delivers scheduled leads to the CRM with at-least-once
// semantics. The orchestrator inserts a ledger row when a meeting is booked;
// the dispatcher claims pending rows and enqueues worker tasks; the worker
// calls the CRM and settles the row. Handoff failure never touches the
// lead's own state.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

type Record struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	MeetingID      string
	Payload        json.RawMessage
	IdempotencyKey string
	Status         Status
	Attempts       int
	LastError      *string
	RunAt          time.Time
}

type InsertParams struct {
	LeadID         uuid.UUID
	MeetingID      string
	Payload        any
	IdempotencyKey string
	RunAt          time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records a pending handoff. Rows are keyed by the run's idempotency
// token, so crash re-entry lands on the existing row instead of queueing a
// duplicate delivery.
func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if p.LeadID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("leadId is required")
	}
	if p.IdempotencyKey == "" {
		return uuid.Nil, fmt.Errorf("idempotency key is required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO lead_handoffs (lead_id, meeting_id, payload, idempotency_key, run_at, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (idempotency_key) DO UPDATE SET updated_at = now()
		RETURNING id
	`, p.LeadID, p.MeetingID, payloadBytes, p.IdempotencyKey, p.RunAt).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, lead_id, meeting_id, payload, idempotency_key, status, attempts, last_error, run_at
		FROM lead_handoffs
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.LeadID, &rec.MeetingID, &rec.Payload, &rec.IdempotencyKey, &status, &rec.Attempts, &rec.LastError, &rec.RunAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// ClaimPending atomically moves due pending rows to enqueued and returns
// them. SKIP LOCKED keeps concurrent dispatchers from claiming the same row.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM lead_handoffs
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE lead_handoffs h
	SET status = 'enqueued', updated_at = now()
	FROM cte
	WHERE h.id = cte.id
	RETURNING h.id, h.lead_id, h.meeting_id, h.payload, h.idempotency_key, h.status, h.attempts, h.last_error, h.run_at`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.LeadID, &rec.MeetingID, &rec.Payload, &rec.IdempotencyKey, &status, &rec.Attempts, &rec.LastError, &rec.RunAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending re-pends a row after a transient delivery failure. runAt moves
// into the future to space out the next claim.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string, runAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_handoffs
		SET status = 'pending', last_error = $2, run_at = $3, updated_at = now()
		WHERE id = $1
	`, id, lastError, runAt)
	return err
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_handoffs
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_handoffs
		SET status = 'succeeded', last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_handoffs
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	return err
}
