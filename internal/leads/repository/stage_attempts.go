package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StageAttempt is the per (lead, stage, run epoch) retry record. The attempt
// count bounds retries and makes poison leads inspectable after the fact.
type StageAttempt struct {
	LeadID        uuid.UUID
	Stage         string
	RunEpoch      int
	Attempts      int
	LastError     *string
	LastAttemptAt time.Time
}

// RecordStageAttempt upserts the attempt counter for a stage within a run and
// returns the new count. lastError is nil for a clean attempt.
func (r *Repository) RecordStageAttempt(ctx context.Context, leadID uuid.UUID, stage string, runEpoch int, lastError *string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO lead_stage_attempts (lead_id, stage, run_epoch, attempts, last_error, last_attempt_at)
		VALUES ($1, $2, $3, 1, $4, now())
		ON CONFLICT (lead_id, stage, run_epoch)
		DO UPDATE SET
			attempts = lead_stage_attempts.attempts + 1,
			last_error = $4,
			last_attempt_at = now()
		RETURNING attempts
	`, leadID, stage, runEpoch, lastError).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// ListStageAttempts returns all attempt records for a lead, newest run first.
func (r *Repository) ListStageAttempts(ctx context.Context, leadID uuid.UUID) ([]StageAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, stage, run_epoch, attempts, last_error, last_attempt_at
		FROM lead_stage_attempts
		WHERE lead_id = $1
		ORDER BY run_epoch DESC, last_attempt_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]StageAttempt, 0)
	for rows.Next() {
		var item StageAttempt
		if err := rows.Scan(&item.LeadID, &item.Stage, &item.RunEpoch, &item.Attempts, &item.LastError, &item.LastAttemptAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
