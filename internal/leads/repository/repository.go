// Package repository persists leads, stage attempts and the timeline. The
// orchestrator is the only writer of lead state; run-epoch checks on every
// mutation keep a superseded run from committing over a fresh one.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/leads/domain"
)

var (
	ErrNotFound = errors.New("lead not found")
	// ErrStaleRun means a mutation found the lead in a different state or run
	// epoch than expected. The caller's run was superseded or raced another
	// writer and must not commit.
	ErrStaleRun = errors.New("lead run is stale")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID          uuid.UUID
	IdentityKey string
	RawPayload  map[string]any

	// Canonical fields, set by normalization.
	Name    *string
	Email   *string
	Company *string
	Domain  *string
	Title   *string
	Phone   *string

	// Enrichment attributes. Merge-only: set or overwritten by a successful
	// lookup, never rolled back.
	Revenue      *float64
	Headcount    *int
	Industry     *string
	FundingStage *string

	// Qualification result, immutable per run.
	Score     *int
	Rationale *string
	Decision  string

	// Scheduling result.
	MeetingID    *string
	MeetingStart *time.Time
	MeetingEnd   *time.Time

	State       string
	StateReason *string
	RunEpoch    int

	ReceivedAt time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

const leadSelectCols = `
	id, identity_key, raw_payload, name, email, company, domain, title, phone,
	revenue, headcount, industry, funding_stage, score, rationale, decision,
	meeting_id, meeting_start, meeting_end, state, state_reason, run_epoch,
	received_at, updated_at, archived_at`

// leadRowScanner is satisfied by pgx.Rows and pgx.Row so scanLead can be
// shared between single-row and multi-row queries.
type leadRowScanner interface {
	Scan(dest ...any) error
}

// scanLead populates a Lead from a standard SELECT row. Column order must
// match leadSelectCols.
func scanLead(s leadRowScanner) (Lead, error) {
	var lead Lead
	var rawPayload []byte
	if err := s.Scan(
		&lead.ID, &lead.IdentityKey, &rawPayload,
		&lead.Name, &lead.Email, &lead.Company, &lead.Domain, &lead.Title, &lead.Phone,
		&lead.Revenue, &lead.Headcount, &lead.Industry, &lead.FundingStage,
		&lead.Score, &lead.Rationale, &lead.Decision,
		&lead.MeetingID, &lead.MeetingStart, &lead.MeetingEnd,
		&lead.State, &lead.StateReason, &lead.RunEpoch,
		&lead.ReceivedAt, &lead.UpdatedAt, &lead.ArchivedAt,
	); err != nil {
		return Lead{}, err
	}
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &lead.RawPayload)
	}
	return lead, nil
}

type CreateLeadParams struct {
	IdentityKey string
	RawPayload  map[string]any
}

// Create inserts a new lead in RECEIVED at run epoch 1. The unique index on
// identity_key is the backstop against duplicate creation when two submits
// race; callers should re-read by identity key on a unique violation.
func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	payloadJSON, err := json.Marshal(params.RawPayload)
	if err != nil {
		return Lead{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (identity_key, raw_payload, state, decision, run_epoch)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING`+leadSelectCols+`
	`, params.IdentityKey, payloadJSON, domain.StateReceived, domain.DecisionPending)

	return scanLead(row)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+leadSelectCols+`
		FROM leads WHERE id = $1
	`, id)

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (r *Repository) GetByIdentityKey(ctx context.Context, identityKey string) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+leadSelectCols+`
		FROM leads WHERE identity_key = $1
	`, identityKey)

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

type ListLeadsParams struct {
	State string
	Limit int
}

// List returns leads newest first, optionally filtered by state.
func (r *Repository) List(ctx context.Context, params ListLeadsParams) ([]Lead, error) {
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if params.State != "" {
		rows, err = r.pool.Query(ctx, `
			SELECT`+leadSelectCols+`
			FROM leads WHERE state = $1
			ORDER BY received_at DESC LIMIT $2
		`, params.State, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT`+leadSelectCols+`
			FROM leads
			ORDER BY received_at DESC LIMIT $1
		`, limit)
	}
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

// ListInFlight returns leads whose state says the orchestrator still owes
// them work, oldest first. Called on startup to resume runs a crashed
// process abandoned.
func (r *Repository) ListInFlight(ctx context.Context) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+leadSelectCols+`
		FROM leads WHERE state = ANY($1)
		ORDER BY received_at ASC
	`, domain.InProgressStates())
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

// MergePayload merges a duplicate submission into the stored raw payload.
// New keys win over old ones; keys absent from the new event are preserved.
func (r *Repository) MergePayload(ctx context.Context, id uuid.UUID, payload map[string]any) (Lead, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Lead{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET raw_payload = raw_payload || $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING`+leadSelectCols+`
	`, id, payloadJSON)

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// StartFreshRun advances the run epoch and resets the lead to RECEIVED with a
// clean qualification and scheduling slate. Enrichment attributes survive;
// they are merge-only across runs. Refuses leads whose state cannot restart.
func (r *Repository) StartFreshRun(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET run_epoch = run_epoch + 1,
			state = $2,
			state_reason = NULL,
			score = NULL,
			rationale = NULL,
			decision = $3,
			meeting_id = NULL,
			meeting_start = NULL,
			meeting_end = NULL,
			updated_at = now()
		WHERE id = $1 AND state = ANY($4)
		RETURNING`+leadSelectCols+`
	`, id, domain.StateReceived, domain.DecisionPending,
		[]string{domain.StateDisqualified, domain.StateErrored, domain.StateNeedsFollowup, domain.StateStale})

	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrStaleRun
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// UpdateState transitions a lead from one state to another within a run. The
// WHERE clause is the database backstop for the in-process serialization: it
// refuses to commit when the state or run epoch moved underneath the caller.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, runEpoch int, from, to string, reason *string) error {
	if !domain.CanTransition(from, to) {
		return ErrStaleRun
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET state = $4, state_reason = $5, updated_at = now()
		WHERE id = $1 AND run_epoch = $2 AND state = $3
	`, id, runEpoch, from, to, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRun
	}
	return nil
}

type CanonicalFields struct {
	Name    string
	Email   string
	Company string
	Domain  string
	Title   *string
	Phone   *string
}

// SetCanonicalFields stores the normalizer's output.
func (r *Repository) SetCanonicalFields(ctx context.Context, id uuid.UUID, runEpoch int, fields CanonicalFields) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET name = $3, email = $4, company = $5, domain = $6, title = $7, phone = $8, updated_at = now()
		WHERE id = $1 AND run_epoch = $2
	`, id, runEpoch, fields.Name, fields.Email, fields.Company, fields.Domain, fields.Title, fields.Phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRun
	}
	return nil
}

type EnrichmentFields struct {
	Revenue      *float64
	Headcount    *int
	Industry     *string
	FundingStage *string
}

// MergeEnrichment merges enrichment attributes into the lead. COALESCE keeps
// every previously stored value that the new lookup did not return, so a
// later partial success never discards an earlier one.
func (r *Repository) MergeEnrichment(ctx context.Context, id uuid.UUID, runEpoch int, fields EnrichmentFields) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET revenue = COALESCE($3, revenue),
			headcount = COALESCE($4, headcount),
			industry = COALESCE($5, industry),
			funding_stage = COALESCE($6, funding_stage),
			updated_at = now()
		WHERE id = $1 AND run_epoch = $2
	`, id, runEpoch, fields.Revenue, fields.Headcount, fields.Industry, fields.FundingStage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRun
	}
	return nil
}

// SetQualification records the scoring outcome. The guard on decision keeps
// the result immutable for the run; re-scoring requires a fresh run epoch.
func (r *Repository) SetQualification(ctx context.Context, id uuid.UUID, runEpoch int, score int, rationale, decision string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET score = $3, rationale = $4, decision = $5, updated_at = now()
		WHERE id = $1 AND run_epoch = $2 AND decision = $6
	`, id, runEpoch, score, rationale, decision, domain.DecisionPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRun
	}
	return nil
}

// SetScheduling records the booked meeting.
func (r *Repository) SetScheduling(ctx context.Context, id uuid.UUID, runEpoch int, meetingID string, start, end time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET meeting_id = $3, meeting_start = $4, meeting_end = $5, updated_at = now()
		WHERE id = $1 AND run_epoch = $2
	`, id, runEpoch, meetingID, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRun
	}
	return nil
}
