package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces
// =====================================

// LeadReader provides read access to lead records.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (Lead, error)
	GetByIdentityKey(ctx context.Context, identityKey string) (Lead, error)
	List(ctx context.Context, params ListLeadsParams) ([]Lead, error)
	ListInFlight(ctx context.Context) ([]Lead, error)
}

// LeadWriter provides the pipeline's mutations. Every mutation carries the
// caller's run epoch; ErrStaleRun from any of them means the run was
// superseded and must stop committing.
type LeadWriter interface {
	Create(ctx context.Context, params CreateLeadParams) (Lead, error)
	MergePayload(ctx context.Context, id uuid.UUID, payload map[string]any) (Lead, error)
	StartFreshRun(ctx context.Context, id uuid.UUID) (Lead, error)
	UpdateState(ctx context.Context, id uuid.UUID, runEpoch int, from, to string, reason *string) error
	SetCanonicalFields(ctx context.Context, id uuid.UUID, runEpoch int, fields CanonicalFields) error
	MergeEnrichment(ctx context.Context, id uuid.UUID, runEpoch int, fields EnrichmentFields) error
	SetQualification(ctx context.Context, id uuid.UUID, runEpoch int, score int, rationale, decision string) error
	SetScheduling(ctx context.Context, id uuid.UUID, runEpoch int, meetingID string, start, end time.Time) error
}

// AttemptTracker records per-stage attempt counts for retry accounting.
type AttemptTracker interface {
	RecordStageAttempt(ctx context.Context, leadID uuid.UUID, stage string, runEpoch int, lastError *string) (int, error)
	ListStageAttempts(ctx context.Context, leadID uuid.UUID) ([]StageAttempt, error)
}

// TimelineRecorder appends and reads the per-lead audit trail.
type TimelineRecorder interface {
	AppendTimeline(ctx context.Context, leadID uuid.UUID, kind, detail string) error
	ListTimeline(ctx context.Context, leadID uuid.UUID) ([]TimelineEvent, error)
}

// ArchiveStore serves the terminal-lead archival sweep.
type ArchiveStore interface {
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]Lead, error)
	MarkArchived(ctx context.Context, id uuid.UUID) error
	GetForArchive(ctx context.Context, id uuid.UUID) (Lead, []TimelineEvent, error)
}

// =====================================
// Composite Interface
// =====================================

// LeadsRepository composes every persistence capability the leads module
// uses. Consumers that need less should depend on the focused interfaces.
type LeadsRepository interface {
	LeadReader
	LeadWriter
	AttemptTracker
	TimelineRecorder
	ArchiveStore
}

// Ensure Repository implements LeadsRepository
var _ LeadsRepository = (*Repository)(nil)
