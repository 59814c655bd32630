package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Pipeline stages. Stage names key retry counters and idempotency tokens and
// appear in timeline entries. StageHandoff exists only for token derivation;
// delivery runs outside the pipeline.
const (
	StageNormalize = "normalize"
	StageEnrich    = "enrich"
	StageScore     = "score"
	StageSchedule  = "schedule"
	StageHandoff   = "handoff"
)

// Qualification decisions.
const (
	DecisionPending      = "pending"
	DecisionQualified    = "qualified"
	DecisionDisqualified = "disqualified"
)

// IdempotencyToken builds the deterministic token attached to side-effecting
// collaborator calls. It is stable across in-run retries and crash re-entry
// for the same stage, and changes only when a fresh run starts under a new
// run epoch, so a retried call can never duplicate its effect.
func IdempotencyToken(leadID uuid.UUID, stage string, runEpoch int) string {
	return fmt.Sprintf("lead.%s:%s:%d", leadID, stage, runEpoch)
}
