package domain

import "github.com/google/uuid"

// Disposition tells a submitter what happened to their event.
type Disposition string

const (
	// DispositionAccepted: a new lead was created or a fresh run started.
	DispositionAccepted Disposition = "accepted"
	// DispositionCoalesced: the payload merged into a lead whose run is
	// still in flight; that run will restart from the merged payload.
	DispositionCoalesced Disposition = "coalesced"
	// DispositionUnchanged: the lead already has a meeting booked, so the
	// duplicate is acknowledged without any new work.
	DispositionUnchanged Disposition = "unchanged"
)

// SubmitResult is the synchronous answer to a webhook submission; the
// pipeline itself runs in the background.
type SubmitResult struct {
	LeadID      uuid.UUID   `json:"leadId"`
	Disposition Disposition `json:"status"`
}
