// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Intake Domain Events
// =============================================================================

// LeadReceived is published when a webhook submission creates a new lead and
// starts a pipeline run.
type LeadReceived struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	IdentityKey string    `json:"identityKey"`
	Email       string    `json:"email"`
	Company     string    `json:"company"`
	Source      string    `json:"source,omitempty"`
}

func (e LeadReceived) EventName() string { return "leads.lead.received" }

// LeadCoalesced is published when a duplicate submission merges into a lead
// whose pipeline run is still in flight.
type LeadCoalesced struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	IdentityKey string    `json:"identityKey"`
	Superseded  bool      `json:"superseded"`
}

func (e LeadCoalesced) EventName() string { return "leads.lead.coalesced" }

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// LeadStateChanged is published on every pipeline state transition.
type LeadStateChanged struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	OldState string    `json:"oldState"`
	NewState string    `json:"newState"`
	Reason   string    `json:"reason,omitempty"`
}

func (e LeadStateChanged) EventName() string { return "leads.state.changed" }

// LeadQualified is published when scoring qualifies a lead for scheduling.
type LeadQualified struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	Score     int       `json:"score"`
	Rationale string    `json:"rationale"`
}

func (e LeadQualified) EventName() string { return "leads.lead.qualified" }

// LeadDisqualified is published when a deterministic rule or the scoring
// decision rejects a lead.
type LeadDisqualified struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Email   string    `json:"email"`
	Company string    `json:"company"`
	Reason  string    `json:"reason"`
	Score   *int      `json:"score,omitempty"`
}

func (e LeadDisqualified) EventName() string { return "leads.lead.disqualified" }

// LeadErrored is published when a stage exhausts its retry budget and the
// pipeline parks the lead for manual review.
type LeadErrored struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Company      string    `json:"company"`
	Stage        string    `json:"stage"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"errorMessage"`
}

func (e LeadErrored) EventName() string { return "leads.lead.errored" }

// =============================================================================
// Scheduling Domain Events
// =============================================================================

// LeadScheduled is published when a discovery call is booked for a qualified
// lead.
type LeadScheduled struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	Email        string    `json:"email"`
	Company      string    `json:"company"`
	MeetingID    string    `json:"meetingId"`
	MeetingStart time.Time `json:"meetingStart"`
	MeetingEnd   time.Time `json:"meetingEnd"`
}

func (e LeadScheduled) EventName() string { return "leads.meeting.scheduled" }

// LeadSchedulingFollowupRequired is published when no bookable slot exists in
// the lookahead window and a human must schedule manually.
type LeadSchedulingFollowupRequired struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Company string    `json:"company"`
	Reason  string    `json:"reason"`
}

func (e LeadSchedulingFollowupRequired) EventName() string {
	return "leads.scheduling.followup_required"
}

// LeadFollowupReminderDue is published by the worker when a follow-up
// reminder elapses and the lead is still awaiting manual scheduling.
type LeadFollowupReminderDue struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Company string    `json:"company"`
	Reason  string    `json:"reason"`
}

func (e LeadFollowupReminderDue) EventName() string { return "leads.followup.reminder_due" }

// =============================================================================
// Handoff Domain Events
// =============================================================================

// HandoffDelivered is published when a qualified lead reaches the CRM.
type HandoffDelivered struct {
	BaseEvent
	LeadID           uuid.UUID `json:"leadId"`
	HandoffID        uuid.UUID `json:"handoffId"`
	OpportunityID    string    `json:"opportunityId"`
	AlreadyDelivered bool      `json:"alreadyDelivered"`
}

func (e HandoffDelivered) EventName() string { return "handoff.opportunity.delivered" }

// =============================================================================
// Archive Domain Events
// =============================================================================

// LeadArchived is published when the retention sweep archives a terminal lead.
type LeadArchived struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	State     string    `json:"state"`
	ObjectKey string    `json:"objectKey,omitempty"`
}

func (e LeadArchived) EventName() string { return "leads.lead.archived" }
