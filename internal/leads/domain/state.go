// Package domain provides core business rules for the leads bounded context.
package domain

// Pipeline states. A lead moves through the in-progress states strictly in
// order; the orchestrator owns every transition.
const (
	StateReceived      = "RECEIVED"
	StateNormalizing   = "NORMALIZING"
	StateNormalized    = "NORMALIZED"
	StateEnriching     = "ENRICHING"
	StateEnriched      = "ENRICHED"
	StateScoring       = "SCORING"
	StateScored        = "SCORED"
	StateScheduling    = "SCHEDULING"
	StateScheduled     = "SCHEDULED"
	StateDone          = "DONE"
	StateDisqualified  = "DISQUALIFIED"
	StateErrored       = "ERRORED"
	StateNeedsFollowup = "NEEDS_FOLLOWUP"
	StateStale         = "STALE"
)

// terminalStates are states where the current pipeline run has ended. STALE
// is terminal for the run only; the lead record continues under a fresh run
// epoch started from the merged payload.
var terminalStates = map[string]bool{
	StateDone:          true,
	StateDisqualified:  true,
	StateErrored:       true,
	StateNeedsFollowup: true,
	StateStale:         true,
	StateScheduled:     true,
}

// rerunnableStates are terminal states from which a new submission or a
// manual retry may start a fresh run. SCHEDULED and DONE are excluded so a
// resubmit can never cause a second booking.
var rerunnableStates = map[string]bool{
	StateDisqualified:  true,
	StateErrored:       true,
	StateNeedsFollowup: true,
	StateStale:         true,
}

var knownStates = map[string]struct{}{
	StateReceived:      {},
	StateNormalizing:   {},
	StateNormalized:    {},
	StateEnriching:     {},
	StateEnriched:      {},
	StateScoring:       {},
	StateScored:        {},
	StateScheduling:    {},
	StateScheduled:     {},
	StateDone:          {},
	StateDisqualified:  {},
	StateErrored:       {},
	StateNeedsFollowup: {},
	StateStale:         {},
}

// validTransitions maps each state to the states it may move to. ERRORED and
// STALE are omitted here and handled by CanTransition: both are reachable
// from any in-progress state.
var validTransitions = map[string][]string{
	StateReceived:    {StateNormalizing},
	StateNormalizing: {StateNormalized},
	StateNormalized:  {StateEnriching},
	StateEnriching:   {StateEnriched},
	StateEnriched:    {StateScoring},
	StateScoring:     {StateScored},
	StateScored:      {StateScheduling, StateDisqualified, StateNeedsFollowup},
	StateScheduling:  {StateScheduled, StateNeedsFollowup},
	StateScheduled:   {StateDone},

	// Fresh runs restart rerunnable terminal leads from RECEIVED.
	StateDisqualified:  {StateReceived},
	StateErrored:       {StateReceived},
	StateNeedsFollowup: {StateReceived},
	StateStale:         {StateReceived},
}

// IsTerminal returns true when the state ends the current pipeline run.
func IsTerminal(state string) bool {
	return terminalStates[state]
}

// IsRerunnable returns true when a terminal lead may start a fresh run.
func IsRerunnable(state string) bool {
	return rerunnableStates[state]
}

// IsInProgress returns true for states belonging to an active pipeline run.
func IsInProgress(state string) bool {
	_, known := knownStates[state]
	return known && !terminalStates[state]
}

// InProgressStates returns every state in which the orchestrator still has
// work to do, in pipeline order. SCHEDULED is included: the handoff record
// and the move to DONE are still pending there. Used on startup to find leads
// a crashed process abandoned.
func InProgressStates() []string {
	return []string{
		StateReceived,
		StateNormalizing,
		StateNormalized,
		StateEnriching,
		StateEnriched,
		StateScoring,
		StateScored,
		StateScheduling,
		StateScheduled,
	}
}

// IsKnownState returns true if the state is part of the machine.
func IsKnownState(state string) bool {
	_, ok := knownStates[state]
	return ok
}

// CanTransition reports whether moving from one state to another is legal.
// Any in-progress state may move to ERRORED (retry exhaustion) or STALE
// (superseded mid-run).
func CanTransition(from, to string) bool {
	if !IsKnownState(from) || !IsKnownState(to) {
		return false
	}
	if (to == StateErrored || to == StateStale) && IsInProgress(from) {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
