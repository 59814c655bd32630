package transport

import (
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/repository"
)

// ListLeadsRequest filters the lead listing.
type ListLeadsRequest struct {
	State string `form:"state" validate:"omitempty,oneof=RECEIVED NORMALIZING NORMALIZED ENRICHING ENRICHED SCORING SCORED SCHEDULING SCHEDULED DONE DISQUALIFIED NEEDS_FOLLOWUP ERRORED STALE"`
	Limit int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

// Response DTOs
type EnrichmentResponse struct {
	Revenue      *float64 `json:"revenue,omitempty"`
	Headcount    *int     `json:"headcount,omitempty"`
	Industry     *string  `json:"industry,omitempty"`
	FundingStage *string  `json:"fundingStage,omitempty"`
}

type QualificationResponse struct {
	Score     *int    `json:"score,omitempty"`
	Rationale *string `json:"rationale,omitempty"`
	Decision  string  `json:"decision"`
}

type MeetingResponse struct {
	ID    *string    `json:"id,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type LeadResponse struct {
	ID            uuid.UUID             `json:"id"`
	State         string                `json:"state"`
	StateReason   *string               `json:"stateReason,omitempty"`
	RunEpoch      int                   `json:"runEpoch"`
	Name          *string               `json:"name,omitempty"`
	Email         *string               `json:"email,omitempty"`
	Company       *string               `json:"company,omitempty"`
	Domain        *string               `json:"domain,omitempty"`
	Title         *string               `json:"title,omitempty"`
	Phone         *string               `json:"phone,omitempty"`
	Enrichment    EnrichmentResponse    `json:"enrichment"`
	Qualification QualificationResponse `json:"qualification"`
	Meeting       MeetingResponse       `json:"meeting"`
	ReceivedAt    time.Time             `json:"receivedAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	ArchivedAt    *time.Time            `json:"archivedAt,omitempty"`
}

type StageAttemptResponse struct {
	Stage         string    `json:"stage"`
	RunEpoch      int       `json:"runEpoch"`
	Attempts      int       `json:"attempts"`
	LastError     *string   `json:"lastError,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
}

type TimelineEventResponse struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeadDetailResponse is the full inspection view: the lead plus its retry
// counters and audit trail.
type LeadDetailResponse struct {
	Lead          LeadResponse            `json:"lead"`
	StageAttempts []StageAttemptResponse  `json:"stageAttempts"`
	Timeline      []TimelineEventResponse `json:"timeline"`
	RawPayload    map[string]any          `json:"rawPayload,omitempty"`
}

type LeadListResponse struct {
	Items []LeadResponse `json:"items"`
	Total int            `json:"total"`
}

// ToLeadResponse converts a repository Lead to a transport LeadResponse.
func ToLeadResponse(lead repository.Lead) LeadResponse {
	return LeadResponse{
		ID:          lead.ID,
		State:       lead.State,
		StateReason: lead.StateReason,
		RunEpoch:    lead.RunEpoch,
		Name:        lead.Name,
		Email:       lead.Email,
		Company:     lead.Company,
		Domain:      lead.Domain,
		Title:       lead.Title,
		Phone:       lead.Phone,
		Enrichment: EnrichmentResponse{
			Revenue:      lead.Revenue,
			Headcount:    lead.Headcount,
			Industry:     lead.Industry,
			FundingStage: lead.FundingStage,
		},
		Qualification: QualificationResponse{
			Score:     lead.Score,
			Rationale: lead.Rationale,
			Decision:  lead.Decision,
		},
		Meeting: MeetingResponse{
			ID:    lead.MeetingID,
			Start: lead.MeetingStart,
			End:   lead.MeetingEnd,
		},
		ReceivedAt: lead.ReceivedAt,
		UpdatedAt:  lead.UpdatedAt,
		ArchivedAt: lead.ArchivedAt,
	}
}

// ToLeadDetailResponse assembles the detail view from the lead and its
// associated records.
func ToLeadDetailResponse(lead repository.Lead, attempts []repository.StageAttempt, timeline []repository.TimelineEvent) LeadDetailResponse {
	attemptItems := make([]StageAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		attemptItems = append(attemptItems, StageAttemptResponse{
			Stage:         a.Stage,
			RunEpoch:      a.RunEpoch,
			Attempts:      a.Attempts,
			LastError:     a.LastError,
			LastAttemptAt: a.LastAttemptAt,
		})
	}

	timelineItems := make([]TimelineEventResponse, 0, len(timeline))
	for _, e := range timeline {
		timelineItems = append(timelineItems, TimelineEventResponse{
			Kind:      e.Kind,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}

	return LeadDetailResponse{
		Lead:          ToLeadResponse(lead),
		StageAttempts: attemptItems,
		Timeline:      timelineItems,
		RawPayload:    lead.RawPayload,
	}
}

// ToLeadListResponse converts a slice of leads to the list envelope.
func ToLeadListResponse(leads []repository.Lead) LeadListResponse {
	items := make([]LeadResponse, 0, len(leads))
	for _, lead := range leads {
		items = append(items, ToLeadResponse(lead))
	}
	return LeadListResponse{Items: items, Total: len(items)}
}
