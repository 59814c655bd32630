package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDealHandoff = "deals.handoff"

const TaskLeadFollowup = "leads.followup"

const TaskArchiveSweep = "leads.archive_sweep"

type DealHandoffPayload struct {
	HandoffID string `json:"handoffId"`
	LeadID    string `json:"leadId"`
}

type LeadFollowupPayload struct {
	LeadID string `json:"leadId"`
}

func NewDealHandoffTask(payload DealHandoffPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDealHandoff, data), nil
}

func ParseDealHandoffPayload(task *asynq.Task) (DealHandoffPayload, error) {
	var payload DealHandoffPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DealHandoffPayload{}, err
	}
	return payload, nil
}

func NewLeadFollowupTask(payload LeadFollowupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadFollowup, data), nil
}

func ParseLeadFollowupPayload(task *asynq.Task) (LeadFollowupPayload, error) {
	var payload LeadFollowupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadFollowupPayload{}, err
	}
	return payload, nil
}

// NewArchiveSweepTask carries no payload; the sweep reads its cutoff from
// configuration at execution time.
func NewArchiveSweepTask() *asynq.Task {
	return asynq.NewTask(TaskArchiveSweep, nil)
}
