// Package email renders and delivers ops notification mail over SMTP.
// Sends are best-effort: a failed notification is logged by the caller and
// never feeds back into pipeline state.
package email

import "context"

// LeadErroredEmailData fills the pipeline-failure notification.
type LeadErroredEmailData struct {
	LeadID       string
	Name         string
	Email        string
	Company      string
	Stage        string
	Attempts     int
	ErrorMessage string
}

// LeadFollowupEmailData fills the manual-scheduling notification. Reminder
// marks the re-send that fires when the lead is still unscheduled after the
// reminder delay.
type LeadFollowupEmailData struct {
	LeadID   string
	Name     string
	Email    string
	Company  string
	Reason   string
	Reminder bool
}

// Sender delivers ops notifications.
type Sender interface {
	SendLeadErroredEmail(ctx context.Context, toEmail string, data LeadErroredEmailData) error
	SendLeadFollowupEmail(ctx context.Context, toEmail string, data LeadFollowupEmailData) error
}
