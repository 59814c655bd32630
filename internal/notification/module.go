// Package notification turns pipeline events into operator email.
// The module subscribes to events and inverts the dependency: the
// orchestrator and the task worker publish domain events without knowing
// about SMTP or templates.
package notification

import (
	"context"
	"time"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Module handles all notification-related event subscriptions.
type Module struct {
	sender    email.Sender
	reminders scheduler.FollowupScheduler
	cfg       config.NotificationConfig
	log       *logger.Logger
}

// New creates a notification module. sender may be nil when SMTP is not
// configured and reminders may be nil when the task queue is unavailable;
// both degrade to log-only behavior.
func New(sender email.Sender, reminders scheduler.FollowupScheduler, cfg config.NotificationConfig, log *logger.Logger) *Module {
	return &Module{
		sender:    sender,
		reminders: reminders,
		cfg:       cfg,
		log:       log,
	}
}

// RegisterHandlers subscribes the module to the pipeline events it mails out.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.LeadErrored{}.EventName(), m)
	bus.Subscribe(events.LeadSchedulingFollowupRequired{}.EventName(), m)
	bus.Subscribe(events.LeadFollowupReminderDue{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadErrored:
		return m.handleLeadErrored(ctx, e)
	case events.LeadSchedulingFollowupRequired:
		return m.handleFollowupRequired(ctx, e)
	case events.LeadFollowupReminderDue:
		return m.handleFollowupReminderDue(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

// emailReady reports whether ops mail can actually be delivered.
func (m *Module) emailReady() bool {
	return m.sender != nil && m.cfg.GetOpsNotifyEmail() != ""
}

func (m *Module) handleLeadErrored(ctx context.Context, e events.LeadErrored) error {
	if !m.emailReady() {
		m.log.Info("ops email disabled, skipping errored notification", "leadId", e.LeadID)
		return nil
	}

	data := email.LeadErroredEmailData{
		LeadID:       e.LeadID.String(),
		Name:         e.Name,
		Email:        e.Email,
		Company:      e.Company,
		Stage:        e.Stage,
		Attempts:     e.Attempts,
		ErrorMessage: e.ErrorMessage,
	}
	if err := m.sender.SendLeadErroredEmail(ctx, m.cfg.GetOpsNotifyEmail(), data); err != nil {
		m.log.Error("failed to send lead errored email",
			"leadId", e.LeadID,
			"stage", e.Stage,
			"error", err,
		)
		return err
	}
	m.log.Info("lead errored email sent", "leadId", e.LeadID, "stage", e.Stage)
	return nil
}

func (m *Module) handleFollowupRequired(ctx context.Context, e events.LeadSchedulingFollowupRequired) error {
	m.armFollowupReminder(ctx, e.LeadID)

	if !m.emailReady() {
		m.log.Info("ops email disabled, skipping follow-up notification", "leadId", e.LeadID)
		return nil
	}

	data := email.LeadFollowupEmailData{
		LeadID:  e.LeadID.String(),
		Name:    e.Name,
		Email:   e.Email,
		Company: e.Company,
		Reason:  e.Reason,
	}
	if err := m.sender.SendLeadFollowupEmail(ctx, m.cfg.GetOpsNotifyEmail(), data); err != nil {
		m.log.Error("failed to send follow-up email",
			"leadId", e.LeadID,
			"error", err,
		)
		return err
	}
	m.log.Info("follow-up email sent", "leadId", e.LeadID)
	return nil
}

// armFollowupReminder schedules the delayed re-send. The reminder task checks
// lead state before publishing, so a lead scheduled in the meantime stays
// quiet.
func (m *Module) armFollowupReminder(ctx context.Context, leadID uuid.UUID) {
	if m.reminders == nil {
		return
	}

	runAt := time.Now().Add(m.cfg.GetFollowupReminderDelay())
	payload := scheduler.LeadFollowupPayload{LeadID: leadID.String()}
	if err := m.reminders.ScheduleLeadFollowup(ctx, payload, runAt); err != nil {
		m.log.Error("failed to schedule follow-up reminder", "leadId", leadID, "error", err)
		return
	}
	m.log.Info("follow-up reminder scheduled", "leadId", leadID, "runAt", runAt)
}

// handleFollowupReminderDue re-sends the follow-up notice once. It never arms
// another reminder; a lead parked forever gets exactly two emails.
func (m *Module) handleFollowupReminderDue(ctx context.Context, e events.LeadFollowupReminderDue) error {
	if !m.emailReady() {
		m.log.Info("ops email disabled, skipping follow-up reminder", "leadId", e.LeadID)
		return nil
	}

	data := email.LeadFollowupEmailData{
		LeadID:   e.LeadID.String(),
		Name:     e.Name,
		Email:    e.Email,
		Company:  e.Company,
		Reason:   e.Reason,
		Reminder: true,
	}
	if err := m.sender.SendLeadFollowupEmail(ctx, m.cfg.GetOpsNotifyEmail(), data); err != nil {
		m.log.Error("failed to send follow-up reminder email",
			"leadId", e.LeadID,
			"error", err,
		)
		return err
	}
	m.log.Info("follow-up reminder email sent", "leadId", e.LeadID)
	return nil
}
