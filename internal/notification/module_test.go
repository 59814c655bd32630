package notification

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

const testOpsEmail = "ops@example.com"

type testNotificationConfig struct {
	opsEmail      string
	reminderDelay time.Duration
}

func (c testNotificationConfig) GetSMTPHost() string         { return "smtp.example.com" }
func (c testNotificationConfig) GetSMTPPort() int            { return 587 }
func (c testNotificationConfig) GetSMTPUsername() string     { return "" }
func (c testNotificationConfig) GetSMTPPassword() string     { return "" }
func (c testNotificationConfig) GetEmailFromName() string    { return "Leadflow" }
func (c testNotificationConfig) GetEmailFromAddress() string { return "noreply@example.com" }
func (c testNotificationConfig) GetOpsNotifyEmail() string   { return c.opsEmail }
func (c testNotificationConfig) IsEmailEnabled() bool        { return c.opsEmail != "" }
func (c testNotificationConfig) GetFollowupReminderDelay() time.Duration {
	return c.reminderDelay
}

type testSender struct {
	erroredCalls  int
	followupCalls int
	lastTo        string
	lastErrored   email.LeadErroredEmailData
	lastFollowup  email.LeadFollowupEmailData
}

func (s *testSender) SendLeadErroredEmail(_ context.Context, toEmail string, data email.LeadErroredEmailData) error {
	s.erroredCalls++
	s.lastTo = toEmail
	s.lastErrored = data
	return nil
}

func (s *testSender) SendLeadFollowupEmail(_ context.Context, toEmail string, data email.LeadFollowupEmailData) error {
	s.followupCalls++
	s.lastTo = toEmail
	s.lastFollowup = data
	return nil
}

type testReminderScheduler struct {
	calls   int
	payload scheduler.LeadFollowupPayload
	runAt   time.Time
}

func (r *testReminderScheduler) ScheduleLeadFollowup(_ context.Context, payload scheduler.LeadFollowupPayload, runAt time.Time) error {
	r.calls++
	r.payload = payload
	r.runAt = runAt
	return nil
}

func TestHandleLeadErroredSendsOpsEmail(t *testing.T) {
	sender := &testSender{}
	m := New(sender, nil, testNotificationConfig{opsEmail: testOpsEmail}, logger.New("development"))
	leadID := uuid.New()

	err := m.Handle(context.Background(), events.LeadErrored{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       leadID,
		Name:         "Dana",
		Email:        "dana@example.com",
		Company:      "Acme",
		Stage:        "enrich",
		Attempts:     3,
		ErrorMessage: "enrich: collaborator timeout",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if sender.erroredCalls != 1 {
		t.Fatalf("expected 1 errored email, got %d", sender.erroredCalls)
	}
	if sender.lastTo != testOpsEmail {
		t.Fatalf("expected email to %s, got %s", testOpsEmail, sender.lastTo)
	}
	if sender.lastErrored.LeadID != leadID.String() {
		t.Fatalf("expected lead id %s in email data, got %s", leadID, sender.lastErrored.LeadID)
	}
	if sender.lastErrored.Stage != "enrich" {
		t.Fatalf("expected stage enrich in email data, got %s", sender.lastErrored.Stage)
	}
}

func TestHandleLeadErroredSkipsWhenSenderMissing(t *testing.T) {
	m := New(nil, nil, testNotificationConfig{opsEmail: testOpsEmail}, logger.New("development"))

	err := m.Handle(context.Background(), events.LeadErrored{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("expected nil sender to be skipped cleanly, got error: %v", err)
	}
}

func TestHandleLeadErroredSkipsWhenOpsEmailUnset(t *testing.T) {
	sender := &testSender{}
	m := New(sender, nil, testNotificationConfig{}, logger.New("development"))

	err := m.Handle(context.Background(), events.LeadErrored{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if sender.erroredCalls != 0 {
		t.Fatalf("expected no email without an ops address, got %d calls", sender.erroredCalls)
	}
}

func TestHandleFollowupRequiredMailsAndArmsReminder(t *testing.T) {
	sender := &testSender{}
	reminders := &testReminderScheduler{}
	delay := 4 * time.Hour
	m := New(sender, reminders, testNotificationConfig{opsEmail: testOpsEmail, reminderDelay: delay}, logger.New("development"))
	leadID := uuid.New()
	before := time.Now()

	err := m.Handle(context.Background(), events.LeadSchedulingFollowupRequired{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		Name:      "Dana",
		Email:     "dana@example.com",
		Company:   "Acme",
		Reason:    "no slot within booking window",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if sender.followupCalls != 1 {
		t.Fatalf("expected 1 follow-up email, got %d", sender.followupCalls)
	}
	if sender.lastFollowup.Reminder {
		t.Fatal("expected first follow-up notice to not be marked as reminder")
	}
	if reminders.calls != 1 {
		t.Fatalf("expected 1 reminder scheduled, got %d", reminders.calls)
	}
	if reminders.payload.LeadID != leadID.String() {
		t.Fatalf("expected reminder payload for lead %s, got %s", leadID, reminders.payload.LeadID)
	}
	if reminders.runAt.Before(before.Add(delay)) {
		t.Fatalf("expected reminder at least %s out, got %s", delay, reminders.runAt.Sub(before))
	}
}

func TestHandleFollowupRequiredArmsReminderEvenWithoutSender(t *testing.T) {
	reminders := &testReminderScheduler{}
	m := New(nil, reminders, testNotificationConfig{reminderDelay: time.Hour}, logger.New("development"))

	err := m.Handle(context.Background(), events.LeadSchedulingFollowupRequired{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if reminders.calls != 1 {
		t.Fatalf("expected reminder to be armed without a sender, got %d calls", reminders.calls)
	}
}

func TestHandleFollowupReminderDueMailsWithoutRearming(t *testing.T) {
	sender := &testSender{}
	reminders := &testReminderScheduler{}
	m := New(sender, reminders, testNotificationConfig{opsEmail: testOpsEmail, reminderDelay: time.Hour}, logger.New("development"))

	err := m.Handle(context.Background(), events.LeadFollowupReminderDue{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    uuid.New(),
		Name:      "Dana",
		Reason:    "no slot within booking window",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if sender.followupCalls != 1 {
		t.Fatalf("expected 1 reminder email, got %d", sender.followupCalls)
	}
	if !sender.lastFollowup.Reminder {
		t.Fatal("expected reminder email to be marked as reminder")
	}
	if reminders.calls != 0 {
		t.Fatalf("expected reminder to not re-arm itself, got %d calls", reminders.calls)
	}
}
