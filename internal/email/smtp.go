package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadflow_backend/platform/config"
)

// SMTPSender implements the Sender interface over a direct SMTP connection
// via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a sender from the SMTP settings. Callers should not
// construct one when email is disabled.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendLeadErroredEmail(ctx context.Context, toEmail string, data LeadErroredEmailData) error {
	subject := fmt.Sprintf(subjectLeadErroredFmt, displayCompany(data.Company, data.Email))
	content, err := renderEmailTemplate("lead_errored.html", leadErroredEmailData{
		baseEmailData: baseEmailData{
			Title:   "Lead pipeline failure",
			Heading: "A lead needs manual review",
		},
		LeadErroredEmailData: data,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

func (s *SMTPSender) SendLeadFollowupEmail(ctx context.Context, toEmail string, data LeadFollowupEmailData) error {
	subject := fmt.Sprintf(subjectLeadFollowupFmt, displayCompany(data.Company, data.Email))
	heading := "A qualified lead needs manual scheduling"
	if data.Reminder {
		subject = fmt.Sprintf(subjectLeadFollowupReminderFmt, displayCompany(data.Company, data.Email))
		heading = "Reminder: this lead is still unscheduled"
	}

	content, err := renderEmailTemplate("lead_followup.html", leadFollowupEmailData{
		baseEmailData: baseEmailData{
			Title:   "Manual scheduling needed",
			Heading: heading,
		},
		LeadFollowupEmailData: data,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

func displayCompany(company, email string) string {
	if company != "" {
		return company
	}
	if email != "" {
		return email
	}
	return "unknown lead"
}

// Compile-time check that SMTPSender implements Sender
var _ Sender = (*SMTPSender)(nil)
