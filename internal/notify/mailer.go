// Package notify sends operator e-mail when a meeting lands on the calendar.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/TDXCORE/Agent-Test/internal/events"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

const sendTimeout = 15 * time.Second

// Mailer delivers meeting notifications over SMTP via go-mail.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	log      *logger.Logger
}

// NewMailer returns nil when SMTP is not configured; callers treat a nil
// mailer as notifications disabled.
func NewMailer(cfg config.SMTPConfig, log *logger.Logger) *Mailer {
	if !cfg.IsMailEnabled() {
		return nil
	}
	return &Mailer{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetSMTPFromAddress(),
		to:       cfg.GetNotifyAddress(),
		log:      log,
	}
}

// Register subscribes the mailer to meeting creation. Delivery failures are
// logged and swallowed; mail is best-effort and never blocks scheduling.
func (m *Mailer) Register(bus events.Bus) {
	if m == nil {
		return
	}
	bus.Subscribe(events.MeetingCreated{}.EventName(), events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			created, ok := event.(events.MeetingCreated)
			if !ok {
				return nil
			}
			if err := m.sendMeetingCreated(ctx, created); err != nil {
				m.log.ProviderError("smtp", "meeting_created_mail", err)
			}
			return nil
		}))
}

func (m *Mailer) sendMeetingCreated(ctx context.Context, e events.MeetingCreated) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.to); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject("Nueva reunión agendada: " + e.Subject)
	msg.SetBodyString(gomail.TypeTextHTML, meetingCreatedBody(e))

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(sendTimeout),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func meetingCreatedBody(e events.MeetingCreated) string {
	body := fmt.Sprintf(
		`<h2>Nueva reunión agendada</h2>
<p><strong>Asunto:</strong> %s</p>
<p><strong>Inicio:</strong> %s</p>
<p><strong>Fin:</strong> %s</p>`,
		html.EscapeString(e.Subject),
		html.EscapeString(e.StartTime),
		html.EscapeString(e.EndTime),
	)
	if e.AttendeeEmail != "" {
		body += fmt.Sprintf("<p><strong>Invitado:</strong> %s</p>", html.EscapeString(e.AttendeeEmail))
	}
	if e.JoinURL != "" {
		body += fmt.Sprintf(`<p><a href="%s">Unirse a la reunión</a></p>`, e.JoinURL)
	}
	return body
}
