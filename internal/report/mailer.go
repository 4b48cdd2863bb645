package report

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/mail.v2"
)

// Subject is the subject line of every usage report email.
const Subject = "MSPSDC Chatbot Usage Logs"

const (
	bodyWithLogs = "This is an automated email. Please do not respond. \n\n" +
		"Attached are the usage logs for the Meghalaya State Public Services Delivery Commission (MSPSDC) Chatbot"
	bodyNoLogs = "This is an automated email. Please do not respond. \n\nNo usage logs for today."
)

// dialer abstracts the SMTP connection so tests can capture messages.
type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Mailer sends usage reports over SMTP.
type Mailer struct {
	dialer dialer
	from   string
	to     []string
	cc     []string
}

// MailerOpts holds parameters for creating a Mailer.
type MailerOpts struct {
	Host     string
	Port     int // 465 dials with implicit TLS
	Username string
	Password string
	From     string
	To       []string
	Cc       []string
	Timeout  time.Duration // defaults to 30s

	// For testing: inject a dialer instead of a real SMTP connection.
	Dialer dialer
}

// NewMailer creates a Mailer.
func NewMailer(opts MailerOpts) (*Mailer, error) {
	if opts.Dialer == nil && opts.Host == "" {
		return nil, fmt.Errorf("report: smtp host is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("report: from address is required")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("report: at least one recipient is required")
	}

	d := opts.Dialer
	if d == nil {
		port := opts.Port
		if port == 0 {
			port = 465
		}
		username := opts.Username
		if username == "" {
			username = opts.From
		}
		sd := mail.NewDialer(opts.Host, port, username, opts.Password)
		sd.SSL = port == 465
		sd.Timeout = opts.Timeout
		if sd.Timeout <= 0 {
			sd.Timeout = 30 * time.Second
		}
		d = sd
	}
	return &Mailer{dialer: d, from: opts.From, to: opts.To, cc: opts.Cc}, nil
}

// Send mails r. Days without usage get a short notice and no attachment.
func (m *Mailer) Send(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := m.compose(r)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("report: send mail: %w", err)
	}
	log.Info("report: mailed usage logs", "day", r.Day.Format("02-01-2006"), "rows", r.Rows, "to", len(m.to), "cc", len(m.cc))
	return nil
}

func (m *Mailer) compose(r Report) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	if len(m.cc) > 0 {
		msg.SetHeader("Cc", m.cc...)
	}
	msg.SetHeader("Subject", Subject)

	if r.Empty() || r.Path == "" {
		msg.SetBody("text/plain", bodyNoLogs)
		return msg
	}
	msg.SetBody("text/plain", bodyWithLogs)
	msg.Attach(r.Path, mail.Rename(r.Filename))
	return msg
}
