package members

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/finsight/costgate/internal/platform/logutil"
)

// InviteEmail carries everything the invite message template needs.
type InviteEmail struct {
	To          string
	InviterName string
	OrgName     string
	Role        string
	Link        string
}

// Mailer delivers invite emails. Delivery is best-effort: the invite link
// is always returned to the caller for manual sharing, so a failed send
// never fails the operation.
type Mailer interface {
	SendInvite(ctx context.Context, msg InviteEmail) error
}

// LogMailer writes the invite to the log instead of sending it. Default in
// dev mode.
type LogMailer struct {
	log *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: logutil.NoopIfNil(log)}
}

func (m *LogMailer) SendInvite(ctx context.Context, msg InviteEmail) error {
	m.log.Info("invite email",
		"to", msg.To,
		"org", msg.OrgName,
		"role", msg.Role,
		"link", msg.Link,
	)
	return nil
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	// Addr is the host:port of the SMTP server.
	Addr string

	// From is the sender address.
	From string

	// Username and Password enable PLAIN auth when set.
	Username string
	Password string
}

// SMTPMailer delivers invites over SMTP.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendInvite(ctx context.Context, msg InviteEmail) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: You have been invited to %s\r\n", msg.OrgName)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s invited you to join %s as %s.\r\n\r\n", msg.InviterName, msg.OrgName, msg.Role)
	fmt.Fprintf(&b, "Accept the invitation: %s\r\n\r\n", msg.Link)
	b.WriteString("The link expires in 48 hours.\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}
	return smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, []byte(b.String()))
}
