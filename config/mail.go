package config

import (
	"strings"
	"time"
)

// MailConfig contains mail transport configuration for both inbound (IMAP)
// and outbound (SMTP) traffic. Fields are read with the MAIL_ prefix
// (MAIL_ADDRESS and so on). The monitor cannot start without Address and
// Password; everything else has working defaults for Gmail accounts.
type MailConfig struct {
	// Address is the monitored account. It is both the IMAP login and the
	// From address of every outbound notice.
	Address string `env:"ADDRESS"`

	// Password is the account password or app password, shared by the
	// IMAP and SMTP logins.
	Password string `env:"PASSWORD"`

	// IMAPServer is the host:port of the IMAP endpoint, TLS assumed.
	IMAPServer string `env:"IMAP_SERVER" envDefault:"imap.gmail.com:993"`

	// Mailbox is the folder to poll for job requests.
	Mailbox string `env:"IMAP_MAILBOX" envDefault:"INBOX"`

	// SMTPHost is the SMTP server hostname.
	SMTPHost string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`

	// SMTPPort is the submission port (SMTPS).
	SMTPPort int `env:"SMTP_PORT" envDefault:"465"`

	// AllowedSenders restricts intake to these addresses when non-empty.
	// Comma-separated list; comparison is case-insensitive.
	AllowedSenders []string `env:"ALLOWED_SENDERS"`

	// DedupeTTL is how long a processed message identity is remembered so
	// a poll overlap cannot turn one mail into two jobs.
	DedupeTTL time.Duration `env:"DEDUPE_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to mail configuration values.
func (m *MailConfig) Sanitize() {
	m.Address = strings.TrimSpace(m.Address)
	m.IMAPServer = strings.TrimSpace(m.IMAPServer)
	m.SMTPHost = strings.TrimSpace(m.SMTPHost)

	senders := m.AllowedSenders[:0]
	for _, s := range m.AllowedSenders {
		if s = strings.TrimSpace(s); s != "" {
			senders = append(senders, s)
		}
	}
	m.AllowedSenders = senders

	if m.SMTPPort < 1 || m.SMTPPort > 65535 {
		m.SMTPPort = 465
	}
	if m.DedupeTTL <= 0 {
		m.DedupeTTL = 24 * time.Hour
	}
}

// IsComplete returns true when enough is configured to poll an inbox and
// send notices. The server fields always have defaults, so credentials are
// the deciding factor.
func (m *MailConfig) IsComplete() bool {
	return m.Address != "" && m.Password != ""
}
