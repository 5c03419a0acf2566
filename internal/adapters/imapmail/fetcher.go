package imapmail

// Package imapmail implements the inbox polling port over IMAP. Each poll
// opens a fresh session, collects unseen messages, marks them seen and
// disconnects, so no long-lived connection has to survive between polls.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"

	// Registers decoders for the charsets non-UTF8 mail arrives in.
	_ "github.com/emersion/go-message/charset"

	"github.com/draftmill/draftmill/internal/domain/model"
)

const sessionTimeout = 60 * time.Second

// Config holds the IMAP account to poll.
type Config struct {
	// Server is the host:port of the IMAP endpoint, TLS assumed.
	Server string
	// Address is the login, also the account whose inbox is monitored.
	Address string
	// Password is the account password or app password.
	Password string
	// Mailbox is the folder to poll. Defaults to INBOX.
	Mailbox string
}

// Fetcher is the IMAP-backed core.MailFetcher implementation.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
}

// NewFetcher creates a Fetcher from the given configuration.
func NewFetcher(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Server == "" {
		return nil, errors.New("Server is required")
	}
	if cfg.Address == "" {
		return nil, errors.New("Address is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("Password is required")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if logger != nil {
		logger = logger.With("component", "imap_fetcher")
	}
	return &Fetcher{cfg: cfg, logger: logger}, nil
}

// FetchUnseen returns all unseen messages and marks them seen. The IMAP
// session runs with its own timeout; cancellation abandons the session and
// returns early.
func (f *Fetcher) FetchUnseen(ctx context.Context) ([]model.InboundMessage, error) {
	type outcome struct {
		messages []model.InboundMessage
		err      error
	}
	result := make(chan outcome, 1)
	go func() {
		messages, err := f.fetchSession()
		result <- outcome{messages: messages, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-result:
		return out.messages, out.err
	}
}

func (f *Fetcher) fetchSession() ([]model.InboundMessage, error) {
	c, err := client.DialTLS(f.cfg.Server, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	c.Timeout = sessionTimeout
	defer c.Logout() //nolint:errcheck

	if err := c.Login(f.cfg.Address, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select(f.cfg.Mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", f.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	// Peek keeps the server from flagging messages during the fetch; the
	// seen flag is set explicitly once everything arrived.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}
	ch := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, ch)
	}()

	var messages []model.InboundMessage
	for msg := range ch {
		if in, ok := f.toInbound(msg, section, mbox.UidValidity); ok {
			messages = append(messages, in)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, op, []interface{}{imap.SeenFlag}, nil); err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	return messages, nil
}

// toInbound converts a fetched message, skipping anything without a usable
// envelope or sender address.
func (f *Fetcher) toInbound(msg *imap.Message, section *imap.BodySectionName, uidValidity uint32) (model.InboundMessage, bool) {
	if msg == nil || msg.Envelope == nil {
		return model.InboundMessage{}, false
	}
	env := msg.Envelope
	if len(env.From) == 0 || env.From[0].MailboxName == "" || env.From[0].HostName == "" {
		if f.logger != nil {
			f.logger.Debug("skipping message without sender", "subject", env.Subject)
		}
		return model.InboundMessage{}, false
	}
	return model.InboundMessage{
		UID:     fmt.Sprintf("%d:%d", uidValidity, msg.Uid),
		Sender:  env.From[0].Address(),
		Subject: env.Subject,
		Body:    f.textBody(msg.GetBody(section)),
	}, true
}

// textBody extracts the first inline text/plain part. Parse problems yield
// an empty body; the subject alone is enough to qualify a request.
func (f *Fetcher) textBody(r io.Reader) string {
	if r == nil {
		return ""
	}
	mr, err := gomail.CreateReader(r)
	if err != nil {
		if f.logger != nil {
			f.logger.Debug("unreadable message body", "error", err)
		}
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil || contentType != "text/plain" {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(body))
	}
}
