package core

import (
	"context"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// MailFetcher pulls unseen messages from the monitored inbox. Fetched
// messages are marked seen so a later poll never returns them again.
type MailFetcher interface {
	FetchUnseen(ctx context.Context) ([]model.InboundMessage, error)
}

// OutboundMail is one notice to deliver. HTML is optional; when present the
// sender builds a multipart message with Text as the fallback part.
type OutboundMail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// MailSender delivers result and rejection notices.
type MailSender interface {
	Send(ctx context.Context, mail OutboundMail) error
}
