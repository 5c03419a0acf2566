package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []core.OutboundMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, mail core.OutboundMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, mail)
	return nil
}

func newNoticeServiceForTest(t *testing.T, sender *fakeSender) *NoticeService {
	t.Helper()
	svc, err := NewNoticeService(NoticeServiceOptions{
		Sender: sender,
		Now:    func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func TestSendResultComposesMultipartMail(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	job := &model.Job{
		ID:         "job-1",
		Sender:     "dev@example.com",
		Topic:      "Best practices for API rate limiting",
		ReceivedAt: time.Date(2026, 3, 14, 9, 24, 39, 0, time.UTC),
		Result: &model.PipelineResult{
			Draft: "# Rate Limiting\n\nClients get **429** when they misbehave.",
			Sources: []model.Source{
				{Title: "Throttling Guide", URI: "https://example.com/guide", Category: model.SourceArticle},
			},
		},
	}

	require.NoError(t, svc.SendResult(context.Background(), job))
	require.Len(t, sender.sent, 1)

	mail := sender.sent[0]
	assert.Equal(t, "dev@example.com", mail.To)
	assert.Equal(t, "✅ Your Blog is Ready: Best practices for API rate limiting", mail.Subject)

	assert.Contains(t, mail.Text, "Topic: Best practices for API rate limiting")
	assert.Contains(t, mail.Text, "Generated: 2026-03-14 09:26 UTC")
	assert.Contains(t, mail.Text, "Processing time: 2m14s")
	assert.Contains(t, mail.Text, "# Rate Limiting")
	assert.Contains(t, mail.Text, "- Throttling Guide: https://example.com/guide")

	assert.Contains(t, mail.HTML, "<h1>Rate Limiting</h1>")
	assert.Contains(t, mail.HTML, "<strong>429</strong>")
	assert.Contains(t, mail.HTML, `<a href="https://example.com/guide">Throttling Guide</a>`)
}

func TestSendResultRendersSlides(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	job := &model.Job{
		ID:     "job-2",
		Sender: "dev@example.com",
		Topic:  "Rate limiting for humans",
		Result: &model.PipelineResult{
			Draft: `[{"slideNumber":1}]`,
			Slides: []model.Slide{
				{Number: 1, Title: "Hook", Content: "Rate limits save weekends.", ImageURL: "data:image/png;base64,QUJD"},
				{Number: 2, Title: "Takeaway", Content: "Budget your bursts."},
			},
		},
	}

	require.NoError(t, svc.SendResult(context.Background(), job))
	require.Len(t, sender.sent, 1)

	mail := sender.sent[0]
	assert.Contains(t, mail.Text, "## Slide 1: Hook")
	assert.Contains(t, mail.Text, "## Slide 2: Takeaway")
	assert.Contains(t, mail.Text, "data:image/png;base64,QUJD")
	assert.NotContains(t, mail.Text, `[{"slideNumber":1}]`, "raw slide JSON must not reach the reader")
}

func TestSendResultWithoutResult(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	err := svc.SendResult(context.Background(), &model.Job{ID: "job-3", Sender: "dev@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result")
	assert.Empty(t, sender.sent)
}

func TestSendRejection(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	longTopic := strings.Repeat("how to do something questionable ", 4)
	job := &model.Job{ID: "job-4", Sender: "dev@example.com", Topic: longTopic}

	require.NoError(t, svc.SendRejection(context.Background(), job, "Blocked keyword detected: 'bomb'"))
	require.Len(t, sender.sent, 1)

	mail := sender.sent[0]
	assert.Equal(t, "❌ Blog Request Declined: "+string([]rune(longTopic)[:50]), mail.Subject)
	assert.Contains(t, mail.Text, "Reason: Blocked keyword detected: 'bomb'")
	assert.Contains(t, mail.Text, "We block topics that are:")
	assert.Contains(t, mail.HTML, "Request Declined")
}

func TestSendRejectionEscapesHTML(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	job := &model.Job{ID: "job-5", Sender: "dev@example.com", Topic: "a <script> topic"}
	require.NoError(t, svc.SendRejection(context.Background(), job, `reason with <b>markup</b>`))

	mail := sender.sent[0]
	assert.NotContains(t, mail.HTML, "<script>")
	assert.Contains(t, mail.HTML, "&lt;script&gt;")
	assert.Contains(t, mail.HTML, "&lt;b&gt;markup&lt;/b&gt;")
}

func TestSendFailureIsPlainText(t *testing.T) {
	sender := &fakeSender{}
	svc := newNoticeServiceForTest(t, sender)

	job := &model.Job{ID: "job-6", Sender: "dev@example.com", Topic: "Best practices for API rate limiting"}
	require.NoError(t, svc.SendFailure(context.Background(), job, "drafter timed out after 3m0s"))
	require.Len(t, sender.sent, 1)

	mail := sender.sent[0]
	assert.Equal(t, "❌ Blog Generation Failed: Best practices for API rate limiting", mail.Subject)
	assert.Contains(t, mail.Text, "Error: drafter timed out after 3m0s")
	assert.Empty(t, mail.HTML)
}

func TestSendResultWrapsTransportError(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp handshake failed")}
	svc := newNoticeServiceForTest(t, sender)

	job := &model.Job{
		ID:     "job-7",
		Sender: "dev@example.com",
		Topic:  "Topic",
		Result: &model.PipelineResult{Draft: "# T\n\nBody."},
	}
	err := svc.SendResult(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send result mail")
	assert.Contains(t, err.Error(), "smtp handshake failed")
}
