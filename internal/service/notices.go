package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/util"
)

// rejectionGuidelines is the policy block included in every declined-topic
// notice.
const rejectionGuidelines = `We block topics that are:
- Politically charged or biased
- Sexual or adult in nature
- Related to illegal activities
- Violent or promoting harm
- Hateful or discriminatory

Please try a different topic that is educational, informational, or professionally appropriate.`

// NoticeServiceOptions groups dependencies for NoticeService.
type NoticeServiceOptions struct {
	Sender core.MailSender  // Required: outbound mail transport
	Logger *slog.Logger     // Optional: structured logger
	Now    func() time.Time // Optional: clock, defaults to time.Now
}

// NoticeService composes and sends the mail a job ends with: the finished
// content, a guardrail rejection, or a failure notice.
type NoticeService struct {
	sender core.MailSender
	logger *slog.Logger
	md     goldmark.Markdown
	now    func() time.Time
}

// NewNoticeService constructs a new NoticeService.
func NewNoticeService(opts NoticeServiceOptions) (*NoticeService, error) {
	if opts.Sender == nil {
		return nil, errors.New("MailSender is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "notice_service")
	}

	return &NoticeService{
		sender: opts.Sender,
		logger: logger,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:    now,
	}, nil
}

// MustNewNoticeService constructs a new NoticeService and panics on error.
func MustNewNoticeService(opts NoticeServiceOptions) *NoticeService {
	svc, err := NewNoticeService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create NoticeService: %v", err))
	}
	return svc
}

// SendResult mails the finished content back to the requester as a
// multipart message: the markdown as plain text and a styled HTML render.
func (s *NoticeService) SendResult(ctx context.Context, job *model.Job) error {
	if job.Result == nil {
		return errors.New("job has no result to send")
	}

	content := job.Result.Draft
	if len(job.Result.Slides) > 0 {
		content = slidesMarkdown(job.Result.Slides)
	}
	stamp := s.now().UTC().Format("2006-01-02 15:04 UTC")

	var elapsed time.Duration
	if !job.ReceivedAt.IsZero() {
		elapsed = s.now().Sub(job.ReceivedAt)
	}

	text := fmt.Sprintf(`Your AI-Generated Content is Ready!
====================================

Topic: %s
Generated: %s
Processing time: %s

%s

---
Sources Used:
%s

---
Generated by DraftMill
Want another article? Just send an email with your topic as the subject!
`, job.Topic, stamp, util.FormatProcessingDuration(elapsed), content, sourcesText(job.Result.Sources))

	mail := core.OutboundMail{
		To:      job.Sender,
		Subject: fmt.Sprintf("✅ Your Blog is Ready: %s", job.Topic),
		Text:    text,
		HTML:    s.resultHTML(job.Topic, stamp, content, job.Result.Sources),
	}
	if err := s.sender.Send(ctx, mail); err != nil {
		return fmt.Errorf("send result mail: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "result mail sent", "job_id", job.ID, "recipient", job.Sender)
	}
	return nil
}

// SendRejection mails the guardrail verdict back to the requester.
func (s *NoticeService) SendRejection(ctx context.Context, job *model.Job, reason string) error {
	text := fmt.Sprintf(`Your Content Request Could Not Be Processed
============================================

Topic: %s
Reason: %s

Our content guidelines don't allow us to generate content on this topic.

%s

---
DraftMill
`, job.Topic, reason, rejectionGuidelines)

	mail := core.OutboundMail{
		To:      job.Sender,
		Subject: fmt.Sprintf("❌ Blog Request Declined: %s", truncateRunes(job.Topic, 50)),
		Text:    text,
		HTML:    rejectionHTML(job.Topic, reason),
	}
	if err := s.sender.Send(ctx, mail); err != nil {
		return fmt.Errorf("send rejection mail: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "rejection mail sent", "job_id", job.ID, "recipient", job.Sender)
	}
	return nil
}

// SendFailure mails a plain-text notice when generation failed outright.
func (s *NoticeService) SendFailure(ctx context.Context, job *model.Job, errorMessage string) error {
	text := fmt.Sprintf(`Unfortunately, we couldn't generate your content.

Topic: %s
Error: %s

Please try again or modify your request.

---
To request an article, send an email with your topic as the subject.

DraftMill
`, job.Topic, errorMessage)

	mail := core.OutboundMail{
		To:      job.Sender,
		Subject: fmt.Sprintf("❌ Blog Generation Failed: %s", job.Topic),
		Text:    text,
	}
	if err := s.sender.Send(ctx, mail); err != nil {
		return fmt.Errorf("send failure mail: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "failure mail sent", "job_id", job.ID, "recipient", job.Sender)
	}
	return nil
}

// renderMarkdown converts markdown to HTML. On a render error the content
// ships escaped inside a pre block instead of being dropped.
func (s *NoticeService) renderMarkdown(markdown string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &buf); err != nil {
		if s.logger != nil {
			s.logger.Warn("markdown render failed, falling back to preformatted text", "error", err)
		}
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return buf.String()
}

func (s *NoticeService) resultHTML(topic, stamp, content string, sources []model.Source) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }
h1 { color: #1a1a2e; border-bottom: 2px solid #4f46e5; padding-bottom: 10px; }
h2 { color: #2d2d44; margin-top: 30px; }
pre { background: #f4f4f5; padding: 15px; border-radius: 8px; overflow-x: auto; }
code { background: #f4f4f5; padding: 2px 6px; border-radius: 4px; }
blockquote { border-left: 4px solid #4f46e5; margin: 20px 0; padding-left: 20px; color: #666; }
.header { background: linear-gradient(135deg, #4f46e5, #7c3aed); color: white; padding: 20px; border-radius: 10px; margin-bottom: 30px; }
.footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #eee; color: #666; font-size: 0.9em; }
.sources { background: #f8fafc; padding: 15px; border-radius: 8px; margin-top: 30px; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&b, `<div class="header">
<h1 style="color: white; border: none; margin: 0;">✨ Your Content is Ready!</h1>
<p style="margin: 10px 0 0 0; opacity: 0.9;">Topic: %s</p>
</div>
`, html.EscapeString(topic))
	fmt.Fprintf(&b, "<div class=\"content\">\n%s</div>\n", s.renderMarkdown(content))
	fmt.Fprintf(&b, `<div class="sources">
<strong>📚 Sources Used:</strong>
%s</div>
`, sourcesHTML(sources))
	fmt.Fprintf(&b, `<div class="footer">
<p>Generated by <strong>DraftMill</strong> on %s</p>
<p>💡 Want another article? Just send an email with your topic as the subject!</p>
</div>
</body>
</html>
`, stamp)
	return b.String()
}

func rejectionHTML(topic, reason string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: linear-gradient(135deg, #ef4444, #dc2626); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
.content { background: #fef2f2; border: 1px solid #fecaca; border-radius: 8px; padding: 20px; }
.reason { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #ef4444; }
ul { color: #666; }
</style>
</head>
<body>
<div class="header">
<h1 style="color: white; margin: 0;">❌ Request Declined</h1>
</div>
<div class="content">
`)
	fmt.Fprintf(&b, "<p><strong>Topic:</strong> %s</p>\n", html.EscapeString(topic))
	fmt.Fprintf(&b, "<div class=\"reason\">\n<strong>Reason:</strong> %s\n</div>\n", html.EscapeString(reason))
	b.WriteString(`<p>Our content guidelines don't allow us to generate content on this topic.</p>
<p><strong>We block topics that are:</strong></p>
<ul>
<li>Politically charged or biased</li>
<li>Sexual or adult in nature</li>
<li>Related to illegal activities</li>
<li>Violent or promoting harm</li>
<li>Hateful or discriminatory</li>
</ul>
<p>Please try a different topic that is educational, informational, or professionally appropriate.</p>
</div>
<p style="color: #666; font-size: 0.9em; margin-top: 20px;">— DraftMill</p>
</body>
</html>
`)
	return b.String()
}

// slidesMarkdown renders parsed slides as markdown sections so carousel
// results read well in mail clients.
func slidesMarkdown(slides []model.Slide) string {
	var b strings.Builder
	for i, slide := range slides {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Slide %d: %s\n\n%s", slide.Number, slide.Title, slide.Content)
		if slide.ImageURL != "" {
			fmt.Fprintf(&b, "\n\n![Slide %d visual](%s)", slide.Number, slide.ImageURL)
		}
	}
	return b.String()
}

func sourcesText(sources []model.Source) string {
	if len(sources) == 0 {
		return "N/A"
	}
	lines := make([]string, 0, len(sources))
	for _, src := range sources {
		lines = append(lines, fmt.Sprintf("- %s: %s", src.Title, src.URI))
	}
	return strings.Join(lines, "\n")
}

func sourcesHTML(sources []model.Source) string {
	if len(sources) == 0 {
		return "<p>N/A</p>\n"
	}
	var b strings.Builder
	b.WriteString("<ul>\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n",
			html.EscapeString(src.URI), html.EscapeString(src.Title))
	}
	b.WriteString("</ul>\n")
	return b.String()
}

// truncateRunes shortens s to limit runes, safe for multibyte topics.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
