package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

const (
	// minRequestSubjectLen is the shortest subject treated as a real topic.
	minRequestSubjectLen = 5

	intakeDedupeKeyPrefix = "intake:message:"
)

// systemSubjectPatterns mark auto-generated mail: bounces, receipts,
// calendar traffic, and reply/forward prefixes in several languages.
// Matching is case-insensitive substring containment.
var systemSubjectPatterns = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"autoreply",
	"delivery status",
	"delivery failure",
	"undeliverable",
	"read receipt",
	"read:",
	"meeting invitation",
	"meeting request",
	"meeting accepted",
	"meeting declined",
	"calendar:",
	"invitation:",
	"accepted:",
	"declined:",
	"tentative:",
	"cancelled:",
	"updated invitation",
	"re:",
	"fwd:",
	"fw:",
	"aw:",
	"sv:",
	"antw:",
}

// spamSubjectPatterns mark promotional and notification mail that is never
// a content request.
var spamSubjectPatterns = []string{
	// Sales and marketing
	"unsubscribe",
	"subscription",
	"newsletter",
	"weekly digest",
	"daily digest",
	"promotional",
	"special offer",
	"limited time",
	"act now",
	"don't miss",
	"exclusive deal",
	"free trial",
	"sign up now",
	"% off",
	"discount",
	"coupon",
	"promo code",
	"black friday",
	"cyber monday",
	"flash sale",
	"clearance",

	// Account and service notifications
	"your order",
	"order confirmation",
	"shipping confirmation",
	"tracking number",
	"password reset",
	"verify your",
	"confirm your",
	"account security",
	"account update",
	"billing statement",
	"invoice",
	"payment received",
	"payment due",
	"receipt for",
	"your receipt",

	// Social media notifications
	"new follower",
	"new connection",
	"liked your",
	"commented on",
	"mentioned you",
	"tagged you",
	"shared your",
	"new message from",
	"sent you a message",

	// Alerts
	"security alert",
	"login attempt",
	"new sign-in",
	"unusual activity",
	"action required",
	"action needed",
	"reminder:",
	"alert:",
	"notification:",
	"update:",

	// Recruiting
	"job opportunity",
	"job alert",
	"we're hiring",
	"career opportunity",
	"your application",

	// Common spam phrases
	"congratulations",
	"you've won",
	"claim your",
	"urgent",
	"important notice",
	"final notice",
	"immediate action",
}

// automatedSenderMarkers mark machine senders by address substring.
var automatedSenderMarkers = []string{
	"noreply",
	"no-reply",
	"donotreply",
	"mailer-daemon",
	"postmaster",
	"notifications",
	"alerts",
	"news@",
	"newsletter@",
	"marketing@",
	"promo@",
	"sales@",
	"support@",
	"info@",
	"hello@",
	"team@",
}

// IntakeConfig tunes mail intake.
type IntakeConfig struct {
	// AllowedSenders restricts intake to these addresses when non-empty.
	// Comparison is case-insensitive on the full address.
	AllowedSenders []string
	// DedupeTTL is how long a message identity is remembered. A message
	// seen again within the window is dropped even if its unseen flag was
	// never cleared.
	DedupeTTL time.Duration
}

// DefaultIntakeConfig returns an IntakeConfig with sensible defaults.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{DedupeTTL: 24 * time.Hour}
}

// MailIntakeServiceOptions groups dependencies for MailIntakeService.
type MailIntakeServiceOptions struct {
	Fetcher core.MailFetcher     // Required: unseen message source
	Cache   core.CacheRepository // Optional: message dedupe store
	Logger  *slog.Logger         // Optional: structured logger
	Metrics *JobMetrics          // Optional: intake counters
	Config  IntakeConfig         // Optional: zero value takes defaults
}

// MailIntakeService turns inbox traffic into job requests. Anything that
// does not survive the qualification rules is discarded silently; the
// inbox is full of mail that was never meant for this system.
type MailIntakeService struct {
	fetcher        core.MailFetcher
	cache          core.CacheRepository
	logger         *slog.Logger
	metrics        *JobMetrics
	allowedSenders []string
	dedupeTTL      time.Duration
}

// NewMailIntakeService constructs a new MailIntakeService.
func NewMailIntakeService(opts MailIntakeServiceOptions) (*MailIntakeService, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("MailFetcher is required")
	}

	cfg := opts.Config
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultIntakeConfig().DedupeTTL
	}

	allowed := make([]string, 0, len(cfg.AllowedSenders))
	for _, s := range cfg.AllowedSenders {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			allowed = append(allowed, s)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "mail_intake_service")
	}

	return &MailIntakeService{
		fetcher:        opts.Fetcher,
		cache:          opts.Cache,
		logger:         logger,
		metrics:        opts.Metrics,
		allowedSenders: allowed,
		dedupeTTL:      cfg.DedupeTTL,
	}, nil
}

// MustNewMailIntakeService constructs a new MailIntakeService and panics on error.
func MustNewMailIntakeService(opts MailIntakeServiceOptions) *MailIntakeService {
	svc, err := NewMailIntakeService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create MailIntakeService: %v", err))
	}
	return svc
}

// FetchRequests pulls unseen messages and qualifies each one. The returned
// requests carry the sender as recipient for the eventual reply.
func (s *MailIntakeService) FetchRequests(ctx context.Context) ([]model.JobRequest, error) {
	messages, err := s.fetcher.FetchUnseen(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch unseen mail: %w", err)
	}

	var requests []model.JobRequest
	discarded := 0
	for _, msg := range messages {
		if !s.firstSighting(ctx, msg) {
			discarded++
			continue
		}
		req, reason := s.qualify(msg)
		if req == nil {
			discarded++
			if s.logger != nil {
				s.logger.InfoContext(ctx, "discarded inbound message",
					"sender", msg.Sender, "subject", truncate(msg.Subject, 50), "reason", reason)
			}
			continue
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "accepted content request",
				"sender", msg.Sender, "topic", truncate(req.Topic, 50))
		}
		requests = append(requests, *req)
	}

	if s.metrics != nil {
		s.metrics.RecordIntake(len(messages), discarded, len(requests))
	}
	return requests, nil
}

// qualify applies the intake rules in order, cheapest first. The subject
// is the topic; the body is ignored.
func (s *MailIntakeService) qualify(msg model.InboundMessage) (*model.JobRequest, string) {
	sender := strings.ToLower(strings.TrimSpace(msg.Sender))

	if len(s.allowedSenders) > 0 && !slices.Contains(s.allowedSenders, sender) {
		return nil, "sender not in allowlist"
	}

	topic := strings.TrimSpace(msg.Subject)
	if topic == "" {
		return nil, "empty subject"
	}
	if utf8.RuneCountInString(topic) < minRequestSubjectLen {
		return nil, "subject too short"
	}

	topicLower := strings.ToLower(topic)
	for _, p := range systemSubjectPatterns {
		if strings.Contains(topicLower, p) {
			return nil, fmt.Sprintf("system mail pattern %q", p)
		}
	}
	for _, p := range spamSubjectPatterns {
		if strings.Contains(topicLower, p) {
			return nil, fmt.Sprintf("spam pattern %q", p)
		}
	}
	for _, m := range automatedSenderMarkers {
		if strings.Contains(sender, m) {
			return nil, fmt.Sprintf("automated sender marker %q", m)
		}
	}

	return &model.JobRequest{
		Topic:     topic,
		Recipient: msg.Sender,
		Subject:   msg.Subject,
		Format:    model.FormatBlogPost,
	}, ""
}

// firstSighting records the message identity in the cache and reports
// whether this is the first time it was seen. A cache outage admits the
// message; duplicate work is cheaper than dropped requests.
func (s *MailIntakeService) firstSighting(ctx context.Context, msg model.InboundMessage) bool {
	if s.cache == nil {
		return true
	}
	sum := sha256.Sum256([]byte(msg.UID + ":" + msg.Sender + ":" + msg.Subject))
	key := intakeDedupeKeyPrefix + hex.EncodeToString(sum[:16])

	fresh, err := s.cache.SetIfNotExists(ctx, key, []byte("1"), s.dedupeTTL)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "message dedupe unavailable, admitting message", "error", err)
		}
		return true
	}
	if !fresh && s.logger != nil {
		s.logger.InfoContext(ctx, "dropping already seen message",
			"sender", msg.Sender, "subject", truncate(msg.Subject, 50))
	}
	return fresh
}
