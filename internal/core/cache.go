package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// The core defines the interface and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is what inbound message dedupe is built on.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// ResearchCacheService caches merged research results keyed by topic and
// constraints, so repeated requests for the same topic skip the expensive
// research fan-out. The service degrades to a no-op when no cache is wired.
type ResearchCacheService struct {
	cache CacheRepository
	ttl   time.Duration
}

// ResearchCacheConfig holds configuration for research caching.
type ResearchCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// ResearchCacheServiceOptions bundles dependencies for NewResearchCacheService.
type ResearchCacheServiceOptions struct {
	// Cache may be nil, which disables caching entirely.
	Cache  CacheRepository
	Config ResearchCacheConfig
}

// DefaultResearchCacheConfig returns a ResearchCacheConfig with sensible defaults.
func DefaultResearchCacheConfig() ResearchCacheConfig {
	return ResearchCacheConfig{
		TTL: 30 * time.Minute,
	}
}

// NewResearchCacheService creates a new ResearchCacheService.
func NewResearchCacheService(opts ResearchCacheServiceOptions) *ResearchCacheService {
	cfg := opts.Config
	if cfg.TTL <= 0 {
		cfg = DefaultResearchCacheConfig()
	}
	return &ResearchCacheService{
		cache: opts.Cache,
		ttl:   cfg.TTL,
	}
}

// GetResearch returns a previously cached result for the topic and
// constraints, or nil on a miss. Corrupt entries count as misses.
func (s *ResearchCacheService) GetResearch(ctx context.Context, topic string, constraints model.SearchConstraints) (*model.ResearchResult, error) {
	if s == nil || s.cache == nil {
		return nil, nil
	}

	raw, err := s.cache.Get(ctx, s.researchKey(topic, constraints))
	if err != nil {
		return nil, fmt.Errorf("get cached research: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var result model.ResearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil
	}
	return &result, nil
}

// PutResearch stores a merged research result under the topic and
// constraints key.
func (s *ResearchCacheService) PutResearch(ctx context.Context, topic string, constraints model.SearchConstraints, result *model.ResearchResult) error {
	if s == nil || s.cache == nil || result == nil {
		return nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal research result: %w", err)
	}
	if err := s.cache.Set(ctx, s.researchKey(topic, constraints), raw, s.ttl); err != nil {
		return fmt.Errorf("cache research result: %w", err)
	}
	return nil
}

// researchKey generates a cache key for a topic under a set of constraints.
// Constraints take part in the key so narrowed research never serves a
// differently constrained request.
func (s *ResearchCacheService) researchKey(topic string, constraints model.SearchConstraints) string {
	constraints.Normalize()
	payload, _ := json.Marshal(struct {
		Topic       string                  `json:"topic"`
		Constraints model.SearchConstraints `json:"constraints"`
	}{Topic: topic, Constraints: constraints})
	sum := sha256.Sum256(payload)
	return "research:content:" + hex.EncodeToString(sum[:16])
}
