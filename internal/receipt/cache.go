package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/zombor/receipt-parser/internal/scanning"
)

// Cache defines the interface for parsed receipt storage
type Cache interface {
	// Get returns the receipt stored under key, if any
	Get(ctx context.Context, key string) (*scanning.Receipt, bool, error)

	// Set stores a receipt for ttl
	Set(ctx context.Context, key string, receipt *scanning.Receipt, ttl time.Duration) error

	// Close releases the backing store
	Close() error
}

// CachingService serves repeated uploads from a cache
type CachingService struct {
	next  Parser
	cache Cache
	ttl   time.Duration
}

// NewCachingService wraps next with cache
func NewCachingService(next Parser, cache Cache, ttl time.Duration) *CachingService {
	return &CachingService{next: next, cache: cache, ttl: ttl}
}

// Dispatch implements Parser. Only successful results are stored, and cache
// failures never fail the request.
func (c *CachingService) Dispatch(ctx context.Context, provider string, data []byte, contentType string) (*scanning.Receipt, error) {
	key := cacheKey(provider, contentType, data)

	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache lookup failed", "provider", provider, "error", err)
	} else if ok {
		slog.Debug("Cache hit", "provider", provider, "key", key)
		return cached, nil
	}

	receipt, err := c.next.Dispatch(ctx, provider, data, contentType)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, receipt, c.ttl); err != nil {
		slog.Warn("Cache store failed", "provider", provider, "error", err)
	}
	return receipt, nil
}

// ProviderStates implements Parser
func (c *CachingService) ProviderStates(ctx context.Context) []scanning.ProviderState {
	return c.next.ProviderStates(ctx)
}

func cacheKey(provider, contentType string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{'|'})
	h.Write([]byte(contentType))
	h.Write([]byte{'|'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
