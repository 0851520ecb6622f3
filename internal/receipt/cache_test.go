package receipt

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/scanning"
)

// mockCache is a mock implementation of Cache
type mockCache struct {
	entries map[string]*scanning.Receipt
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newMockCache() *mockCache {
	return &mockCache{
		entries: make(map[string]*scanning.Receipt),
		ttls:    make(map[string]time.Duration),
	}
}

func (m *mockCache) Get(ctx context.Context, key string) (*scanning.Receipt, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.entries[key]
	return r, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, receipt *scanning.Receipt, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = receipt
	m.ttls[key] = ttl
	return nil
}

func (m *mockCache) Close() error {
	return nil
}

var _ = Describe("CachingService", func() {
	var (
		provider *mockProvider
		cache    *mockCache
		caching  *CachingService
	)

	dispatch := func(data string) (*scanning.Receipt, error) {
		return caching.Dispatch(context.Background(), "gemini", []byte(data), "image/png")
	}

	BeforeEach(func() {
		provider = newMockProvider("gemini")
		cache = newMockCache()
		caching = NewCachingService(NewService(NewRegistry(provider)), cache, time.Hour)
	})

	When("the same image is parsed twice", func() {
		It("should call the provider once", func() {
			first, err := dispatch("image")
			Expect(err).NotTo(HaveOccurred())
			second, err := dispatch("image")
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(provider.calls).To(Equal(1))
		})

		It("should store the result with the configured ttl", func() {
			_, err := dispatch("image")
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.ttls).To(HaveLen(1))
			for _, ttl := range cache.ttls {
				Expect(ttl).To(Equal(time.Hour))
			}
		})
	})

	When("different images are parsed", func() {
		It("should call the provider for each", func() {
			_, _ = dispatch("one")
			_, _ = dispatch("two")
			Expect(provider.calls).To(Equal(2))
		})
	})

	When("parsing fails", func() {
		BeforeEach(func() {
			provider.err = fault.New(fault.MalformedResponse, "model returned text")
		})

		It("should not store anything", func() {
			_, err := dispatch("image")
			Expect(err).To(MatchError(fault.ErrMalformedResponse))
			Expect(cache.entries).To(BeEmpty())
		})
	})

	When("the cache is broken", func() {
		BeforeEach(func() {
			cache.getErr = errors.New("connection refused")
			cache.setErr = errors.New("connection refused")
		})

		It("should still parse", func() {
			receipt, err := dispatch("image")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.Total).To(Equal(12.34))
		})
	})

	It("should pass provider states through", func() {
		Expect(caching.ProviderStates(context.Background())).To(HaveLen(1))
	})

	Describe("cacheKey", func() {
		It("should depend on the provider, type and bytes", func() {
			base := cacheKey("gemini", "image/png", []byte("a"))
			Expect(cacheKey("gemini", "image/png", []byte("a"))).To(Equal(base))
			Expect(cacheKey("local", "image/png", []byte("a"))).NotTo(Equal(base))
			Expect(cacheKey("gemini", "image/jpeg", []byte("a"))).NotTo(Equal(base))
			Expect(cacheKey("gemini", "image/png", []byte("b"))).NotTo(Equal(base))
		})
	})
})
