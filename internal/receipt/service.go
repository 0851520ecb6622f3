package receipt

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/scanning"
)

const parseFailedMessage = "failed to parse receipt"

// Parser is what the transports call into
type Parser interface {
	// Dispatch routes the image to the named provider
	Dispatch(ctx context.Context, provider string, data []byte, contentType string) (*scanning.Receipt, error)

	// ProviderStates reports every registered provider
	ProviderStates(ctx context.Context) []scanning.ProviderState
}

// Service handles receipt extraction requests
type Service struct {
	registry *Registry
}

// NewService creates a new Service
func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// Dispatch resolves the provider, checks it is ready and parses the image.
// Typed faults pass through; anything else becomes ExtractionFailed.
func (s *Service) Dispatch(ctx context.Context, name string, data []byte, contentType string) (receipt *scanning.Receipt, err error) {
	provider, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if r := provider.CheckAvailable(ctx); !r.Ready {
		return nil, fault.New(fault.ProviderUnavailable, "provider %q unavailable: %s", name, r.Reason).
			WithDetail("provider", name).
			WithDetail("reason", r.Reason)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Provider panicked",
				"provider", name,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			receipt, err = nil, fault.New(fault.ExtractionFailed, parseFailedMessage)
		}
	}()

	start := time.Now()
	receipt, err = provider.Parse(ctx, data, contentType)
	if err != nil {
		if fe, ok := fault.As(err); ok {
			slog.Warn("Provider returned an error",
				"provider", name,
				"kind", fe.Kind.String(),
				"error", err,
			)
			return nil, err
		}
		// Log the full cause; callers only see the generic message
		slog.Error("Failed to parse receipt",
			"provider", name,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fault.New(fault.ExtractionFailed, parseFailedMessage)
	}

	slog.Info("Parsed receipt",
		"provider", name,
		"items", len(receipt.Items),
		"elapsed", time.Since(start),
	)
	return receipt, nil
}

// ProviderStates returns a fresh snapshot of every provider
func (s *Service) ProviderStates(ctx context.Context) []scanning.ProviderState {
	providers := s.registry.All()
	states := make([]scanning.ProviderState, 0, len(providers))
	for _, p := range providers {
		states = append(states, scanning.StateOf(ctx, p))
	}
	return states
}
