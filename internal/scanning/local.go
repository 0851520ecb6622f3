package scanning

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/receipt-parser/internal/fault"
)

// LocalName is the registry key of the local back end
const LocalName = "local"

// Normalizer prepares a receipt photo for recognition
type Normalizer interface {
	Normalize(raw []byte) (*image.Gray, error)
}

// Recognizer reads text from a normalized image
type Recognizer interface {
	Recognize(ctx context.Context, img *image.Gray) (string, error)
}

// Generator is a loaded local model
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Engine hosts local models
type Engine interface {
	Check(ctx context.Context) error
	Load(ctx context.Context) (Generator, error)
}

// Check is one readiness condition of the local back end
type Check struct {
	// Reason prefixes the error when the check fails
	Reason string
	Run    func(ctx context.Context) error
}

// LocalConfig holds the local back end settings
type LocalConfig struct {
	Model       string
	Timeout     time.Duration
	Parallelism int64
}

// Local is the OCR plus local-model back end
type Local struct {
	normalizer Normalizer
	recognizer Recognizer
	engine     Engine
	checks     []Check
	model      string
	timeout    time.Duration

	readyOnce sync.Once
	readiness Readiness

	mu        sync.Mutex
	generator Generator

	// inference slots; one by default so calls into the model are serialized
	slots *semaphore.Weighted
}

// NewLocal creates the local back end. checks run in order on the first
// availability check and the first failure supplies the reason.
func NewLocal(normalizer Normalizer, recognizer Recognizer, engine Engine, checks []Check, cfg LocalConfig) *Local {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Local{
		normalizer: normalizer,
		recognizer: recognizer,
		engine:     engine,
		checks:     checks,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		slots:      semaphore.NewWeighted(cfg.Parallelism),
	}
}

// Name implements Provider
func (l *Local) Name() string { return LocalName }

// Kind implements Provider
func (l *Local) Kind() Kind { return KindLocal }

// ModelID implements Provider
func (l *Local) ModelID() string { return l.model }

// CheckAvailable implements Provider. The first result is kept for the life
// of the process.
func (l *Local) CheckAvailable(ctx context.Context) Readiness {
	l.readyOnce.Do(func() {
		l.readiness = l.runChecks(ctx)
		if !l.readiness.Ready {
			slog.Warn("Local provider unavailable", "reason", l.readiness.Reason)
		}
	})
	return l.readiness
}

func (l *Local) runChecks(ctx context.Context) Readiness {
	for _, c := range l.checks {
		if err := c.Run(ctx); err != nil {
			return Unavailable(c.Reason + ": " + err.Error())
		}
	}
	return Ready()
}

// Parse normalizes the image, reads its text and asks the local model for JSON
func (l *Local) Parse(ctx context.Context, imageData []byte, contentType string) (*Receipt, error) {
	if r := l.CheckAvailable(ctx); !r.Ready {
		return nil, fault.New(fault.ProviderUnavailable, "local provider unavailable: %s", r.Reason)
	}

	start := time.Now()
	gray, err := l.normalizer.Normalize(imageData)
	if err != nil {
		return nil, err
	}

	text, err := l.recognizer.Recognize(ctx, gray)
	if err != nil {
		return nil, err
	}
	slog.Info("Recognized receipt text", "chars", len(text), "elapsed", time.Since(start))

	generator, err := l.loadGenerator(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.ProviderUnavailable, err, "loading local model")
	}

	raw, err := l.generate(ctx, generator, localPrompt(text))
	if err != nil {
		return nil, err
	}

	return parseReceiptJSON(raw)
}

// loadGenerator returns the model handle, loading it on first use. The load
// is bounded by the inference timeout. A failed load is not remembered, so
// the next call tries again.
func (l *Local) loadGenerator(ctx context.Context) (Generator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generator != nil {
		return l.generator, nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	slog.Info("Loading local model", "model", l.model)
	generator, err := l.engine.Load(ctx)
	if err != nil {
		return nil, err
	}
	l.generator = generator
	return generator, nil
}

func (l *Local) generate(ctx context.Context, generator Generator, prompt string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.slots.Acquire(ctx, 1); err != nil {
		return "", fault.Wrap(fault.ProviderUnavailable, err, "waiting for local model")
	}
	defer l.slots.Release(1)

	raw, err := generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fault.Wrap(fault.ProviderUnavailable, err, "local inference timed out")
		}
		return "", fault.Wrap(fault.ExtractionFailed, err, "local inference")
	}
	return raw, nil
}
