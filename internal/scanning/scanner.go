package scanning

import "context"

// Kind tells remote and local back ends apart
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// Readiness is the outcome of an availability check
type Readiness struct {
	Ready  bool
	Reason string
}

// Ready reports a back end that can parse
func Ready() Readiness {
	return Readiness{Ready: true}
}

// Unavailable reports a back end that cannot parse, and why
func Unavailable(reason string) Readiness {
	return Readiness{Reason: reason}
}

// ProviderState is a point-in-time snapshot of one back end
type ProviderState struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Provider defines the interface for receipt extraction back ends
type Provider interface {
	// Name is the unique registry key
	Name() string
	// Kind reports whether the back end is remote or local
	Kind() Kind
	// ModelID names the generation model, or "" when there is none
	ModelID() string
	// CheckAvailable reports whether Parse can be called
	CheckAvailable(ctx context.Context) Readiness
	// Parse extracts a validated receipt from image bytes
	Parse(ctx context.Context, imageData []byte, contentType string) (*Receipt, error)
}

// StateOf takes a snapshot of p
func StateOf(ctx context.Context, p Provider) ProviderState {
	r := p.CheckAvailable(ctx)
	return ProviderState{
		Name:      p.Name(),
		Kind:      p.Kind(),
		Available: r.Ready,
		Reason:    r.Reason,
		Model:     p.ModelID(),
	}
}
