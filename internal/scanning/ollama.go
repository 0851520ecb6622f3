package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// GenerationOptions are the decoding settings for local inference
type GenerationOptions struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// DefaultGenerationOptions keeps decoding close to greedy
var DefaultGenerationOptions = GenerationOptions{
	Temperature: 0.1,
	TopP:        0.9,
	TopK:        40,
	MaxTokens:   512,
}

// Ollama is a local generation engine served by an Ollama daemon
type Ollama struct {
	client    *api.Client
	baseURL   *url.URL
	model     string
	keepAlive time.Duration
	options   GenerationOptions
}

// NewOllama creates an engine for model on the daemon at baseURL
func NewOllama(baseURL, model string, opts GenerationOptions, keepAlive time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama url: %w", err)
	}

	return &Ollama{
		client:    api.NewClient(u, http.DefaultClient),
		baseURL:   u,
		model:     model,
		keepAlive: keepAlive,
		options:   opts,
	}, nil
}

// Model returns the model name
func (o *Ollama) Model() string {
	return o.model
}

// Check reports whether the engine is configured well enough to be called.
// It does not contact the daemon; reachability is found out by Load.
func (o *Ollama) Check(context.Context) error {
	switch o.baseURL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("ollama url %q must be http or https", o.baseURL)
	}
	if o.baseURL.Host == "" {
		return fmt.Errorf("ollama url %q has no host", o.baseURL)
	}
	return nil
}

// Load makes sure the model exists and is resident, then returns a handle to it
func (o *Ollama) Load(ctx context.Context) (Generator, error) {
	if _, err := o.client.Show(ctx, &api.ShowRequest{Model: o.model}); err != nil {
		return nil, fmt.Errorf("model %q not present: %w", o.model, err)
	}

	// a request without a prompt only loads the model into memory
	stream := false
	req := &api.GenerateRequest{
		Model:     o.model,
		Stream:    &stream,
		KeepAlive: o.keepAliveDuration(),
	}
	if err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return nil, fmt.Errorf("loading model %q: %w", o.model, err)
	}

	return &ollamaModel{engine: o}, nil
}

func (o *Ollama) keepAliveDuration() *api.Duration {
	if o.keepAlive == 0 {
		return nil
	}
	return &api.Duration{Duration: o.keepAlive}
}

// ollamaModel is a loaded model handle
type ollamaModel struct {
	engine *Ollama
}

// Generate runs one JSON-constrained completion
func (m *ollamaModel) Generate(ctx context.Context, prompt string) (string, error) {
	o := m.engine
	stream := false
	req := &api.GenerateRequest{
		Model:     o.model,
		Prompt:    prompt,
		Format:    json.RawMessage(`"json"`),
		Stream:    &stream,
		KeepAlive: o.keepAliveDuration(),
		Options: map[string]any{
			"temperature": o.options.Temperature,
			"top_p":       o.options.TopP,
			"top_k":       o.options.TopK,
			"num_predict": o.options.MaxTokens,
			"seed":        0,
		},
	}

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
