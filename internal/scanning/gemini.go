package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-parser/internal/fault"
)

const (
	// GeminiName is the registry key of the remote back end
	GeminiName = "gemini"
	// DefaultGeminiModel is used when no model is configured
	DefaultGeminiModel = "gemini-2.0-flash-001"

	missingKeyReason = "missing or invalid GEMINI_API_KEY"
)

// GeminiConfig holds the remote back end settings
type GeminiConfig struct {
	APIKey          string
	Model           string
	Timeout         time.Duration
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
}

// ContentGenerator is the part of *genai.GenerativeModel the back end uses
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// receiptSchema constrains the remote model's JSON output to the Receipt shape
var receiptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"merchant": {Type: genai.TypeString, Nullable: true},
		"date":     {Type: genai.TypeString, Nullable: true, Description: "YYYY-MM-DD with no time"},
		"total":    {Type: genai.TypeNumber},
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":  {Type: genai.TypeString},
					"price": {Type: genai.TypeNumber},
					"qty":   {Type: genai.TypeNumber},
				},
				Required: []string{"name", "price", "qty"},
			},
		},
	},
	Required: []string{"total", "items"},
}

// Gemini is the remote back end backed by Google Gemini
type Gemini struct {
	client    *genai.Client
	model     ContentGenerator
	modelName string
	timeout   time.Duration
	reason    string
}

// NewGemini creates the remote back end. It never fails: a missing key or a
// client that cannot be built leaves the back end permanently unavailable.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	g := &Gemini{modelName: cfg.Model, timeout: cfg.Timeout}

	if strings.TrimSpace(cfg.APIKey) == "" {
		g.reason = missingKeyReason
		return g
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		slog.Warn("Failed to create gemini client", "error", err)
		g.reason = fmt.Sprintf("creating gemini client: %v", err)
		return g
	}

	model := client.GenerativeModel(cfg.Model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = receiptSchema
	if cfg.Temperature > 0 {
		model.SetTemperature(cfg.Temperature)
	}
	if cfg.TopP > 0 {
		model.SetTopP(cfg.TopP)
	}
	if cfg.TopK > 0 {
		model.SetTopK(cfg.TopK)
	}
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}

	g.client = client
	g.model = model
	return g
}

// NewGeminiWithModel creates a remote back end around an existing generator for testing
func NewGeminiWithModel(model ContentGenerator, modelName string, timeout time.Duration) *Gemini {
	return &Gemini{model: model, modelName: modelName, timeout: timeout}
}

// Name implements Provider
func (g *Gemini) Name() string { return GeminiName }

// Kind implements Provider
func (g *Gemini) Kind() Kind { return KindRemote }

// ModelID implements Provider
func (g *Gemini) ModelID() string { return g.modelName }

// CheckAvailable implements Provider. The answer is fixed at construction.
func (g *Gemini) CheckAvailable(context.Context) Readiness {
	if g.model == nil {
		reason := g.reason
		if reason == "" {
			reason = missingKeyReason
		}
		return Unavailable(reason)
	}
	return Ready()
}

// Parse sends the image and prompt to Gemini and parses the JSON reply
func (g *Gemini) Parse(ctx context.Context, imageData []byte, contentType string) (*Receipt, error) {
	if g.model == nil {
		return nil, fault.New(fault.ProviderUnavailable, "gemini provider not configured")
	}

	data, mimeType, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(remotePrompt),
	)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, fault.Wrap(fault.ExtractionFailed, err, "gemini blocked the request")
		}
		return nil, fault.Wrap(fault.ProviderUnavailable, err, "calling gemini")
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fault.New(fault.MalformedResponse, "no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	receipt, err := parseReceiptJSON(text.String())
	if err != nil {
		slog.Error("Gemini returned an unusable receipt", "model", g.modelName, "error", err)
		return nil, err
	}
	return receipt, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
