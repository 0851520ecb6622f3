package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zombor/receipt-parser/internal/config"
	"github.com/zombor/receipt-parser/internal/normalize"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/receipt"
	"github.com/zombor/receipt-parser/internal/scanning"
	"github.com/zombor/receipt-parser/internal/storage"
)

// app holds the wired dependencies and what must be closed on exit
type app struct {
	parser  receipt.Parser
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// newLogger builds the process logger. JSON output is used when asked for
// or when a log shipper is configured.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.JSON || os.Getenv("OTLP_ENDPOINT") != "" || os.Getenv("LOKI_URL") != "" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", cfg.Service)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	// Remote back end
	slog.Info("Initializing Gemini provider...", "model", cfg.Gemini.Model)
	gemini := scanning.NewGemini(scanning.GeminiConfig{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		Timeout:         cfg.Gemini.Timeout,
		Temperature:     cfg.Gemini.Temperature,
		TopP:            cfg.Gemini.TopP,
		TopK:            cfg.Gemini.TopK,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	})
	a.closers = append(a.closers, gemini)

	// Local back end
	local, err := buildLocal(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := receipt.NewRegistry(gemini, local)
	for _, state := range receipt.NewService(registry).ProviderStates(ctx) {
		slog.Info("Provider registered",
			"name", state.Name,
			"kind", state.Kind,
			"available", state.Available,
			"reason", state.Reason,
			"model", state.Model,
		)
	}

	var parser receipt.Parser = receipt.NewService(registry)
	cache, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cache != nil {
		a.closers = append(a.closers, cache)
		parser = receipt.NewCachingService(parser, cache, cfg.Cache.TTL)
	}
	a.parser = parser

	return a, nil
}

func buildLocal(cfg *config.Config) (*scanning.Local, error) {
	var opts []normalize.Option
	if cfg.Debug.ArtifactsDir != "" {
		sink, err := storage.NewLocalStorage(cfg.Debug.ArtifactsDir)
		if err != nil {
			return nil, fmt.Errorf("initializing debug artifacts: %w", err)
		}
		slog.Info("Writing normalization artifacts", "dir", cfg.Debug.ArtifactsDir)
		opts = append(opts, normalize.WithArtifactSink(sink))
	}
	normalizer := normalize.New(opts...)

	tesseract := ocr.NewTesseract(cfg.Local.OCRLanguage, cfg.Local.TessdataPath, cfg.Local.OCRTimeout)

	slog.Info("Initializing local provider...", "url", cfg.Local.OllamaHost, "model", cfg.Local.Model)
	engine, err := scanning.NewOllama(cfg.Local.OllamaHost, cfg.Local.Model, scanning.GenerationOptions{
		Temperature: cfg.Local.Temperature,
		TopP:        cfg.Local.TopP,
		TopK:        cfg.Local.TopK,
		MaxTokens:   cfg.Local.MaxTokens,
	}, cfg.Local.KeepAlive)
	if err != nil {
		return nil, fmt.Errorf("initializing ollama: %w", err)
	}

	checks := []scanning.Check{
		{Reason: "text recognition engine unavailable", Run: func(context.Context) error { return tesseract.Check() }},
		{Reason: "image libraries unavailable", Run: normalize.Check},
		{Reason: "generation engine unavailable", Run: engine.Check},
	}

	return scanning.NewLocal(normalizer, tesseract, engine, checks, scanning.LocalConfig{
		Model:       engine.Model(),
		Timeout:     cfg.Local.Timeout,
		Parallelism: cfg.Local.Parallelism,
	}), nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (receipt.Cache, error) {
	switch cfg.Backend {
	case config.CacheBolt:
		slog.Info("Initializing result cache...", "backend", cfg.Backend, "path", cfg.Path)
		cache, err := receipt.NewBoltCache(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing bolt cache: %w", err)
		}
		return cache, nil
	case config.CacheRedis:
		slog.Info("Initializing result cache...", "backend", cfg.Backend, "addr", cfg.RedisAddr)
		cache, err := receipt.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cache: %w", err)
		}
		return cache, nil
	case config.CacheNone, "":
		return nil, nil
	default:
		return nil, errors.New("unknown cache backend " + cfg.Backend)
	}
}
