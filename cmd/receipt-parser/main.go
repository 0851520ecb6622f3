package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-parser/internal/config"
	"github.com/zombor/receipt-parser/internal/receipt"
	"github.com/zombor/receipt-parser/internal/rpc"
)

// Set with -ldflags "-X main.version=..."
var (
	version   = "unknown"
	buildTime = "unknown"
	gitCommit = "unknown"
	gitBranch = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("receipt-parser")
	var (
		configPath   = fs.StringLong("config", "config.yaml", "YAML configuration file")
		httpAddr     = fs.StringLong("http-addr", "", "HTTP listen address (overrides http.addr)")
		rpcAddr      = fs.StringLong("rpc-addr", "", "RPC listen address (overrides rpc.addr)")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "", "Google Gemini model name")
		ollamaHost   = fs.StringLong("ollama-host", "", "Ollama API base URL")
		localModel   = fs.StringLong("local-model", "", "Local model name (e.g., phi3:mini)")
		cacheBackend = fs.StringLong("cache", "", "Result cache: none, bolt or redis")
		artifactsDir = fs.StringLong("debug-artifacts", "", "Directory for intermediate normalization images")
		logLevel     = fs.StringLong("log-level", "", "Log level: debug, info, warn or error")
		logJSON      = fs.BoolLong("log-json", "Log as JSON")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_            = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file
	override(&cfg.HTTP.Addr, *httpAddr)
	override(&cfg.RPC.Addr, *rpcAddr)
	override(&cfg.Gemini.APIKey, *geminiKey)
	override(&cfg.Gemini.Model, *geminiModel)
	override(&cfg.Local.OllamaHost, *ollamaHost)
	override(&cfg.Local.Model, *localModel)
	override(&cfg.Cache.Backend, *cacheBackend)
	override(&cfg.Debug.ArtifactsDir, *artifactsDir)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Auth.Username, *authUser)
	override(&cfg.Auth.Password, *authPass)
	if *logJSON {
		cfg.Log.JSON = true
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg))

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func override(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting receipt parser",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"git_branch", gitBranch,
	)

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	limits := receipt.Limits{
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		AllowedMIMETypes: cfg.Limits.AllowedMIMETypes,
	}

	httpServer := receipt.NewServer(app.parser, receipt.ServerConfig{
		Auth:    receipt.BasicAuth{Username: cfg.Auth.Username, Password: cfg.Auth.Password},
		Limits:  limits,
		Version: receipt.Version{Version: version, BuildTime: buildTime, GitCommit: gitCommit, GitBranch: gitBranch},
	})
	servers := []*http.Server{
		{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		rpc.NewServer(cfg.RPC.Addr, rpc.NewReceiptParsingService(app.parser, limits, version)),
	}
	if cfg.Auth.Username != "" || cfg.Auth.Password != "" {
		slog.Info("Basic auth enabled", "user", cfg.Auth.Username)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("Server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
