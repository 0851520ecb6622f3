// Package config holds the service configuration file format
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole service configuration
type Config struct {
	Service string       `yaml:"service"`
	HTTP    ServerConfig `yaml:"http"`
	RPC     ServerConfig `yaml:"rpc"`
	Limits  LimitsConfig `yaml:"limits"`
	Gemini  GeminiConfig `yaml:"gemini"`
	Local   LocalConfig  `yaml:"local"`
	Cache   CacheConfig  `yaml:"cache"`
	Debug   DebugConfig  `yaml:"debug"`
	Log     LogConfig    `yaml:"log"`
	Auth    AuthConfig   `yaml:"auth"`
}

// ServerConfig is a listener address
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LimitsConfig bounds uploads
type LimitsConfig struct {
	MaxUploadMB      int64    `yaml:"max_upload_mb"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`
}

// GeminiConfig configures the remote back end
type GeminiConfig struct {
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float32       `yaml:"temperature"`
	TopP            float32       `yaml:"top_p"`
	TopK            int32         `yaml:"top_k"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
}

// LocalConfig configures the OCR plus local-model back end
type LocalConfig struct {
	OllamaHost   string        `yaml:"ollama_host"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	OCRTimeout   time.Duration `yaml:"ocr_timeout"`
	OCRLanguage  string        `yaml:"ocr_language"`
	TessdataPath string        `yaml:"tessdata_path"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	TopP         float64       `yaml:"top_p"`
	TopK         int           `yaml:"top_k"`
	Parallelism  int64         `yaml:"parallelism"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
}

// CacheConfig selects the result cache
type CacheConfig struct {
	// Backend is none, bolt or redis
	Backend   string        `yaml:"backend"`
	Path      string        `yaml:"path"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// DebugConfig controls debug output
type DebugConfig struct {
	// ArtifactsDir receives intermediate normalization images; empty disables
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AuthConfig holds basic auth credentials; empty disables auth
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Cache backends
const (
	CacheNone  = "none"
	CacheBolt  = "bolt"
	CacheRedis = "redis"
)

// Load reads the YAML file at path over the defaults. Environment variables
// in the file are expanded. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Service: "receipt-parser",
		HTTP:    ServerConfig{Addr: ":8080"},
		RPC:     ServerConfig{Addr: ":50051"},
		Limits: LimitsConfig{
			MaxUploadMB:      10,
			AllowedMIMETypes: []string{"image/jpeg", "image/png"},
		},
		Gemini: GeminiConfig{
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			Model:           "gemini-2.0-flash-001",
			Timeout:         20 * time.Second,
			Temperature:     0.1,
			TopP:            0.9,
			TopK:            40,
			MaxOutputTokens: 1024,
		},
		Local: LocalConfig{
			OllamaHost:  "http://localhost:11434",
			Model:       "phi3:mini",
			Timeout:     60 * time.Second,
			OCRTimeout:  30 * time.Second,
			OCRLanguage: "eng",
			MaxTokens:   512,
			Temperature: 0.1,
			TopP:        0.9,
			TopK:        40,
			Parallelism: 1,
			KeepAlive:   30 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:   CacheNone,
			Path:      "receipts-cache.db",
			RedisAddr: "localhost:6379",
			TTL:       24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks values that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.Limits.MaxUploadMB <= 0 {
		return fmt.Errorf("limits.max_upload_mb must be positive")
	}
	if len(c.Limits.AllowedMIMETypes) == 0 {
		return fmt.Errorf("limits.allowed_mime_types must not be empty")
	}
	switch c.Cache.Backend {
	case CacheNone, CacheBolt, CacheRedis:
	default:
		return fmt.Errorf("cache.backend must be one of none, bolt, redis; got %q", c.Cache.Backend)
	}
	if c.Local.Parallelism < 1 {
		return fmt.Errorf("local.parallelism must be at least 1")
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.Limits.MaxUploadMB << 20
}
