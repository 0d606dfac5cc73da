// Package config loads sitesift configuration from a yaml file with
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the pipeline.
type Config struct {
	SurrealDB SurrealDBConfig `yaml:"surrealdb"`
	Blob      BlobConfig      `yaml:"blob"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Batch     BatchConfig     `yaml:"batch"`
	Poll      PollConfig      `yaml:"poll"`
	Check     CheckConfig     `yaml:"check"`
	Log       LogConfig       `yaml:"log"`
}

// SurrealDBConfig holds the durable store connection settings.
type SurrealDBConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	Username  string `yaml:"user"`
	Password  string `yaml:"pass"`
	AuthLevel string `yaml:"auth_level"` // "root" or "database"
}

// BlobConfig holds the S3 blob store settings and key prefixes.
type BlobConfig struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	CrawledPrefix   string `yaml:"crawled_prefix"`
	RequestsPrefix  string `yaml:"requests_prefix"`
	ResponsesPrefix string `yaml:"responses_prefix"`
	AnswersPrefix   string `yaml:"answers_prefix"`
	TablesPrefix    string `yaml:"tables_prefix"`
}

// OpenAIConfig holds Batch API settings.
type OpenAIConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"-"` // env only, never from file
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	MaxInputTokens   int     `yaml:"max_input_tokens"`
	CompletionWindow string  `yaml:"completion_window"`
}

// BatchConfig bounds request batches. Both limits apply independently.
type BatchConfig struct {
	MaxItems int `yaml:"max_items"`
	MaxBytes int `yaml:"max_bytes"`
}

// PollConfig drives the polling state machine.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Concurrency int           `yaml:"concurrency"`
}

// CheckConfig configures the synchronous spot-check model.
type CheckConfig struct {
	Provider     string `yaml:"provider"` // ollama | openai | anthropic | bedrock
	Model        string `yaml:"model"`
	OllamaHost   string `yaml:"ollama_host"`
	AnthropicKey string `yaml:"-"` // env only
}

// LogConfig controls the slog fanout.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// DefaultConfigFile is looked up in the working directory when no --config
// flag is given.
const DefaultConfigFile = "sitesift.yaml"

// Load builds the configuration: defaults, then the yaml file at path (if
// it exists), then environment overrides. An empty path falls back to
// DefaultConfigFile; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults + env only
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		SurrealDB: SurrealDBConfig{
			URL:       "ws://localhost:8000/rpc",
			Namespace: "sitesift",
			Database:  "pipeline",
			Username:  "root",
			Password:  "root",
			AuthLevel: "root",
		},
		Blob: BlobConfig{
			Region:          "eu-west-1",
			CrawledPrefix:   "crawler-results/processed/",
			RequestsPrefix:  "batch/requests/",
			ResponsesPrefix: "batch/responses/",
			AnswersPrefix:   "answers",
			TablesPrefix:    "tables",
		},
		OpenAI: OpenAIConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			Temperature:      0.1,
			MaxTokens:        800,
			MaxInputTokens:   2000,
			CompletionWindow: "24h",
		},
		Batch: BatchConfig{
			MaxItems: 1000,
			MaxBytes: 180 << 20, // Batch API rejects input files over 200MB
		},
		Poll: PollConfig{
			Interval:    5 * time.Minute,
			MaxWait:     26 * time.Hour,
			Concurrency: 4,
		},
		Check: CheckConfig{
			Provider:   "ollama",
			Model:      "llama3.1",
			OllamaHost: "http://localhost:11434",
		},
		Log: LogConfig{
			File:  "/tmp/sitesift.log",
			Level: "INFO",
		},
	}
}

func applyEnv(cfg *Config) {
	setStr(&cfg.SurrealDB.URL, "SITESIFT_SURREALDB_URL")
	setStr(&cfg.SurrealDB.Namespace, "SITESIFT_SURREALDB_NAMESPACE")
	setStr(&cfg.SurrealDB.Database, "SITESIFT_SURREALDB_DATABASE")
	setStr(&cfg.SurrealDB.Username, "SITESIFT_SURREALDB_USER")
	setStr(&cfg.SurrealDB.Password, "SITESIFT_SURREALDB_PASS")
	setStr(&cfg.Blob.Region, "AWS_REGION")
	setStr(&cfg.Blob.Bucket, "SITESIFT_BUCKET")
	setStr(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.OpenAI.Model, "SITESIFT_MODEL")
	setStr(&cfg.Check.OllamaHost, "OLLAMA_HOST")
	setStr(&cfg.Check.AnthropicKey, "ANTHROPIC_API_KEY")
	setStr(&cfg.Log.File, "SITESIFT_LOG_FILE")
	setStr(&cfg.Log.Level, "SITESIFT_LOG_LEVEL")
	setInt(&cfg.Batch.MaxItems, "SITESIFT_BATCH_MAX_ITEMS")
	setInt(&cfg.Batch.MaxBytes, "SITESIFT_BATCH_MAX_BYTES")
	setInt(&cfg.Poll.Concurrency, "SITESIFT_POLL_CONCURRENCY")
}

func setStr(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// LogLevel parses the configured level string.
func (c LogConfig) LogLevel() slog.Level {
	switch strings.ToUpper(c.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
