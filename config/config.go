package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	StorePostgres = "postgres"
	StoreQdrant   = "qdrant"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr   string `mapstructure:"server_addr" validate:"required"`
	DocumentsDir string `mapstructure:"documents_dir" validate:"required"`
	LogLevel     string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat    string `mapstructure:"log_format" validate:"oneof=text json"`

	IndexName       string        `mapstructure:"index_name" validate:"required"`
	VectorDimension int           `mapstructure:"vector_dimension" validate:"min=1"`
	ChunkSize       int           `mapstructure:"chunk_size" validate:"min=1"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
	TopK            int           `mapstructure:"top_k" validate:"min=1"`
	UpsertBatchSize int           `mapstructure:"upsert_batch_size" validate:"min=1"`
	ReadyAttempts   int           `mapstructure:"ready_attempts" validate:"min=1"`
	ReadyInterval   time.Duration `mapstructure:"ready_interval"`

	EmbeddingProvider string        `mapstructure:"embedding_provider" validate:"oneof=gemini ollama"`
	EmbedBatchSize    int           `mapstructure:"embed_batch_size" validate:"min=1,max=100"`
	EmbedFailurePause time.Duration `mapstructure:"embed_failure_pause"`
	EmbedRPS          float64       `mapstructure:"embed_rps" validate:"min=0"`
	EmbedBurst        int           `mapstructure:"embed_burst" validate:"min=0"`
	LLMProvider       string        `mapstructure:"llm_provider" validate:"oneof=gemini ollama"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`

	GoogleAPIKey          string `mapstructure:"google_api_key"`
	GeminiBaseURL         string `mapstructure:"gemini_base_url" validate:"omitempty,url"`
	GeminiEmbeddingModel  string `mapstructure:"gemini_embedding_model" validate:"required_if=EmbeddingProvider gemini"`
	GeminiGenerationModel string `mapstructure:"gemini_generation_model" validate:"required_if=LLMProvider gemini"`

	OllamaURL        string `mapstructure:"ollama_url" validate:"omitempty,url"`
	OllamaEmbedModel string `mapstructure:"ollama_embed_model" validate:"required_if=EmbeddingProvider ollama"`
	OllamaLLMModel   string `mapstructure:"ollama_llm_model" validate:"required_if=LLMProvider ollama"`

	VectorStore  string `mapstructure:"vector_store" validate:"oneof=postgres qdrant memory"`
	PGHost       string `mapstructure:"pg_host" validate:"required_if=VectorStore postgres"`
	PGPort       int    `mapstructure:"pg_port"`
	PGUser       string `mapstructure:"pg_user" validate:"required_if=VectorStore postgres"`
	PGPass       string `mapstructure:"pg_pass"`
	PGDBName     string `mapstructure:"pg_db_name" validate:"required_if=VectorStore postgres"`
	PGSSLMode    string `mapstructure:"pg_sslmode"`
	QdrantURL    string `mapstructure:"qdrant_url" validate:"required_if=VectorStore qdrant"`
	QdrantAPIKey string `mapstructure:"qdrant_api_key"`
}

var defaults = map[string]any{
	"server_addr":   ":8000",
	"documents_dir": "data/",
	"log_level":     "info",
	"log_format":    "text",

	"index_name":        "rag-chatbot-index",
	"vector_dimension":  768,
	"chunk_size":        1000,
	"chunk_overlap":     100,
	"top_k":             5,
	"upsert_batch_size": 100,
	"ready_attempts":    30,
	"ready_interval":    "1s",

	"embedding_provider":  ProviderGemini,
	"embed_batch_size":    100,
	"embed_failure_pause": "1s",
	"embed_rps":           0,
	"embed_burst":         1,
	"llm_provider":        ProviderGemini,
	"http_timeout":        "60s",

	"google_api_key":          "",
	"gemini_base_url":         "https://generativelanguage.googleapis.com",
	"gemini_embedding_model":  "text-embedding-004",
	"gemini_generation_model": "gemini-1.5-flash",

	"ollama_url":         "http://localhost:11434",
	"ollama_embed_model": "nomic-embed-text",
	"ollama_llm_model":   "llama3",

	"vector_store":   StorePostgres,
	"pg_host":        "localhost",
	"pg_port":        5432,
	"pg_user":        "postgres",
	"pg_pass":        "",
	"pg_db_name":     "rag",
	"pg_sslmode":     "disable",
	"qdrant_url":     "http://localhost:6333",
	"qdrant_api_key": "",
}

var validate = validator.New()

// Load reads envFiles (missing files are ignored) and then the environment.
// Environment variables are the upper-case keys, e.g. CHUNK_SIZE.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("env file not loaded", "file", f, "error", err)
		}
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return v
}

// FromViper decodes a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.EmbeddingProvider = strings.ToLower(cfg.EmbeddingProvider)
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	cfg.VectorStore = strings.ToLower(cfg.VectorStore)
	return &cfg, nil
}

// Validate reports every invalid or missing setting at once.
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, e := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed on '%s'", e.Field(), e.Tag()))
		}
	}
	if c.needsGoogleKey() && c.GoogleAPIKey == "" {
		problems = append(problems, "GoogleAPIKey is required for the gemini provider")
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

func (c *Config) needsGoogleKey() bool {
	return c.EmbeddingProvider == ProviderGemini || c.LLMProvider == ProviderGemini
}

// PostgresConnString builds a keyword/value DSN for pgx.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName, c.PGSSLMode)
}

func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
