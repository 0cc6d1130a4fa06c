package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo holds basic information about the application.
type AppInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"` // "development" or "production"
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"` // listen address, e.g. ":8080"
}

// AuthConfig configures bearer-token issuance and verification.
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"` // HMAC secret shared with the ticket backend
	TokenTTL  int    `yaml:"tokenTTL"`  // token lifetime in seconds
}

// MySQLConfig holds the connection settings for the relational store.
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// RAGConfig configures the ingestion pipeline and the vector index.
type RAGConfig struct {
	DocumentDir  string `yaml:"documentDir"`  // directory scanned for source PDFs
	IndexDir     string `yaml:"indexDir"`     // root of the persisted vector index
	Collection   string `yaml:"collection"`   // vector collection name
	ChunkSize    int    `yaml:"chunkSize"`    // target passage length in characters
	ChunkOverlap int    `yaml:"chunkOverlap"` // overlap between neighboring passages
	TopK         int    `yaml:"topK"`         // passages returned per query
	FetchK       int    `yaml:"fetchK"`       // candidate pool before MMR re-ranking
	LockTimeout  int    `yaml:"lockTimeout"`  // seconds to wait for the rebuild lock
}

// GeminiConfig holds the settings for a Google Gemini model.
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// OpenAIConfig holds the settings for an OpenAI model.
type OpenAIConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// LLMConfig selects and configures the answer-generation provider.
type LLMConfig struct {
	Provider string       `yaml:"provider"` // "gemini" or "openai"
	Gemini   GeminiConfig `yaml:"gemini"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"` // "gemini" or "openai"
	Gemini   GeminiConfig `yaml:"gemini"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	App       AppInfo         `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	RAG       RAGConfig       `yaml:"rag"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.RAG.DocumentDir == "" {
		c.RAG.DocumentDir = "./pdf_files"
	}
	if c.RAG.IndexDir == "" {
		c.RAG.IndexDir = "./index_db"
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "manuals"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 150
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.FetchK == 0 {
		c.RAG.FetchK = 20
	}
	if c.RAG.LockTimeout == 0 {
		c.RAG.LockTimeout = 30
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 3600
	}
}
