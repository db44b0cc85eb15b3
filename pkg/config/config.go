package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Brand        BrandConfig
	Catalog      CatalogConfig
	Scope        ScopeConfig
	LLM          LLMConfig
	Vertex       VertexConfig
	Vision       VisionConfig
	Embedding    EmbeddingConfig
	Milvus       MilvusConfig
	Retrieval    RetrievalConfig
	Redis        RedisConfig
	Conversation ConversationConfig
	SQLite       SQLiteConfig
	Mongo        MongoConfig
	Neo4j        Neo4jConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	CORSOrigins  string
	Environment  string
}

type BrandConfig struct {
	ID   string
	Name string
}

type CatalogConfig struct {
	Path string
}

type ScopeConfig struct {
	IndicatorsPath string
}

type LLMConfig struct {
	Provider    string
	Model       string
	VisionModel string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type VertexConfig struct {
	ProjectID string
	Location  string
}

type VisionConfig struct {
	Enabled             bool
	MaxImages           int
	MaxImageBytes       int
	DefaultConfidence   float64
	LowConfidenceCutoff float64
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
	OllamaURL string
	CacheTTL  int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	IndexType      string
}

type RetrievalConfig struct {
	Enabled      bool
	TopK         int
	TimeoutSec   int
	MaxChunkSize int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type ConversationConfig struct {
	Backend      string
	HistoryLimit int
}

type SQLiteConfig struct {
	Path string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type RateLimitConfig struct {
	Rate     float64
	Capacity int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/product-agent")

	viper.SetEnvPrefix("PRODUCT_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "vertex":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embedding provider %q", c.Embedding.Provider)
	}
	switch c.Conversation.Backend {
	case "sqlite", "mongo", "memory":
	default:
		return fmt.Errorf("unsupported conversation backend %q", c.Conversation.Backend)
	}
	if c.Vision.MaxImages < 1 {
		return fmt.Errorf("vision.maxImages must be positive, got %d", c.Vision.MaxImages)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", c.Retrieval.TopK)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 31457280)
	viper.SetDefault("server.corsOrigins", "*")
	viper.SetDefault("server.environment", "production")

	viper.SetDefault("brand.id", "default")
	viper.SetDefault("brand.name", "Product Assistant")

	viper.SetDefault("catalog.path", "./data/products.json")
	viper.SetDefault("scope.indicatorsPath", "./data/scope.yaml")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.visionModel", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 1000)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("vertex.location", "us-central1")

	viper.SetDefault("vision.enabled", true)
	viper.SetDefault("vision.maxImages", 3)
	viper.SetDefault("vision.maxImageBytes", 8388608)
	viper.SetDefault("vision.defaultConfidence", 0.7)
	viper.SetDefault("vision.lowConfidenceCutoff", 0.6)

	viper.SetDefault("embedding.provider", "ollama")
	viper.SetDefault("embedding.model", "all-minilm")
	viper.SetDefault("embedding.dimension", 384)
	viper.SetDefault("embedding.ollamaURL", "http://localhost:11434")
	viper.SetDefault("embedding.cacheTTL", 86400)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "product_manuals")
	viper.SetDefault("milvus.indexType", "IVF_FLAT")

	viper.SetDefault("retrieval.enabled", true)
	viper.SetDefault("retrieval.topK", 3)
	viper.SetDefault("retrieval.timeoutSec", 30)
	viper.SetDefault("retrieval.maxChunkSize", 1200)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("conversation.backend", "sqlite")
	viper.SetDefault("conversation.historyLimit", 6)

	viper.SetDefault("sqlite.path", "./data/conversations.db")

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "product_agent")
	viper.SetDefault("mongo.collection", "conversations")

	viper.SetDefault("neo4j.enabled", false)
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("ratelimit.rate", 2.0)
	viper.SetDefault("ratelimit.capacity", 20)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
	viper.SetDefault("logging.maxSizeMB", 100)
	viper.SetDefault("logging.maxBackups", 5)
	viper.SetDefault("logging.maxAgeDays", 28)
}
