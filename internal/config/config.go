// Package config 负责加载和管理应用程序的配置。
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"secure-rag-go/pkg/errs"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// EnvPrefix 环境变量前缀，例如 SECURERAG_ENCRYPTION_KEY_HEX。
const EnvPrefix = "SECURERAG"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Encryption    EncryptionConfig    `mapstructure:"encryption"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	LLM           LLMConfig           `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 连接配置，仅在 vector_store.backend=elasticsearch 时使用。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"` // hosted | local
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VectorStoreConfig 存储外部向量库的配置。
type VectorStoreConfig struct {
	Backend          string `mapstructure:"backend"` // http | elasticsearch
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	IndexName        string `mapstructure:"index_name"`
	SimilarityMetric string `mapstructure:"similarity_metric"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// RetrievalConfig 存储分块与检索相关的参数。
type RetrievalConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	MaxContextChunks    int     `mapstructure:"max_context_chunks"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// EncryptionConfig 存储向量加密配置。KeyHex 为 64 位十六进制（256 bit）。
type EncryptionConfig struct {
	KeyHex      string `mapstructure:"key_hex"`
	Algorithm   string `mapstructure:"algorithm"`
	EncryptText bool   `mapstructure:"encrypt_text"`
}

// String 避免密钥随配置一起被打印。
func (c EncryptionConfig) String() string {
	return fmt.Sprintf("{KeyHex:[REDACTED] Algorithm:%s EncryptText:%t}", c.Algorithm, c.EncryptText)
}

// GoString 与 String 相同，覆盖 %#v。
func (c EncryptionConfig) GoString() string { return c.String() }

// IngestConfig 控制异步入库的调度方式。
type IngestConfig struct {
	Mode    string `mapstructure:"mode"` // kafka | inprocess
	Workers int    `mapstructure:"workers"`
	Buffer  int    `mapstructure:"buffer"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	StreamBuffer   int                 `mapstructure:"stream_buffer"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules    string `mapstructure:"rules"`
	RefStart string `mapstructure:"ref_start"`
	RefEnd   string `mapstructure:"ref_end"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "document-ingest")
	v.SetDefault("kafka.group_id", "secure-rag-ingest")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("embedding.provider", "hosted")
	v.SetDefault("embedding.max_concurrent", 5)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("vector_store.backend", "http")
	v.SetDefault("vector_store.similarity_metric", "cosine")
	v.SetDefault("vector_store.timeout_seconds", 30)
	v.SetDefault("retrieval.chunk_size", 1000)
	v.SetDefault("retrieval.chunk_overlap", 200)
	v.SetDefault("retrieval.max_context_chunks", 5)
	v.SetDefault("retrieval.similarity_threshold", 0.7)
	v.SetDefault("encryption.algorithm", "aes-256-gcm")
	v.SetDefault("encryption.encrypt_text", true)
	v.SetDefault("ingest.mode", "inprocess")
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.buffer", 64)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.stream_buffer", 16)
}

// Load 从指定路径读取 YAML 配置，叠加默认值与 SECURERAG_ 前缀的环境变量，并校验。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥通常只通过环境变量注入，显式绑定以保证 Unmarshal 能读到。
	for _, key := range []string{"encryption.key_hex", "embedding.api_key", "vector_store.api_key", "llm.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, errs.Configuration("config.Load", err)
		}
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Configuration("config.Load", fmt.Errorf("读取配置文件失败: %w", err))
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errs.Configuration("config.Load", fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Init 初始化全局配置，失败时直接 panic（启动期致命错误）。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *c
}

// Validate 检查检索核心依赖的配置项。
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch c.Embedding.Provider {
	case "hosted", "local":
	default:
		return errs.Newf(errs.ErrConfiguration, op, "unsupported embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return errs.Newf(errs.ErrConfiguration, op, "embedding.dimensions must be positive")
	}
	if c.Embedding.MaxConcurrent <= 0 {
		return errs.Newf(errs.ErrConfiguration, op, "embedding.max_concurrent must be positive")
	}

	switch c.VectorStore.Backend {
	case "http", "elasticsearch":
	default:
		return errs.Newf(errs.ErrConfiguration, op, "unsupported vector store backend %q", c.VectorStore.Backend)
	}
	if c.VectorStore.IndexName == "" {
		return errs.Newf(errs.ErrConfiguration, op, "vector_store.index_name is required")
	}

	r := c.Retrieval
	if r.ChunkSize <= 0 {
		return errs.Newf(errs.ErrConfiguration, op, "retrieval.chunk_size must be positive")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return errs.Newf(errs.ErrConfiguration, op, "retrieval.chunk_overlap must be in [0, chunk_size)")
	}
	if r.MaxContextChunks <= 0 {
		return errs.Newf(errs.ErrConfiguration, op, "retrieval.max_context_chunks must be positive")
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return errs.Newf(errs.ErrConfiguration, op, "retrieval.similarity_threshold must be in [0,1]")
	}

	if err := c.Encryption.ValidateKey(); err != nil {
		return err
	}

	switch c.Ingest.Mode {
	case "kafka", "inprocess":
	default:
		return errs.Newf(errs.ErrConfiguration, op, "unsupported ingest mode %q", c.Ingest.Mode)
	}
	return nil
}

// ValidateKey 检查密钥是否为 64 个十六进制字符。错误信息中不包含密钥内容。
func (c EncryptionConfig) ValidateKey() error {
	const op = "config.ValidateKey"
	if c.KeyHex == "" {
		return errs.Newf(errs.ErrConfiguration, op, "encryption key is missing (set encryption.key_hex or %s_ENCRYPTION_KEY_HEX)", EnvPrefix)
	}
	key, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return errs.Newf(errs.ErrConfiguration, op, "encryption key is not valid hex")
	}
	if len(key) != 32 {
		return errs.Newf(errs.ErrConfiguration, op, "encryption key must be 256 bits, got %d bits", len(key)*8)
	}
	return nil
}
