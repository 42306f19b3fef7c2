// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
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

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
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

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 服务相关的配置。
// Dimensions 是全局唯一的向量维度 D：索引建立、入库校验和查询校验都以它为准。
type EmbeddingConfig struct {
	APIKey               string `mapstructure:"api_key"`
	BaseURL              string `mapstructure:"base_url"`
	Model                string `mapstructure:"model"`
	Dimensions           int    `mapstructure:"dimensions"`
	MaxRetries           int    `mapstructure:"max_retries"`
	BaseRetryDelayMs     int    `mapstructure:"base_retry_delay_ms"`
	MaxRetryDelayMs      int    `mapstructure:"max_retry_delay_ms"`
	RequestTimeoutMs     int    `mapstructure:"request_timeout_ms"`
	HealthCheckTimeoutMs int    `mapstructure:"health_check_timeout_ms"`
	HealthCheckEnabled   bool   `mapstructure:"health_check_enabled"`
}

// BaseRetryDelay 返回重试基础等待时长。
func (c EmbeddingConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMs) * time.Millisecond
}

// MaxRetryDelay 返回重试等待时长的上限。
func (c EmbeddingConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

// RequestTimeout 返回主调用的超时时长。
func (c EmbeddingConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HealthCheckTimeout 返回健康探测的独立超时时长。
func (c EmbeddingConfig) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutMs) * time.Millisecond
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// RAGConfig 存储检索与分块相关的配置。
type RAGConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	DefaultTopK         int     `mapstructure:"default_top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	OverFetchFactor     int     `mapstructure:"over_fetch_factor"`
	DedupEnabled        bool    `mapstructure:"dedup_enabled"`
	DedupPrefixLen      int     `mapstructure:"dedup_prefix_len"`
	ChatContextTopK     int     `mapstructure:"chat_context_top_k"`
}

// IngestConfig 存储摄取管道相关的配置。
type IngestConfig struct {
	Workers int `mapstructure:"workers"`
}

// ConversationConfig 存储对话历史相关的配置。
type ConversationConfig struct {
	TTLHours     int `mapstructure:"ttl_hours"`
	HistoryLimit int `mapstructure:"history_limit"`
}

// Load 从指定路径读取 YAML 配置文件并解析为 Config。
// 返回实例而不是填充包级变量，所有依赖方通过构造函数显式接收配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	normalize(&cfg)
	return &cfg, nil
}

// setDefaults 注册所有缺省值，配置文件中未出现的键回落到这里。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("kafka.group_id", "docbrain-ingest")
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.base_retry_delay_ms", 1000)
	v.SetDefault("embedding.max_retry_delay_ms", 30000)
	v.SetDefault("embedding.request_timeout_ms", 60000)
	v.SetDefault("embedding.health_check_timeout_ms", 5000)
	v.SetDefault("embedding.health_check_enabled", true)

	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 50)
	v.SetDefault("rag.default_top_k", 5)
	v.SetDefault("rag.similarity_threshold", 0.2)
	v.SetDefault("rag.over_fetch_factor", 4)
	v.SetDefault("rag.dedup_enabled", true)
	v.SetDefault("rag.dedup_prefix_len", 100)
	v.SetDefault("rag.chat_context_top_k", 5)

	v.SetDefault("ingest.workers", 4)

	v.SetDefault("conversation.ttl_hours", 168)
	v.SetDefault("conversation.history_limit", 20)
}

// normalize 修正明显越界的配置取值。
func normalize(cfg *Config) {
	// 过取系数低于 2 会让阈值过滤后的结果不足 topK。
	if cfg.RAG.OverFetchFactor < 2 {
		cfg.RAG.OverFetchFactor = 2
	}
	if cfg.Embedding.MaxRetries < 1 {
		cfg.Embedding.MaxRetries = 1
	}
	if cfg.Ingest.Workers < 1 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Kafka.MaxAttempts < 1 {
		cfg.Kafka.MaxAttempts = 1
	}
}
