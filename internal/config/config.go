// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tika      TikaConfig      `mapstructure:"tika"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 PostgreSQL 数据库的配置。
type PostgresConfig struct {
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
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	BucketName           string `mapstructure:"bucket_name"`
	PresignExpireMinutes int    `mapstructure:"presign_expire_minutes"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey         string      `mapstructure:"api_key"`
	BaseURL        string      `mapstructure:"base_url"`
	Model          string      `mapstructure:"model"`
	Dimensions     int         `mapstructure:"dimensions"`
	TimeoutSeconds int         `mapstructure:"timeout_seconds"`
	CacheTTLHours  int         `mapstructure:"cache_ttl_hours"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// RetryConfig 配置对上游调用的重试策略（仅用于装饰器，核心不做隐式重试）。
type RetryConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	InitialDelayMS int `mapstructure:"initial_delay_ms"`
	MaxDelayMS     int `mapstructure:"max_delay_ms"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey               string              `mapstructure:"api_key"`
	BaseURL              string              `mapstructure:"base_url"`
	Model                string              `mapstructure:"model"`
	StreamTimeoutSeconds int                 `mapstructure:"stream_timeout_seconds"`
	Generation           LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChatConfig 配置检索问答的行为参数。
type ChatConfig struct {
	TopK            int     `mapstructure:"top_k"`
	MinSimilarity   float64 `mapstructure:"min_similarity"`
	HistoryLimit    int     `mapstructure:"history_limit"`
	ContextMaxChars int     `mapstructure:"context_max_chars"`
}

// IngestConfig 配置文档入库流水线的参数。
type IngestConfig struct {
	ChunkSize        int      `mapstructure:"chunk_size"`
	ChunkOverlap     int      `mapstructure:"chunk_overlap"`
	MaxFileSizeBytes int64    `mapstructure:"max_file_size_bytes"`
	AllowedTypes     []string `mapstructure:"allowed_types"`
}

// Load 从指定路径读取 YAML 配置并解析，环境变量（DOCTALK_ 前缀）可覆盖任意键。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DOCTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("jwt.access_token_expire_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("kafka.topic", "doc-ingest-tasks")
	v.SetDefault("kafka.group_id", "doctalk-ingest")
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("tika.timeout_seconds", 60)

	v.SetDefault("minio.presign_expire_minutes", 15)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout_seconds", 15)
	v.SetDefault("embedding.cache_ttl_hours", 24)
	v.SetDefault("embedding.retry.max_attempts", 3)
	v.SetDefault("embedding.retry.initial_delay_ms", 200)
	v.SetDefault("embedding.retry.max_delay_ms", 2000)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.stream_timeout_seconds", 120)
	v.SetDefault("llm.generation.temperature", 0.2)
	v.SetDefault("llm.generation.max_tokens", 1024)

	// 相似度阈值刻意保持宽松的默认值，可按需调高。
	v.SetDefault("chat.top_k", 5)
	v.SetDefault("chat.min_similarity", 0.1)
	v.SetDefault("chat.history_limit", 20)
	v.SetDefault("chat.context_max_chars", 8000)

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.max_file_size_bytes", 10*1024*1024)
	v.SetDefault("ingest.allowed_types", []string{"pdf", "docx", "txt", "md"})
}
