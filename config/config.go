package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/cache"
	"github.com/fyerfyer/doc-indexer/internal/chunking"
	"github.com/fyerfyer/doc-indexer/internal/database"
	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/fyerfyer/doc-indexer/pkg/storage"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Index      IndexConfig      `mapstructure:"index"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	Mode              string        `mapstructure:"mode" validate:"oneof=debug release test"` // gin运行模式
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size" validate:"gte=0"` // 0表示不限制
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
}

// ProcessingConfig 处理引擎与提交配置
type ProcessingConfig struct {
	ChunkedThreshold       int64  `mapstructure:"chunked_threshold" validate:"gt=0"`
	ChunkSize              int    `mapstructure:"chunk_size" validate:"gt=0"`
	MaxConcurrency         int    `mapstructure:"max_concurrency" validate:"gt=0"`
	IndexingCeiling        int    `mapstructure:"indexing_ceiling" validate:"gt=0"`
	TruncateOnRuneBoundary bool   `mapstructure:"truncate_on_rune_boundary"`
	Transform              string `mapstructure:"transform" validate:"required"`
}

// IndexConfig 索引后端配置
type IndexConfig struct {
	Type            string        `mapstructure:"type" validate:"oneof=memory badger postgres http"`
	Path            string        `mapstructure:"path"`     // badger数据目录
	DSN             string        `mapstructure:"dsn"`      // PostgreSQL连接串
	URL             string        `mapstructure:"url"`      // 搜索引擎地址
	IndexName       string        `mapstructure:"index_name" validate:"required"`
	Username        string        `mapstructure:"username"` // 搜索引擎用户名
	Password        string        `mapstructure:"password"` // 搜索引擎密码
	MaxDocumentSize int           `mapstructure:"max_document_size" validate:"gte=0"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio s3"` // 存储类型：local, minio, s3
	Path      string `mapstructure:"path"`                                 // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                               // 桶名称
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"` // S3路径风格访问
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`                          // 是否启用缓存
	Type     string `mapstructure:"type" validate:"oneof=memory redis"` // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`                         // Redis地址
	Password string `mapstructure:"password"`                        // Redis密码
	DB       int    `mapstructure:"db"`                              // Redis数据库
	TTL      int    `mapstructure:"ttl" validate:"gte=0"`            // 缓存TTL（秒）
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency" validate:"gt=0"`
	QueueName     string `mapstructure:"queue_name" validate:"required"`
	TaskExpiry    int    `mapstructure:"task_expiry" validate:"gt=0"` // 任务记录保留时长（小时）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite"` // 数据库类型，目前仅支持sqlite
	DSN  string `mapstructure:"dsn" validate:"required"`      // 数据源名称
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"` // 为空时只输出到标准输出
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age_days"`
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	// .env中的变量不会覆盖已存在的环境变量
	loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"))

	// 初始化viper
	v := viper.New()
	v.SetConfigFile(configPath)
	setDefaults(v)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		// 创建默认配置文件
		dir := filepath.Dir(configPath)
		if err := os.MkdirAll(dir, 0755); err == nil {
			if err := v.WriteConfigAs(configPath); err != nil {
				log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
			}
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandEnvironmentVariables(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := chunking.LookupTransform(c.Processing.Transform); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Index.Type {
	case indexing.BackendPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("invalid config: index.dsn is required for postgres backend")
		}
	case indexing.BackendHTTP:
		if c.Index.URL == "" {
			return fmt.Errorf("invalid config: index.url is required for http backend")
		}
	}
	return nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Printf("Warning: Could not load %s: %v", path, err)
	}
}

// expandEnvironmentVariables 展开形如${VAR}的密钥配置
func expandEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Index.DSN,
		&cfg.Index.Password,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		if strings.HasPrefix(*field, "${") && strings.HasSuffix(*field, "}") {
			if envVal := os.Getenv((*field)[2 : len(*field)-1]); envVal != "" {
				*field = envVal
			}
		}
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.max_upload_size", 64*chunking.MiB)
	v.SetDefault("server.allowed_extensions", []string{".txt", ".md", ".markdown", ".csv", ".json", ".log", ".xml", ".html"})

	// 处理默认配置
	v.SetDefault("processing.chunked_threshold", chunking.DefaultChunkedThreshold)
	v.SetDefault("processing.chunk_size", chunking.DefaultChunkSize)
	v.SetDefault("processing.max_concurrency", chunking.DefaultConcurrency())
	v.SetDefault("processing.indexing_ceiling", indexing.DefaultCeiling)
	v.SetDefault("processing.truncate_on_rune_boundary", true)
	v.SetDefault("processing.transform", chunking.TransformPlainText)

	// 索引后端默认配置
	v.SetDefault("index.type", indexing.BackendMemory)
	v.SetDefault("index.path", "")
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.url", "")
	v.SetDefault("index.index_name", "documents")
	v.SetDefault("index.username", "")
	v.SetDefault("index.password", "")
	v.SetDefault("index.max_document_size", 0)
	v.SetDefault("index.timeout", "30s")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "indexer")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.path_style", false)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 86400) // 24小时
	v.SetDefault("cache.prefix", "indexer")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.queue_name", "default")
	v.SetDefault("queue.task_expiry", 168) // 7天

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/indexer.db")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// Address 返回HTTP监听地址
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EngineConfig 转换为处理引擎配置
func (c *Config) EngineConfig() chunking.Config {
	return chunking.Config{
		ChunkedThreshold: c.Processing.ChunkedThreshold,
		ChunkSize:        c.Processing.ChunkSize,
		MaxConcurrency:   c.Processing.MaxConcurrency,
	}
}

// IndexBackendConfig 转换为索引后端配置
func (c *Config) IndexBackendConfig() indexing.Config {
	return indexing.Config{
		Type:            c.Index.Type,
		Path:            c.Index.Path,
		DSN:             c.Index.DSN,
		URL:             c.Index.URL,
		IndexName:       c.Index.IndexName,
		Username:        c.Index.Username,
		Password:        c.Index.Password,
		MaxDocumentSize: c.Index.MaxDocumentSize,
		Timeout:         c.Index.Timeout,
	}
}

// StorageBackendConfig 转换为存储配置
func (c *Config) StorageBackendConfig() storage.Config {
	s := c.Storage
	return storage.Config{
		Type:  s.Type,
		Local: storage.LocalConfig{Path: s.Path},
		Minio: storage.MinioConfig{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
			Bucket:    s.Bucket,
		},
		S3: storage.S3Config{
			Region:    s.Region,
			Bucket:    s.Bucket,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Endpoint:  s.Endpoint,
			PathStyle: s.PathStyle,
		},
	}
}

// CacheBackendConfig 转换为缓存配置
func (c *Config) CacheBackendConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Type = c.Cache.Type
	cfg.RedisAddr = c.Cache.Address
	cfg.RedisPassword = c.Cache.Password
	cfg.RedisDB = c.Cache.DB
	if c.Cache.Prefix != "" {
		cfg.Prefix = c.Cache.Prefix
	}
	cfg.DefaultTTL = time.Duration(c.Cache.TTL) * time.Second
	return cfg
}

// QueueBackendConfig 转换为任务队列配置
func (c *Config) QueueBackendConfig() *taskqueue.Config {
	cfg := taskqueue.DefaultConfig()
	cfg.RedisAddr = c.Queue.RedisAddr
	cfg.RedisPassword = c.Queue.RedisPassword
	cfg.RedisDB = c.Queue.RedisDB
	cfg.Concurrency = c.Queue.Concurrency
	cfg.QueueName = c.Queue.QueueName
	cfg.Queues = map[string]int{c.Queue.QueueName: 1}
	cfg.TaskExpiry = time.Duration(c.Queue.TaskExpiry) * time.Hour
	return cfg
}

// DatabaseBackendConfig 转换为数据库配置
func (c *Config) DatabaseBackendConfig() *database.Config {
	cfg := database.DefaultConfig()
	cfg.Type = c.Database.Type
	cfg.DSN = c.Database.DSN
	return cfg
}
