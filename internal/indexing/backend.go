package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// BackendMemory 内存后端
	BackendMemory = "memory"
	// BackendBadger 嵌入式badger后端
	BackendBadger = "badger"
	// BackendPostgres PostgreSQL全文索引后端
	BackendPostgres = "postgres"
	// BackendHTTP 搜索引擎REST后端
	BackendHTTP = "http"
)

// IndexResponse 后端对一次索引请求的应答
type IndexResponse struct {
	ID         string // 文档标识，由后端分配
	Valid      bool   // 文档是否被接受
	Diagnostic string // 拒绝原因
}

// Backend 索引后端接口
type Backend interface {
	// Index 索引文档
	// 后端拒绝文档时返回Valid=false的应答而不是错误
	Index(ctx context.Context, doc Document) (IndexResponse, error)
	// Get 获取已索引的文档
	Get(ctx context.Context, id string) (*StoredDocument, error)
	// Delete 删除已索引的文档
	Delete(ctx context.Context, id string) error
	// Name 后端名称
	Name() string
	// Close 释放资源
	Close() error
}

// Searcher 支持全文检索的后端
// Search按相关度降序返回文档ID，limit<=0时使用默认值10
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// defaultSearchLimit 检索默认返回数量
const defaultSearchLimit = 10

// Config 索引后端配置
type Config struct {
	Type            string        // 后端类型: memory, badger, postgres, http
	Path            string        // badger数据目录，为空时使用内存模式
	DSN             string        // PostgreSQL连接串
	URL             string        // 搜索引擎地址
	IndexName       string        // 索引名
	Username        string        // 搜索引擎用户名
	Password        string        // 搜索引擎密码
	MaxDocumentSize int           // 后端接受的最大内容字节数，0表示不限制
	Timeout         time.Duration // 请求超时
	Logger          *logrus.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Type:      BackendMemory,
		IndexName: "documents",
		Timeout:   30 * time.Second,
	}
}

// Factory 后端工厂函数类型
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterBackend 注册后端实现
func RegisterBackend(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewBackend 根据配置创建后端实例
func NewBackend(cfg Config) (Backend, error) {
	if cfg.Type == "" {
		cfg.Type = BackendMemory
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported index backend type: %s", cfg.Type)
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s index backend: %w", cfg.Type, err)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"backend": backend.Name(),
		"index":   cfg.IndexName,
	}).Info("Index backend initialized")

	return backend, nil
}

// oversizeDiagnostic 生成超出后端限制时的诊断信息
func oversizeDiagnostic(size, limit int) string {
	return fmt.Sprintf("document content of %d bytes exceeds backend limit of %d bytes", size, limit)
}
