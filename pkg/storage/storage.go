package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound 文件不存在
var ErrNotFound = errors.New("file not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 内部存储路径，后续通过它访问文件
}

// Storage 原始上传文件的存储接口
// 文件以Save返回的Path寻址
type Storage interface {
	// Save 流式保存文件，size未知时传-1
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (FileInfo, error)

	// Open 打开文件，调用方负责关闭
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, path string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, path string) (bool, error)

	// Name 存储类型名称
	Name() string
}

// Config 存储配置
type Config struct {
	Type  string // local, minio, s3
	Local LocalConfig
	Minio MinioConfig
	S3    S3Config
}

// NewStorage 根据配置创建存储实例
func NewStorage(ctx context.Context, cfg Config) (Storage, error) {
	var (
		store Storage
		err   error
	)
	switch cfg.Type {
	case "", "local":
		store, err = NewLocalStorage(cfg.Local)
	case "minio":
		store, err = NewMinioStorage(ctx, cfg.Minio)
	case "s3":
		store, err = NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// objectName 生成按日期分目录的对象名
func objectName(id, filename string, now time.Time) string {
	return fmt.Sprintf("%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), id, strings.ToLower(filepath.Ext(filename)))
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".log":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".html", ".htm":
		return "text/html"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// MimeType 导出的MIME类型判断
func MimeType(filename string) string {
	return getMimeType(filename)
}
