package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestStatus 入库记录状态
type IngestStatus string

const (
	// StatusUploaded 原始文件已保存，等待处理
	StatusUploaded IngestStatus = "uploaded"
	// StatusQueued 已加入异步队列
	StatusQueued IngestStatus = "queued"
	// StatusProcessing 处理中
	StatusProcessing IngestStatus = "processing"
	// StatusIndexed 已写入索引
	StatusIndexed IngestStatus = "indexed"
	// StatusFailed 处理失败
	StatusFailed IngestStatus = "failed"
)

// Valid 状态值是否合法
func (s IngestStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusQueued, StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// 允许的状态转换
var statusTransitions = map[IngestStatus][]IngestStatus{
	StatusUploaded:   {StatusQueued, StatusProcessing},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusIndexed, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// CanTransition 检查状态转换是否允许
func CanTransition(from, to IngestStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IngestRecord 一次上传入库的记录
type IngestRecord struct {
	ID               string         `gorm:"primaryKey"`         // 记录ID
	FileName         string         `gorm:"not null"`           // 原始文件名
	ContentType      string         `gorm:"size:100"`           // MIME类型
	StoragePath      string         `gorm:"not null"`           // 原始文件存储路径
	FileSize         int64          `gorm:"not null"`           // 文件大小（字节）
	SHA256           string         `gorm:"size:64;index"`      // 文件内容哈希
	Status           IngestStatus   `gorm:"not null;index"`     // 处理状态
	Strategy         string         `gorm:"size:20"`            // 处理策略: direct, chunked
	ChunkCount       int            `gorm:"not null;default:0"` // 分块数量
	ContentSize      int            `gorm:"not null;default:0"` // 实际提交的内容大小
	FullContentSize  int            `gorm:"not null;default:0"` // 处理后的完整内容大小
	Truncated        bool           `gorm:"not null;default:false"`
	IndexBackend     string         `gorm:"size:20"`       // 索引后端名称
	IndexDocumentID  string         `gorm:"size:100"`      // 索引后端返回的文档ID
	TaskID           string         `gorm:"size:50;index"` // 异步任务ID
	Error            string         `gorm:"type:text"`     // 错误信息
	Attempts         int            `gorm:"default:0"`     // 处理次数
	Metadata         datatypes.JSON `gorm:"type:json"`     // 用户元数据
	UploadedAt       time.Time      `gorm:"not null;index"`
	ProcessingTimeMs int64          `gorm:"default:0"` // 最近一次处理耗时
	IndexedAt        *time.Time     `gorm:"index"`
	UpdatedAt        time.Time      `gorm:"not null;index"`
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *IngestRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.UploadedAt.IsZero() {
		r.UploadedAt = time.Now()
	}
	r.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (r *IngestRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	r.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (IngestRecord) TableName() string {
	return "ingest_records"
}
