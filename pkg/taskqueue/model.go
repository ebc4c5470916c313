package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskIndexDocument 对已上传的原始文件执行处理并写入索引
	TaskIndexDocument TaskType = "index_document"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Terminal 是否为终态
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	RecordID    string          `json:"record_id"`    // 关联的上传记录ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷
	Result      json.RawMessage `json:"result"`       // 任务结果
	Error       string          `json:"error"`        // 错误信息
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 执行次数
}

// IndexDocumentPayload 索引任务载荷
type IndexDocumentPayload struct {
	RecordID string `json:"record_id"`
}

// IndexDocumentResult 索引任务结果
type IndexDocumentResult struct {
	RecordID        string `json:"record_id"`
	DocumentID      string `json:"document_id"`
	Strategy        string `json:"strategy"`
	ChunkCount      int    `json:"chunk_count"`
	Truncated       bool   `json:"truncated"`
	ContentSize     int    `json:"content_size"`
	FullContentSize int    `json:"full_content_size"`
}
