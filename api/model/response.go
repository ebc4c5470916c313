package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentInfo 入库记录信息
type DocumentInfo struct {
	ID              string                 `json:"id"`
	FileName        string                 `json:"filename"`
	ContentType     string                 `json:"content_type"`
	FileSize        int64                  `json:"file_size"`
	SHA256          string                 `json:"sha256"`
	Status          string                 `json:"status"`
	Strategy        string                 `json:"strategy,omitempty"`
	ChunkCount      int                    `json:"chunk_count"`
	Truncated       bool                   `json:"truncated"`
	ContentSize     int                    `json:"content_size"`
	FullContentSize int                    `json:"full_content_size"`
	IndexBackend    string                 `json:"index_backend,omitempty"`
	IndexID         string                 `json:"index_id,omitempty"`
	TaskID          string                 `json:"task_id,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Attempts        int                    `json:"attempts"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	UploadedAt      time.Time              `json:"uploaded_at"`
	IndexedAt       *time.Time             `json:"indexed_at,omitempty"`
	ProcessingMs    int64                  `json:"processing_ms"`
}

// NewDocumentInfo 从入库记录转换
func NewDocumentInfo(r *models.IngestRecord) DocumentInfo {
	info := DocumentInfo{
		ID:              r.ID,
		FileName:        r.FileName,
		ContentType:     r.ContentType,
		FileSize:        r.FileSize,
		SHA256:          r.SHA256,
		Status:          string(r.Status),
		Strategy:        r.Strategy,
		ChunkCount:      r.ChunkCount,
		Truncated:       r.Truncated,
		ContentSize:     r.ContentSize,
		FullContentSize: r.FullContentSize,
		IndexBackend:    r.IndexBackend,
		IndexID:         r.IndexDocumentID,
		TaskID:          r.TaskID,
		Error:           r.Error,
		Attempts:        r.Attempts,
		UploadedAt:      r.UploadedAt,
		IndexedAt:       r.IndexedAt,
		ProcessingMs:    r.ProcessingTimeMs,
	}
	if len(r.Metadata) > 0 {
		var md map[string]interface{}
		if err := json.Unmarshal(r.Metadata, &md); err == nil && len(md) > 0 {
			info.Metadata = md
		}
	}
	return info
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	DocumentInfo
	Duplicate bool `json:"duplicate"` // 相同内容已索引
}

// DocumentDetailResponse 文档详情响应
type DocumentDetailResponse struct {
	DocumentInfo
	Content *IndexedContent `json:"content,omitempty"`
}

// IndexedContent 索引中保存的内容
type IndexedContent struct {
	Content          string    `json:"content"`
	ContentTruncated bool      `json:"content_truncated"`
	FullContentSize  int64     `json:"full_content_size"`
	IndexedAt        time.Time `json:"indexed_at"`
}

// NewIndexedContent 从索引文档转换
func NewIndexedContent(d *indexing.StoredDocument) *IndexedContent {
	return &IndexedContent{
		Content:          d.Content,
		ContentTruncated: d.ContentTruncated,
		FullContentSize:  d.FullContentSize,
		IndexedAt:        d.IndexedAt,
	}
}

// SearchHit 检索命中的文档
type SearchHit struct {
	ID               string                 `json:"id"`
	FileName         string                 `json:"filename"`
	FileID           string                 `json:"file_id,omitempty"` // 对应的入库记录ID
	Content          string                 `json:"content"`
	ContentTruncated bool                   `json:"content_truncated"`
	FullContentSize  int64                  `json:"full_content_size"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	IndexedAt        time.Time              `json:"indexed_at"`
}

// NewSearchHit 从索引文档转换
func NewSearchHit(d *indexing.StoredDocument) SearchHit {
	hit := SearchHit{
		ID:               d.ID,
		FileName:         d.FileName,
		Content:          d.Content,
		ContentTruncated: d.ContentTruncated,
		FullContentSize:  d.FullContentSize,
		Metadata:         d.Metadata,
		IndexedAt:        d.IndexedAt,
	}
	if id, ok := d.Metadata["file_id"].(string); ok {
		hit.FileID = id
	}
	return hit
}

// SearchResponse 检索响应
type SearchResponse struct {
	Query   string      `json:"query"`
	Total   int         `json:"total"`
	Results []SearchHit `json:"results"`
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	ID      string `json:"id"`      // 记录ID
}

// TaskInfo 异步任务信息
type TaskInfo struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	RecordID    string          `json:"record_id"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTaskInfo 从队列任务转换
func NewTaskInfo(t *taskqueue.Task) TaskInfo {
	info := TaskInfo{
		ID:          t.ID,
		Type:        string(t.Type),
		RecordID:    t.RecordID,
		Status:      string(t.Status),
		Error:       t.Error,
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
	if len(t.Result) > 0 && string(t.Result) != "null" {
		info.Result = t.Result
	}
	return info
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
