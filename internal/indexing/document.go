package indexing

import (
	"time"
)

// Document 提交给索引后端的文档
// 只有IndexableDocument和ReducedDocument两种实现
type Document interface {
	// Original 返回文档的公共字段
	Original() *IndexableDocument
	// Body 返回实际提交的内容
	Body() string
	// Truncated 内容是否被截断
	Truncated() bool
	// FullSize 截断前的内容字节数
	FullSize() int64

	sealed()
}

// IndexableDocument 可索引的完整文档
// 构造后不应被修改，截断时派生ReducedDocument
type IndexableDocument struct {
	FileName    string                 `json:"file_name"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	FileSize    int64                  `json:"file_size"`
	ProcessedAt time.Time              `json:"processed_at"`
}

// NewIndexableDocument 创建可索引文档
// metadata会被复制，调用方之后的修改不会影响文档
func NewIndexableDocument(fileName, content string, metadata map[string]interface{}, fileSize int64) *IndexableDocument {
	return &IndexableDocument{
		FileName:    fileName,
		Content:     content,
		Metadata:    cloneMetadata(metadata),
		FileSize:    fileSize,
		ProcessedAt: time.Now(),
	}
}

func (d *IndexableDocument) Original() *IndexableDocument { return d }
func (d *IndexableDocument) Body() string                 { return d.Content }
func (d *IndexableDocument) Truncated() bool              { return false }
func (d *IndexableDocument) FullSize() int64              { return int64(len(d.Content)) }
func (d *IndexableDocument) sealed()                      {}

// ReducedDocument 内容被截断的文档
// 除内容外的字段都从原文档复制
type ReducedDocument struct {
	IndexableDocument
	ContentTruncated bool  `json:"content_truncated"`
	FullContentSize  int64 `json:"full_content_size"`
}

// NewReducedDocument 从原文档派生截断后的文档，不修改原文档
func NewReducedDocument(doc *IndexableDocument, content string) *ReducedDocument {
	reduced := &ReducedDocument{
		IndexableDocument: *doc,
		ContentTruncated:  true,
		FullContentSize:   int64(len(doc.Content)),
	}
	reduced.Content = content
	reduced.Metadata = cloneMetadata(doc.Metadata)
	return reduced
}

func (d *ReducedDocument) Original() *IndexableDocument { return &d.IndexableDocument }
func (d *ReducedDocument) Body() string                 { return d.Content }
func (d *ReducedDocument) Truncated() bool              { return d.ContentTruncated }
func (d *ReducedDocument) FullSize() int64              { return d.FullContentSize }
func (d *ReducedDocument) sealed()                      {}

// StoredDocument 后端中保存的文档
type StoredDocument struct {
	ID               string                 `json:"id"`
	FileName         string                 `json:"file_name"`
	Content          string                 `json:"content"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	FileSize         int64                  `json:"file_size"`
	ProcessedAt      time.Time              `json:"processed_at"`
	ContentTruncated bool                   `json:"content_truncated"`
	FullContentSize  int64                  `json:"full_content_size"`
	IndexedAt        time.Time              `json:"indexed_at"`
}

// newStoredDocument 将提交的文档转换为存储形式
func newStoredDocument(id string, doc Document) *StoredDocument {
	orig := doc.Original()
	return &StoredDocument{
		ID:               id,
		FileName:         orig.FileName,
		Content:          doc.Body(),
		Metadata:         cloneMetadata(orig.Metadata),
		FileSize:         orig.FileSize,
		ProcessedAt:      orig.ProcessedAt,
		ContentTruncated: doc.Truncated(),
		FullContentSize:  doc.FullSize(),
		IndexedAt:        time.Now(),
	}
}

// cloneMetadata 浅复制元数据
func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
