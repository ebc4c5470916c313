package repository

import (
	"context"

	"github.com/fyerfyer/doc-indexer/internal/models"
)

// IngestRepository 入库记录仓储接口
type IngestRepository interface {
	// Create 创建入库记录
	Create(record *models.IngestRecord) error

	// Update 保存整条记录
	Update(record *models.IngestRecord) error

	// UpdateFields 只更新指定列，不影响状态字段
	UpdateFields(id string, fields map[string]interface{}) error

	// GetByID 根据ID获取记录
	GetByID(id string) (*models.IngestRecord, error)

	// FindIndexedBySHA256 查找相同内容且已索引的记录
	FindIndexedBySHA256(sha string) (*models.IngestRecord, error)

	// List 列出记录，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.IngestRecord, int64, error)

	// Delete 删除记录
	Delete(id string) error

	// UpdateStatus 按状态机更新记录状态
	UpdateStatus(id string, status models.IngestStatus, errorMsg string) error

	// WithContext 返回绑定上下文的仓储
	WithContext(ctx context.Context) IngestRepository
}
