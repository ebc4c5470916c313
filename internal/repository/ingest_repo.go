package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/database"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"gorm.io/gorm"
)

// ingestRepository 入库记录仓储实现
type ingestRepository struct {
	db *gorm.DB // 数据库连接
}

// NewIngestRepository 使用全局数据库连接创建仓储
func NewIngestRepository() IngestRepository {
	return &ingestRepository{db: database.MustDB()}
}

// NewIngestRepositoryWithDB 使用指定的数据库连接创建仓储
func NewIngestRepositoryWithDB(db *gorm.DB) IngestRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &ingestRepository{db: db}
}

// Create 创建入库记录
func (r *ingestRepository) Create(record *models.IngestRecord) error {
	if record.ID == "" {
		return errors.New("record ID cannot be empty")
	}
	if !record.Status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidStatus, record.Status)
	}
	return r.db.Create(record).Error
}

// Update 保存整条记录
func (r *ingestRepository) Update(record *models.IngestRecord) error {
	if record.ID == "" {
		return errors.New("record ID cannot be empty")
	}
	return r.db.Save(record).Error
}

// UpdateFields 只更新指定列，状态必须通过UpdateStatus修改
func (r *ingestRepository) UpdateFields(id string, fields map[string]interface{}) error {
	if _, ok := fields["status"]; ok {
		return fmt.Errorf("%w: status must be changed through UpdateStatus", models.ErrInvalidTransition)
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = time.Now()

	result := r.db.Model(&models.IngestRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	return nil
}

// GetByID 根据ID获取记录
func (r *ingestRepository) GetByID(id string) (*models.IngestRecord, error) {
	var record models.IngestRecord
	err := r.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
		}
		return nil, err
	}
	return &record, nil
}

// FindIndexedBySHA256 查找相同内容且已索引的最新记录，不存在时返回nil
func (r *ingestRepository) FindIndexedBySHA256(sha string) (*models.IngestRecord, error) {
	var record models.IngestRecord
	err := r.db.Where("sha256 = ? AND status = ?", sha, models.StatusIndexed).
		Order("indexed_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List 列出记录，支持分页和筛选
func (r *ingestRepository) List(offset, limit int, filters map[string]interface{}) ([]*models.IngestRecord, int64, error) {
	var records []*models.IngestRecord
	var total int64

	query := r.db.Model(&models.IngestRecord{})

	if filters != nil {
		// 状态过滤
		if status, ok := filters["status"]; ok {
			switch s := status.(type) {
			case models.IngestStatus:
				if s != "" {
					query = query.Where("status = ?", string(s))
				}
			case string:
				if s != "" {
					query = query.Where("status = ?", s)
				}
			default:
				query = query.Where("status = ?", fmt.Sprintf("%v", status))
			}
		}

		// 文件名过滤
		if fileName, ok := filters["file_name"].(string); ok && fileName != "" {
			query = query.Where("file_name LIKE ?", "%"+fileName+"%")
		}

		// 策略过滤
		if strategy, ok := filters["strategy"].(string); ok && strategy != "" {
			query = query.Where("strategy = ?", strategy)
		}

		// 是否截断
		if truncated, ok := filters["truncated"].(bool); ok {
			query = query.Where("truncated = ?", truncated)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// Delete 删除记录
func (r *ingestRepository) Delete(id string) error {
	result := r.db.Where("id = ?", id).Delete(&models.IngestRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	return nil
}

// UpdateStatus 更新记录状态，拒绝状态机之外的转换
func (r *ingestRepository) UpdateStatus(id string, status models.IngestStatus, errorMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidStatus, status)
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var record models.IngestRecord
		if err := tx.Where("id = ?", id).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
			}
			return err
		}

		if !models.CanTransition(record.Status, status) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, record.Status, status)
		}

		updates := map[string]interface{}{
			"status":     status,
			"error":      errorMsg,
			"updated_at": time.Now(),
		}
		if status == models.StatusProcessing {
			updates["attempts"] = gorm.Expr("attempts + ?", 1)
		}
		if status == models.StatusIndexed {
			now := time.Now()
			updates["indexed_at"] = &now
		}

		return tx.Model(&models.IngestRecord{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}

// WithContext 创建带有上下文的仓储
func (r *ingestRepository) WithContext(ctx context.Context) IngestRepository {
	return &ingestRepository{db: r.db.WithContext(ctx)}
}
