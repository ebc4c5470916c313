package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/fyerfyer/doc-indexer/internal/repository"
	"github.com/sirupsen/logrus"
)

// IngestStatusManager 入库记录状态管理器
// 负责记录生命周期内的状态转换和结果写入
type IngestStatusManager struct {
	repo   repository.IngestRepository
	logger *logrus.Logger
}

// NewIngestStatusManager 创建状态管理器
func NewIngestStatusManager(repo repository.IngestRepository, logger *logrus.Logger) *IngestStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &IngestStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsQueued 标记为已入队并记录任务ID
func (m *IngestStatusManager) MarkAsQueued(ctx context.Context, id string) error {
	m.logger.WithField("record_id", id).Info("Marking record as queued")
	return m.repo.WithContext(ctx).UpdateStatus(id, models.StatusQueued, "")
}

// SetTaskID 记录异步任务ID
func (m *IngestStatusManager) SetTaskID(ctx context.Context, id, taskID string) error {
	return m.repo.WithContext(ctx).UpdateFields(id, map[string]interface{}{"task_id": taskID})
}

// MarkAsProcessing 标记为处理中，并写入本次处理计划
func (m *IngestStatusManager) MarkAsProcessing(ctx context.Context, id, strategy string, chunkCount int) error {
	repo := m.repo.WithContext(ctx)
	if err := repo.UpdateStatus(id, models.StatusProcessing, ""); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"record_id":   id,
		"strategy":    strategy,
		"chunk_count": chunkCount,
	}).Info("Marking record as processing")

	return repo.UpdateFields(id, map[string]interface{}{
		"strategy":    strategy,
		"chunk_count": chunkCount,
	})
}

// IndexOutcome 一次成功处理的结果
type IndexOutcome struct {
	Strategy        string
	ChunkCount      int
	ContentSize     int
	FullContentSize int
	Truncated       bool
	IndexBackend    string
	IndexDocumentID string
	Duration        time.Duration
}

// MarkAsIndexed 写入索引结果并标记为已索引
func (m *IngestStatusManager) MarkAsIndexed(ctx context.Context, id string, out IndexOutcome) error {
	repo := m.repo.WithContext(ctx)
	err := repo.UpdateFields(id, map[string]interface{}{
		"strategy":           out.Strategy,
		"chunk_count":        out.ChunkCount,
		"content_size":       out.ContentSize,
		"full_content_size":  out.FullContentSize,
		"truncated":          out.Truncated,
		"index_backend":      out.IndexBackend,
		"index_document_id":  out.IndexDocumentID,
		"processing_time_ms": out.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to save index outcome: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"record_id":   id,
		"document_id": out.IndexDocumentID,
		"truncated":   out.Truncated,
		"duration_ms": out.Duration.Milliseconds(),
	}).Info("Marking record as indexed")

	return repo.UpdateStatus(id, models.StatusIndexed, "")
}

// MarkAsFailed 标记为失败并记录错误信息
func (m *IngestStatusManager) MarkAsFailed(ctx context.Context, id string, cause error, duration time.Duration) error {
	repo := m.repo.WithContext(ctx)

	m.logger.WithFields(logrus.Fields{
		"record_id": id,
		"error":     cause,
	}).Error("Marking record as failed")

	if err := repo.UpdateFields(id, map[string]interface{}{
		"processing_time_ms": duration.Milliseconds(),
	}); err != nil {
		m.logger.WithError(err).WithField("record_id", id).Warn("Failed to save processing time")
	}
	return repo.UpdateStatus(id, models.StatusFailed, cause.Error())
}

// GetStatus 获取记录当前状态
func (m *IngestStatusManager) GetStatus(ctx context.Context, id string) (models.IngestStatus, error) {
	record, err := m.repo.WithContext(ctx).GetByID(id)
	if err != nil {
		return "", err
	}
	return record.Status, nil
}
