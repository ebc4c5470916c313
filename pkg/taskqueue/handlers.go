package taskqueue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RecordProcessor 处理一条上传记录并返回索引结果
type RecordProcessor func(ctx context.Context, recordID string) (*IndexDocumentResult, error)

// IndexDocumentHandler 处理index_document任务
type IndexDocumentHandler struct {
	process RecordProcessor
	logger  *logrus.Logger
}

// NewIndexDocumentHandler 创建索引任务处理器
func NewIndexDocumentHandler(process RecordProcessor, logger *logrus.Logger) *IndexDocumentHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IndexDocumentHandler{process: process, logger: logger}
}

// ProcessTask 解析载荷并调用记录处理函数
func (h *IndexDocumentHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	if task.Type != TaskIndexDocument {
		return nil, fmt.Errorf("%w: unexpected task type %s", ErrInvalidPayload, task.Type)
	}

	var payload IndexDocumentPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.RecordID == "" {
		payload.RecordID = task.RecordID
	}
	if payload.RecordID == "" {
		return nil, fmt.Errorf("%w: missing record_id", ErrInvalidPayload)
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"record_id": payload.RecordID,
	}).Info("Processing index task")

	result, err := h.process(ctx, payload.RecordID)
	if err != nil {
		return nil, err
	}
	return result, nil
}
