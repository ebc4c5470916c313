package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/cache"
	"github.com/fyerfyer/doc-indexer/internal/chunking"
	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/fyerfyer/doc-indexer/internal/repository"
	"github.com/fyerfyer/doc-indexer/pkg/storage"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	// ErrInvalidRequest 上传请求不合法
	ErrInvalidRequest = errors.New("invalid ingest request")

	// ErrSearchUnsupported 当前索引后端不支持检索
	ErrSearchUnsupported = errors.New("index backend does not support search")
)

// IngestRequest 一次上传请求
type IngestRequest struct {
	Reader      io.Reader              // 文件内容
	FileName    string                 // 原始文件名
	ContentType string                 // 为空时按扩展名推断
	Size        int64                  // 声明大小，未知时为-1
	Metadata    map[string]interface{} // 用户元数据
	Async       bool                   // 请求异步处理
	Wait        time.Duration          // 异步处理时最多等待任务结束的时间，0表示不等待
}

// IngestResult 上传结果
type IngestResult struct {
	Record    *models.IngestRecord
	Duplicate bool // 相同内容已索引，直接返回已有记录
}

// IngestService 入库服务
// 负责保存原始文件、执行处理流水线并提交索引
type IngestService struct {
	storage   storage.Storage
	engine    *chunking.Engine
	submitter *indexing.Submitter
	repo      repository.IngestRepository
	status    *IngestStatusManager
	cache     cache.Cache
	queue     taskqueue.Queue
	async     bool
	dedupTTL  time.Duration
	logger    *logrus.Logger
}

// IngestOption 入库服务配置选项
type IngestOption func(*IngestService)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) IngestOption {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCache 设置内容哈希去重缓存
func WithCache(c cache.Cache) IngestOption {
	return func(s *IngestService) {
		s.cache = c
	}
}

// WithDedupTTL 设置去重缓存的过期时间，0表示使用缓存默认值
func WithDedupTTL(ttl time.Duration) IngestOption {
	return func(s *IngestService) {
		s.dedupTTL = ttl
	}
}

// WithTaskQueue 设置任务队列，设置后默认异步处理
func WithTaskQueue(queue taskqueue.Queue) IngestOption {
	return func(s *IngestService) {
		s.queue = queue
		s.async = queue != nil
	}
}

// WithAsyncProcessing 设置是否默认异步处理
func WithAsyncProcessing(enabled bool) IngestOption {
	return func(s *IngestService) {
		s.async = enabled
	}
}

// NewIngestService 创建入库服务
func NewIngestService(
	store storage.Storage,
	engine *chunking.Engine,
	submitter *indexing.Submitter,
	repo repository.IngestRepository,
	opts ...IngestOption,
) (*IngestService, error) {
	switch {
	case store == nil:
		return nil, errors.New("storage is required")
	case engine == nil:
		return nil, errors.New("processing engine is required")
	case submitter == nil:
		return nil, errors.New("submitter is required")
	case repo == nil:
		return nil, errors.New("ingest repository is required")
	}

	s := &IngestService{
		storage:   store,
		engine:    engine,
		submitter: submitter,
		repo:      repo,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status = NewIngestStatusManager(repo, s.logger)
	return s, nil
}

// Ingest 保存原始文件并安排处理
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.Reader == nil {
		return nil, fmt.Errorf("%w: reader is nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: file name is empty", ErrInvalidRequest)
	}

	log := s.logger.WithField("file_name", req.FileName)

	// 保存原始文件的同时计算内容哈希
	hasher := sha256.New()
	size := req.Size
	if size < 0 {
		size = -1
	}
	info, err := s.storage.Save(ctx, io.TeeReader(req.Reader, hasher), req.FileName, size)
	if err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	if existing := s.findDuplicate(ctx, sum); existing != nil {
		log.WithFields(logrus.Fields{
			"record_id": existing.ID,
			"sha256":    sum,
		}).Info("Content already indexed, skipping")
		if err := s.storage.Delete(ctx, info.Path); err != nil {
			log.WithError(err).Warn("Failed to remove duplicate original")
		}
		return &IngestResult{Record: existing, Duplicate: true}, nil
	}

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidRequest, err)
	}
	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = info.MimeType
	}

	record := &models.IngestRecord{
		ID:          uuid.New().String(),
		FileName:    req.FileName,
		ContentType: contentType,
		StoragePath: info.Path,
		FileSize:    info.Size,
		SHA256:      sum,
		Status:      models.StatusUploaded,
		Metadata:    datatypes.JSON(metadata),
	}
	if err := s.repo.WithContext(ctx).Create(record); err != nil {
		if delErr := s.storage.Delete(ctx, info.Path); delErr != nil {
			log.WithError(delErr).Warn("Failed to remove orphaned original")
		}
		return nil, fmt.Errorf("failed to create ingest record: %w", err)
	}

	log.WithFields(logrus.Fields{
		"record_id":    record.ID,
		"file_size":    record.FileSize,
		"storage_path": record.StoragePath,
	}).Info("Original stored")

	if (req.Async || s.async) && s.queue != nil {
		taskID, err := s.enqueue(ctx, record.ID)
		if err == nil {
			if req.Wait > 0 {
				s.wait(ctx, taskID, req.Wait)
			}
			return s.result(ctx, record.ID)
		}
		log.WithError(err).Warn("Failed to enqueue record, processing synchronously")
	}

	if _, err := s.ProcessRecord(ctx, record.ID); err != nil {
		// 失败信息已写入记录，调用方可根据错误类型决定响应
		res, getErr := s.result(ctx, record.ID)
		if getErr != nil {
			return nil, err
		}
		return res, err
	}
	return s.result(ctx, record.ID)
}

// enqueue 将记录加入异步队列，返回任务ID
func (s *IngestService) enqueue(ctx context.Context, id string) (string, error) {
	if err := s.status.MarkAsQueued(ctx, id); err != nil {
		return "", err
	}
	taskID, err := s.queue.Enqueue(ctx, taskqueue.TaskIndexDocument, id, &taskqueue.IndexDocumentPayload{RecordID: id})
	if err != nil {
		return "", err
	}
	if err := s.status.SetTaskID(ctx, id, taskID); err != nil {
		s.logger.WithError(err).WithField("record_id", id).Warn("Failed to save task id")
	}
	return taskID, nil
}

// wait 等待异步任务结束，超时后返回，记录保持当前状态
func (s *IngestService) wait(ctx context.Context, taskID string, timeout time.Duration) {
	log := s.logger.WithField("task_id", taskID)
	task, err := s.queue.WaitForTask(ctx, taskID, timeout)
	switch {
	case errors.Is(err, taskqueue.ErrTaskTimeout):
		log.WithField("timeout", timeout).Debug("Task still running after wait")
	case err != nil:
		log.WithError(err).Warn("Failed to wait for task")
	default:
		log.WithField("status", task.Status).Debug("Task finished while waiting")
	}
}

func (s *IngestService) result(ctx context.Context, id string) (*IngestResult, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Record: record}, nil
}

// findDuplicate 查找相同内容且已索引的记录
// 先查缓存，缓存未命中或失效时回退到数据库
func (s *IngestService) findDuplicate(ctx context.Context, sum string) *models.IngestRecord {
	repo := s.repo.WithContext(ctx)

	if s.cache != nil {
		id, found, err := s.cache.Get(ctx, cache.ContentKey(sum))
		if err != nil {
			s.logger.WithError(err).Warn("Dedup cache lookup failed")
		}
		if found {
			record, err := repo.GetByID(id)
			if err == nil && record.Status == models.StatusIndexed && record.SHA256 == sum {
				return record
			}
			_ = s.cache.Delete(ctx, cache.ContentKey(sum))
		}
	}

	record, err := repo.FindIndexedBySHA256(sum)
	if err != nil {
		s.logger.WithError(err).Warn("Dedup lookup failed")
		return nil
	}
	if record != nil {
		s.remember(ctx, record)
	}
	return record
}

// remember 缓存内容哈希到记录ID的映射
func (s *IngestService) remember(ctx context.Context, record *models.IngestRecord) {
	if s.cache == nil || record.SHA256 == "" {
		return
	}
	if err := s.cache.Set(ctx, cache.ContentKey(record.SHA256), record.ID, s.dedupTTL); err != nil {
		s.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to cache content hash")
	}
}

// ProcessRecord 处理一条已保存的记录：读取原始文件、执行流水线、提交索引
// 失败时记录状态为failed，不会提交任何部分内容
func (s *IngestService) ProcessRecord(ctx context.Context, id string) (*models.IngestRecord, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := s.engine.Plan(record.FileSize)
	if err := s.status.MarkAsProcessing(ctx, id, plan.Strategy.String(), plan.ChunkCount); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := s.run(ctx, record)
	if err != nil {
		if markErr := s.status.MarkAsFailed(ctx, id, err, time.Since(start)); markErr != nil {
			s.logger.WithError(markErr).WithField("record_id", id).Error("Failed to mark record as failed")
		}
		return nil, err
	}

	out.Duration = time.Since(start)
	if err := s.status.MarkAsIndexed(ctx, id, *out); err != nil {
		return nil, err
	}

	record, err = s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, record)
	return record, nil
}

// run 执行处理流水线
func (s *IngestService) run(ctx context.Context, record *models.IngestRecord) (*IndexOutcome, error) {
	rc, err := s.storage.Open(ctx, record.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open original: %w", err)
	}
	defer rc.Close()

	outcome, err := s.engine.Process(ctx, rc, record.FileSize)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]interface{})
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &metadata); err != nil {
			s.logger.WithError(err).WithField("record_id", record.ID).Warn("Ignoring malformed metadata")
		}
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["content_type"] = record.ContentType
	metadata["file_id"] = record.ID
	metadata["storage_path"] = record.StoragePath
	metadata["sha256"] = record.SHA256
	metadata["strategy"] = outcome.Strategy.String()
	metadata["chunk_count"] = outcome.ChunkCount

	doc := indexing.NewIndexableDocument(record.FileName, outcome.Content, metadata, record.FileSize)
	res, err := s.submitter.Submit(ctx, doc)
	if err != nil {
		return nil, err
	}

	return &IndexOutcome{
		Strategy:        outcome.Strategy.String(),
		ChunkCount:      outcome.ChunkCount,
		ContentSize:     res.ContentSize,
		FullContentSize: res.FullContentSize,
		Truncated:       res.Truncated,
		IndexBackend:    s.submitter.Backend().Name(),
		IndexDocumentID: res.DocumentID,
	}, nil
}

// GetRecord 获取入库记录
func (s *IngestService) GetRecord(ctx context.Context, id string) (*models.IngestRecord, error) {
	return s.repo.WithContext(ctx).GetByID(id)
}

// ListRecords 分页列出入库记录
func (s *IngestService) ListRecords(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.IngestRecord, int64, error) {
	return s.repo.WithContext(ctx).List(offset, limit, filters)
}

// GetIndexedDocument 获取记录对应的已索引文档
func (s *IngestService) GetIndexedDocument(ctx context.Context, id string) (*indexing.StoredDocument, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.IndexDocumentID == "" {
		return nil, fmt.Errorf("%w: record %s has not been indexed", indexing.ErrDocumentNotFound, id)
	}
	return s.submitter.Backend().Get(ctx, record.IndexDocumentID)
}

// DeleteRecord 删除已索引文档、原始文件和记录
func (s *IngestService) DeleteRecord(ctx context.Context, id string) error {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.WithField("record_id", id)

	// 取消尚未执行的任务，工作者随后找不到任务记录时直接跳过
	if s.queue != nil && record.TaskID != "" {
		err := s.queue.DeleteTask(ctx, record.TaskID)
		if err != nil && !errors.Is(err, taskqueue.ErrTaskNotFound) {
			log.WithError(err).WithField("task_id", record.TaskID).Warn("Failed to cancel task")
		}
	}

	if record.IndexDocumentID != "" {
		err := s.submitter.Backend().Delete(ctx, record.IndexDocumentID)
		if err != nil && !errors.Is(err, indexing.ErrDocumentNotFound) {
			return fmt.Errorf("failed to delete indexed document: %w", err)
		}
	}

	if err := s.storage.Delete(ctx, record.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Warn("Failed to delete original")
	}

	if s.cache != nil && record.SHA256 != "" {
		key := cache.ContentKey(record.SHA256)
		if cached, found, _ := s.cache.Get(ctx, key); found && cached == id {
			_ = s.cache.Delete(ctx, key)
		}
	}

	if err := s.repo.WithContext(ctx).Delete(id); err != nil {
		return err
	}
	log.Info("Record deleted")
	return nil
}

// Search 在索引后端中检索文档，按后端的相关度排序
func (s *IngestService) Search(ctx context.Context, query string, limit int) ([]*indexing.StoredDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}

	backend := s.submitter.Backend()
	searcher, ok := backend.(indexing.Searcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSearchUnsupported, backend.Name())
	}

	ids, err := searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]*indexing.StoredDocument, 0, len(ids))
	for _, id := range ids {
		doc, err := backend.Get(ctx, id)
		if err != nil {
			// 检索与读取之间文档可能已被删除
			if errors.Is(err, indexing.ErrDocumentNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Plan 预估指定大小输入的处理方式
func (s *IngestService) Plan(size int64) chunking.Plan {
	return s.engine.Plan(size)
}

// HandleIndexTask 供任务队列调用的处理入口
func (s *IngestService) HandleIndexTask(ctx context.Context, recordID string) (*taskqueue.IndexDocumentResult, error) {
	record, err := s.ProcessRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return &taskqueue.IndexDocumentResult{
		RecordID:        record.ID,
		DocumentID:      record.IndexDocumentID,
		Strategy:        record.Strategy,
		ChunkCount:      record.ChunkCount,
		Truncated:       record.Truncated,
		ContentSize:     record.ContentSize,
		FullContentSize: record.FullContentSize,
	}, nil
}
