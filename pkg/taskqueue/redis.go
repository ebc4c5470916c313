package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// 任务键前缀
	taskKeyPrefix = "task:"
	// 记录任务集合键前缀
	recordTasksKeyPrefix = "record_tasks:"
	// 任务状态通知频道前缀
	taskStatusChannelPrefix = "task_status:"
	// 默认任务过期时间（7天）
	defaultTaskExpiry = 7 * 24 * time.Hour
)

// RedisQueue Redis任务队列实现
// 任务记录保存在Redis，投递由asynq负责
type RedisQueue struct {
	client      *asynq.Client    // 用于添加任务
	inspector   *asynq.Inspector // 用于删除排队中的任务
	redisClient *redis.Client    // 存储任务记录
	cfg         *Config
	logger      *logrus.Logger
}

// NewRedisQueue 创建Redis任务队列实例
func NewRedisQueue(cfg *Config) (*RedisQueue, error) {
	cfg = withDefaults(cfg)

	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试Redis连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{
		client:      asynq.NewClient(opt),
		inspector:   asynq.NewInspector(opt),
		redisClient: redisClient,
		cfg:         cfg,
		logger:      cfg.Logger,
	}, nil
}

// withDefaults 补全未设置的配置项
func withDefaults(cfg *Config) *Config {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	out := *cfg
	if out.Concurrency <= 0 {
		out.Concurrency = def.Concurrency
	}
	if out.QueueName == "" {
		out.QueueName = def.QueueName
	}
	if len(out.Queues) == 0 {
		out.Queues = map[string]int{out.QueueName: 1}
	}
	if out.TaskExpiry <= 0 {
		out.TaskExpiry = def.TaskExpiry
	}
	if out.Logger == nil {
		out.Logger = logrus.New()
		out.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &out
}

// Enqueue 将任务加入队列
// 流水线错误是终态，asynq不做重试
func (q *RedisQueue) Enqueue(ctx context.Context, taskType TaskType, recordID string, payload interface{}) (string, error) {
	taskID := uuid.New().String()

	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:        taskID,
		Type:      taskType,
		RecordID:  recordID,
		Status:    StatusPending,
		Payload:   payloadBytes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.saveTaskToRedis(ctx, task); err != nil {
		return "", fmt.Errorf("failed to save task to redis: %w", err)
	}

	asynqTask := asynq.NewTask(string(taskType), []byte(taskID))
	_, err = q.client.EnqueueContext(ctx, asynqTask,
		asynq.TaskID(taskID),
		asynq.Queue(q.cfg.QueueName),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": taskType,
		"record_id": recordID,
	}).Info("Task enqueued successfully")

	return taskID, nil
}

// GetTask 获取任务信息
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.redisClient.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}
	return &task, nil
}

// GetTasksByRecord 获取上传记录相关的所有任务
func (q *RedisQueue) GetTasksByRecord(ctx context.Context, recordID string) ([]*Task, error) {
	taskIDs, err := q.redisClient.SMembers(ctx, recordTasksKeyPrefix+recordID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get record tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// 任务可能已过期
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// WaitForTask 等待任务进入终态
func (q *RedisQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 先订阅再检查，避免错过两者之间的状态变化
	pubsub := q.redisClient.Subscribe(ctx, taskStatusChannelPrefix+taskID)
	defer pubsub.Close()
	updates := pubsub.Channel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTaskTimeout
			}
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-updates:
		case <-ticker.C:
		}
	}
}

// DeleteTask 删除任务
func (q *RedisQueue) DeleteTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.RecordID != "" {
		if err := q.redisClient.SRem(ctx, recordTasksKeyPrefix+task.RecordID, taskID).Err(); err != nil {
			return fmt.Errorf("failed to remove task from record tasks: %w", err)
		}
	}

	if err := q.redisClient.Del(ctx, taskKeyPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	// 正在处理的任务无法从asynq中删除
	if err := q.inspector.DeleteTask(q.cfg.QueueName, taskID); err != nil {
		q.logger.WithError(err).WithField("task_id", taskID).Debug("Task not removed from asynq queue")
	}
	return nil
}

// UpdateTaskStatus 更新任务状态并发布通知
func (q *RedisQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now

	if status == StatusProcessing {
		task.Attempts++
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	}
	if status.Terminal() {
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = resultBytes
	}
	if errMsg != "" {
		task.Error = errMsg
	}

	if err := q.saveTaskToRedis(ctx, task); err != nil {
		return err
	}

	if err := q.redisClient.Publish(ctx, taskStatusChannelPrefix+taskID, string(status)).Err(); err != nil {
		q.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to publish task status")
	}
	return nil
}

// Close 关闭队列连接
func (q *RedisQueue) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redisClient.Close()
}

// saveTaskToRedis 将任务信息保存到Redis
func (q *RedisQueue) saveTaskToRedis(ctx context.Context, task *Task) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.redisClient.Set(ctx, taskKeyPrefix+task.ID, taskData, q.cfg.TaskExpiry).Err(); err != nil {
		return fmt.Errorf("failed to save task data: %w", err)
	}

	if task.RecordID != "" {
		recordKey := recordTasksKeyPrefix + task.RecordID
		if err := q.redisClient.SAdd(ctx, recordKey, task.ID).Err(); err != nil {
			return fmt.Errorf("failed to add task to record tasks: %w", err)
		}
		q.redisClient.Expire(ctx, recordKey, q.cfg.TaskExpiry)
	}
	return nil
}

// RedisWorker 基于asynq.Server的工作者
type RedisWorker struct {
	server   *asynq.Server
	queue    *RedisQueue
	handlers map[TaskType]Handler
	logger   *logrus.Logger
}

// NewRedisWorker 创建Redis工作者
func NewRedisWorker(queue *RedisQueue) *RedisWorker {
	cfg := queue.cfg

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			Logger:      queue.logger,
		},
	)

	return &RedisWorker{
		server:   server,
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *RedisWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.handlers[taskType] = handler
}

// Start 启动工作者
func (w *RedisWorker) Start() error {
	mux := asynq.NewServeMux()
	for taskType := range w.handlers {
		mux.HandleFunc(string(taskType), w.handle)
		w.logger.WithField("task_type", taskType).Info("Registered handler for task type")
	}
	return w.server.Start(mux)
}

// Stop 停止工作者，等待处理中的任务结束
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
}

// handle 执行一次asynq投递：维护任务记录状态并调用处理器
func (w *RedisWorker) handle(ctx context.Context, t *asynq.Task) error {
	taskID := string(t.Payload())
	log := w.logger.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

	handler, ok := w.handlers[TaskType(t.Type())]
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrNoHandler, t.Type(), asynq.SkipRetry)
	}

	task, err := w.queue.GetTask(ctx, taskID)
	if err != nil {
		// 任务记录被删除说明任务已取消
		if errors.Is(err, ErrTaskNotFound) {
			log.Info("Task record not found, skipping cancelled task")
		} else {
			log.WithError(err).Error("Failed to get task info")
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""); err != nil {
		log.WithError(err).Error("Failed to update task status to processing")
	}

	start := time.Now()
	result, err := handler.ProcessTask(ctx, task)
	if err != nil {
		log.WithError(err).WithField("duration", time.Since(start)).Error("Task failed")
		if updateErr := w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, result, err.Error()); updateErr != nil {
			log.WithError(updateErr).Error("Failed to update task status after failure")
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""); err != nil {
		log.WithError(err).Error("Failed to update task status after completion")
	}
	log.WithField("duration", time.Since(start)).Info("Task completed")
	return nil
}

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		q, err := NewRedisQueue(cfg)
		if err != nil {
			return nil, err
		}
		return q, nil
	})
}
