package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisQueue 基于miniredis创建队列
func setupRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	q, err := NewRedisQueue(&Config{RedisAddr: mr.Addr(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestNewRedisQueue(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		q, _ := setupRedisQueue(t)
		assert.Equal(t, "default", q.cfg.QueueName)
		assert.Equal(t, 2, q.cfg.Concurrency)
		assert.Equal(t, defaultTaskExpiry, q.cfg.TaskExpiry)
		assert.Equal(t, map[string]int{"default": 1}, q.cfg.Queues)
	})

	t.Run("Unreachable", func(t *testing.T) {
		_, err := NewRedisQueue(&Config{RedisAddr: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("Factory", func(t *testing.T) {
		mr := miniredis.RunT(t)
		q, err := NewQueue("redis", &Config{RedisAddr: mr.Addr()})
		require.NoError(t, err)
		defer q.Close()

		_, err = NewQueue("kafka", nil)
		assert.Error(t, err)
	})
}

func TestRedisQueue_Enqueue(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskIndexDocument, task.Type)
	assert.Equal(t, "rec-1", task.RecordID)
	assert.Equal(t, StatusPending, task.Status)

	var payload IndexDocumentPayload
	require.NoError(t, UnmarshalPayload(task.Payload, &payload))
	assert.Equal(t, "rec-1", payload.RecordID)

	// 任务记录保留7天
	assert.Equal(t, defaultTaskExpiry, mr.TTL(taskKeyPrefix+taskID))
	t.Logf("enqueued task %s", taskID)
}

func TestRedisQueue_GetTask(t *testing.T) {
	q, _ := setupRedisQueue(t)

	_, err := q.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_GetTasksByRecord(t *testing.T) {
	q, mr := setupRedisQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TaskIndexDocument, "rec-2", &IndexDocumentPayload{RecordID: "rec-2"})
	require.NoError(t, err)

	tasks, err := q.GetTasksByRecord(ctx, "rec-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{first, second}, ids)

	t.Run("Expired task skipped", func(t *testing.T) {
		mr.Del(taskKeyPrefix + first)
		tasks, err := q.GetTasksByRecord(ctx, "rec-1")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, second, tasks[0].ID)
	})

	t.Run("Unknown record", func(t *testing.T) {
		tasks, err := q.GetTasksByRecord(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.NotNil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)

	result := &IndexDocumentResult{RecordID: "rec-1", DocumentID: "doc-9", Strategy: "direct", ChunkCount: 1}
	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))
	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	var got IndexDocumentResult
	require.NoError(t, json.Unmarshal(task.Result, &got))
	assert.Equal(t, *result, got)

	assert.ErrorIs(t, q.UpdateTaskStatus(ctx, "missing", StatusFailed, nil, "x"), ErrTaskNotFound)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
	require.NoError(t, err)

	require.NoError(t, q.DeleteTask(ctx, taskID))
	_, err = q.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := q.GetTasksByRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, q.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	t.Run("Completes", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskIndexDocument, "rec-1", &IndexDocumentPayload{RecordID: "rec-1"})
		require.NoError(t, err)

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = q.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "boom")
		}()

		task, err := q.WaitForTask(ctx, taskID, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.Equal(t, "boom", task.Error)
	})

	t.Run("Timeout", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskIndexDocument, "rec-2", &IndexDocumentPayload{RecordID: "rec-2"})
		require.NoError(t, err)

		_, err = q.WaitForTask(ctx, taskID, 200*time.Millisecond)
		assert.ErrorIs(t, err, ErrTaskTimeout)
	})
}

func TestRedisWorker_Handle(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	var seen []string
	worker := NewRedisWorker(q)
	worker.RegisterHandler(TaskIndexDocument, NewIndexDocumentHandler(
		func(ctx context.Context, recordID string) (*IndexDocumentResult, error) {
			seen = append(seen, recordID)
			if recordID == "bad" {
				return nil, errors.New("backend rejected document")
			}
			return &IndexDocumentResult{RecordID: recordID, DocumentID: "doc-" + recordID, Strategy: "chunked", ChunkCount: 3}, nil
		}, q.logger))

	t.Run("Success", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskIndexDocument, "good", &IndexDocumentPayload{RecordID: "good"})
		require.NoError(t, err)

		err = worker.handle(ctx, asynq.NewTask(string(TaskIndexDocument), []byte(taskID)))
		require.NoError(t, err)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.Equal(t, 1, task.Attempts)

		var result IndexDocumentResult
		require.NoError(t, json.Unmarshal(task.Result, &result))
		assert.Equal(t, "doc-good", result.DocumentID)
		assert.Equal(t, 3, result.ChunkCount)
	})

	t.Run("Failure is not retried", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskIndexDocument, "bad", &IndexDocumentPayload{RecordID: "bad"})
		require.NoError(t, err)

		err = worker.handle(ctx, asynq.NewTask(string(TaskIndexDocument), []byte(taskID)))
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.Contains(t, task.Error, "backend rejected document")
	})

	t.Run("Missing task record", func(t *testing.T) {
		err := worker.handle(ctx, asynq.NewTask(string(TaskIndexDocument), []byte("gone")))
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("Unregistered type", func(t *testing.T) {
		err := worker.handle(ctx, asynq.NewTask("other", []byte("x")))
		assert.ErrorIs(t, err, ErrNoHandler)
	})

	assert.Equal(t, []string{"good", "bad"}, seen)
}

func TestIndexDocumentHandler(t *testing.T) {
	h := NewIndexDocumentHandler(func(ctx context.Context, recordID string) (*IndexDocumentResult, error) {
		return &IndexDocumentResult{RecordID: recordID}, nil
	}, nil)
	ctx := context.Background()

	t.Run("Falls back to task record id", func(t *testing.T) {
		res, err := h.ProcessTask(ctx, &Task{Type: TaskIndexDocument, RecordID: "rec-7", Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, "rec-7", res.(*IndexDocumentResult).RecordID)
	})

	t.Run("Invalid payload", func(t *testing.T) {
		_, err := h.ProcessTask(ctx, &Task{Type: TaskIndexDocument, Payload: json.RawMessage(`{"record_id":`)})
		assert.ErrorIs(t, err, ErrInvalidPayload)

		_, err = h.ProcessTask(ctx, &Task{Type: TaskIndexDocument, Payload: json.RawMessage(`{}`)})
		assert.ErrorIs(t, err, ErrInvalidPayload)

		_, err = h.ProcessTask(ctx, &Task{Type: "other", RecordID: "x"})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}
