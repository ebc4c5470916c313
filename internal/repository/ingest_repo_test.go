package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/doc-indexer/internal/database"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	require.NoError(t, database.Migrate(db), "Failed to run migrations")

	// 替换全局DB为测试DB
	originalDB := database.DB
	database.DB = db

	cleanup := func() {
		database.DB = originalDB
	}
	return db, cleanup
}

func newRecord(id string, status models.IngestStatus) *models.IngestRecord {
	return &models.IngestRecord{
		ID:          id,
		FileName:    id + ".txt",
		ContentType: "text/plain",
		StoragePath: "uploads/" + id + ".txt",
		FileSize:    1024,
		SHA256:      "sha-" + id,
		Status:      status,
	}
}

func TestIngestRepository_CreateAndGet(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepository()

	record := newRecord("rec-1", models.StatusUploaded)
	require.NoError(t, repo.Create(record))

	saved, err := repo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1.txt", saved.FileName)
	assert.Equal(t, models.StatusUploaded, saved.Status)
	assert.False(t, saved.UploadedAt.IsZero(), "上传时间应自动设置")

	_, err = repo.GetByID("missing")
	assert.ErrorIs(t, err, models.ErrRecordNotFound)

	assert.Error(t, repo.Create(&models.IngestRecord{FileName: "no-id"}))
	assert.ErrorIs(t, repo.Create(newRecord("rec-bad", "weird")), models.ErrInvalidStatus)
}

func TestIngestRepository_UpdateStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepositoryWithDB(db).WithContext(context.Background())
	require.NoError(t, repo.Create(newRecord("rec-2", models.StatusUploaded)))

	// 合法转换
	require.NoError(t, repo.UpdateStatus("rec-2", models.StatusQueued, ""))
	require.NoError(t, repo.UpdateStatus("rec-2", models.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus("rec-2", models.StatusFailed, "backend unavailable"))

	record, err := repo.GetByID("rec-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, record.Status)
	assert.Equal(t, "backend unavailable", record.Error)
	assert.Equal(t, 1, record.Attempts)

	// 失败后可以重新处理
	require.NoError(t, repo.UpdateStatus("rec-2", models.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus("rec-2", models.StatusIndexed, ""))

	record, err = repo.GetByID("rec-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, record.Status)
	assert.Empty(t, record.Error)
	assert.Equal(t, 2, record.Attempts)
	assert.NotNil(t, record.IndexedAt)

	// 非法转换
	err = repo.UpdateStatus("rec-2", models.StatusQueued, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	err = repo.UpdateStatus("missing", models.StatusProcessing, "")
	assert.ErrorIs(t, err, models.ErrRecordNotFound)

	err = repo.UpdateStatus("rec-2", "unknown", "")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestIngestRepository_FindIndexedBySHA256(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepository()

	pending := newRecord("rec-3", models.StatusUploaded)
	pending.SHA256 = "same"
	require.NoError(t, repo.Create(pending))

	found, err := repo.FindIndexedBySHA256("same")
	require.NoError(t, err)
	assert.Nil(t, found, "未索引的记录不应被视为重复")

	require.NoError(t, repo.UpdateStatus("rec-3", models.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus("rec-3", models.StatusIndexed, ""))

	found, err = repo.FindIndexedBySHA256("same")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "rec-3", found.ID)
}

func TestIngestRepository_List(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepository()

	records := []*models.IngestRecord{
		newRecord("rec-4", models.StatusUploaded),
		newRecord("rec-5", models.StatusQueued),
		newRecord("rec-6", models.StatusFailed),
	}
	records[0].UploadedAt = time.Now().Add(-2 * time.Hour)
	records[1].UploadedAt = time.Now().Add(-1 * time.Hour)
	records[1].Strategy = "chunked"
	records[2].UploadedAt = time.Now()
	records[2].Truncated = true
	for _, r := range records {
		require.NoError(t, repo.Create(r))
	}

	result, total, err := repo.List(0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, result, 3)
	assert.Equal(t, "rec-6", result[0].ID, "按上传时间倒序")

	result, total, err = repo.List(1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, result, 1)
	assert.Equal(t, "rec-5", result[0].ID)

	result, total, err = repo.List(0, 10, map[string]interface{}{"status": models.StatusQueued})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "rec-5", result[0].ID)

	_, total, err = repo.List(0, 10, map[string]interface{}{"strategy": "chunked"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = repo.List(0, 10, map[string]interface{}{"truncated": true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = repo.List(0, 10, map[string]interface{}{"file_name": "rec-4"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestIngestRepository_Delete(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepository()
	require.NoError(t, repo.Create(newRecord("rec-7", models.StatusUploaded)))

	require.NoError(t, repo.Delete("rec-7"))
	_, err := repo.GetByID("rec-7")
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
	assert.ErrorIs(t, repo.Delete("rec-7"), models.ErrRecordNotFound)
}

func TestIngestRepository_UpdateFields(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewIngestRepository()
	require.NoError(t, repo.Create(newRecord("rec-8", models.StatusUploaded)))
	require.NoError(t, repo.UpdateStatus("rec-8", models.StatusProcessing, ""))

	err := repo.UpdateFields("rec-8", map[string]interface{}{
		"strategy":    "chunked",
		"chunk_count": 13,
		"truncated":   true,
	})
	require.NoError(t, err)

	got, err := repo.GetByID("rec-8")
	require.NoError(t, err)
	assert.Equal(t, "chunked", got.Strategy)
	assert.Equal(t, 13, got.ChunkCount)
	assert.True(t, got.Truncated)
	assert.Equal(t, models.StatusProcessing, got.Status, "状态不受影响")

	t.Run("Status column rejected", func(t *testing.T) {
		err := repo.UpdateFields("rec-8", map[string]interface{}{"status": models.StatusIndexed})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("Missing record", func(t *testing.T) {
		err := repo.UpdateFields("nope", map[string]interface{}{"strategy": "direct"})
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})
}
