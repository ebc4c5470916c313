package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalStorage 测试本地存储实现
func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	store, err := NewStorage(ctx, Config{Type: "local", Local: LocalConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())

	content := "这是测试文件内容"

	info, err := store.Save(ctx, strings.NewReader(content), "notes.TXT", int64(len(content)))
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "notes.TXT", info.Name)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, "text/plain", info.MimeType)
	assert.True(t, strings.HasSuffix(info.Path, info.ID+".txt"))
	t.Logf("saved path: %s", info.Path)

	t.Run("Open", func(t *testing.T) {
		rc, err := store.Open(ctx, info.Path)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, info.Path)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, "2020/01/01/missing.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, info.Path))
		ok, err := store.Exists(ctx, info.Path)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, store.Delete(ctx, info.Path), ErrNotFound)
		_, err = store.Open(ctx, info.Path)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Path traversal", func(t *testing.T) {
		_, err := store.Open(ctx, "../../etc/passwd")
		assert.Error(t, err)
		assert.Error(t, store.Delete(ctx, ".."))
	})
}

// TestLocalStorageSizeMismatch 测试声明大小与实际不一致时不留下文件
func TestLocalStorageSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(LocalConfig{Path: dir})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), bytes.NewReader([]byte("short")), "a.txt", 100)
	require.Error(t, err)

	var files []string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	assert.Empty(t, files, "失败时不应留下文件")
}

func TestUnknownStorageType(t *testing.T) {
	_, err := NewStorage(context.Background(), Config{Type: "ftp"})
	assert.Error(t, err)

	_, err = NewStorage(context.Background(), Config{Type: "s3"})
	assert.Error(t, err, "缺少bucket")
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "text/markdown", MimeType("README.md"))
	assert.Equal(t, "text/csv", MimeType("data.CSV"))
	assert.Equal(t, "application/octet-stream", MimeType("archive.bin"))
}
