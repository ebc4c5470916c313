package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig 写出使用badger后端的小阈值配置
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
processing:
  chunked_threshold: 64
  chunk_size: 16
  max_concurrency: 2
  indexing_ceiling: 40
index:
  type: badger
  path: ` + filepath.Join(dir, "index") + `
database:
  dsn: ` + filepath.Join(dir, "indexer.db") + `
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"indexctl"}, args...))
	t.Logf("stderr: %s", errOut.String())
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	t.Run("direct below threshold", func(t *testing.T) {
		out, err := runApp(t, "--config", cfgPath, "plan", "--size", "63")
		require.NoError(t, err)
		assert.Contains(t, out, "strategy=direct chunks=1")
	})

	t.Run("chunked at threshold", func(t *testing.T) {
		out, err := runApp(t, "--config", cfgPath, "plan", "--size", "64")
		require.NoError(t, err)
		assert.Contains(t, out, "strategy=chunked chunks=4")
	})

	t.Run("size is required", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "plan")
		assert.Error(t, err)
	})
}

func TestIndexAndGetCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)
	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte(strings.Repeat("a", 100)), 0644))

	out, err := runApp(t, "--config", cfgPath, "index", input)
	require.NoError(t, err)
	assert.Contains(t, out, "backend=badger strategy=chunked chunks=7 truncated=true")

	match := regexp.MustCompile(`id=(\S+)`).FindStringSubmatch(out)
	require.Len(t, match, 2)

	out, err = runApp(t, "--config", cfgPath, "get", match[1])
	require.NoError(t, err)

	var doc indexing.StoredDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "notes.txt", doc.FileName)
	assert.True(t, doc.ContentTruncated)
	assert.Equal(t, int64(100), doc.FullContentSize)
	assert.Equal(t, strings.Repeat("a", 40)+"...[truncated: 60 bytes]", doc.Content)
}

func TestIndexCommand_Errors(t *testing.T) {
	cfgPath := writeTestConfig(t)

	t.Run("missing argument", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "index")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "index", filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})

	t.Run("search missing query", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "search")
		assert.Error(t, err)
	})

	t.Run("search unsupported by badger", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "search", "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support search")
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := runApp(t, "--config", cfgPath, "get", "missing")
		assert.ErrorIs(t, err, indexing.ErrDocumentNotFound)
	})
}
