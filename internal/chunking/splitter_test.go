package chunking

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingReader 读取limit字节后返回错误
type failingReader struct {
	data  []byte
	limit int
	pos   int
	err   error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= r.limit {
		return 0, r.err
	}
	n := copy(p, r.data[r.pos:r.limit])
	r.pos += n
	return n, nil
}

// TestSplitterCoverage 测试分块覆盖整个输入
func TestSplitterCoverage(t *testing.T) {
	cases := []struct {
		name      string
		length    int
		chunkSize int
	}{
		{"exact multiple", 64, 16},
		{"short tail", 70, 16},
		{"single chunk", 10, 16},
		{"chunk size one", 7, 1},
		{"equal to chunk size", 16, 16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := bytes.Repeat([]byte("abcdefghij"), tc.length/10+1)[:tc.length]
			chunks, err := SplitAll(bytes.NewReader(data), tc.chunkSize)
			require.NoError(t, err)

			assert.Equal(t, ChunkCount(int64(tc.length), tc.chunkSize), len(chunks))

			total := 0
			var joined []byte
			for i, c := range chunks {
				assert.Equal(t, i, c.Index, "索引应连续")
				assert.Equal(t, len(c.Data), c.Length)
				if i < len(chunks)-1 {
					assert.Equal(t, tc.chunkSize, c.Length, "非最后分块应为满块")
				} else {
					assert.LessOrEqual(t, c.Length, tc.chunkSize)
					assert.Greater(t, c.Length, 0)
				}
				total += c.Length
				joined = append(joined, c.Data...)
			}
			assert.Equal(t, tc.length, total)
			assert.Equal(t, data, joined)
		})
	}
}

// TestSplitterEmptyInput 测试空输入
func TestSplitterEmptyInput(t *testing.T) {
	chunks, err := SplitAll(bytes.NewReader(nil), 8)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	s, err := NewSplitter(bytes.NewReader(nil), 8)
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	// 序列结束后继续返回EOF
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// TestSplitterInvalidChunkSize 测试非法分块大小
func TestSplitterInvalidChunkSize(t *testing.T) {
	_, err := NewSplitter(bytes.NewReader([]byte("x")), 0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = SplitAll(bytes.NewReader([]byte("x")), -1)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

// TestSplitterDataIsCopied 测试分块数据独立于读取缓冲区
func TestSplitterDataIsCopied(t *testing.T) {
	data := []byte("aaaabbbbcccc")
	s, err := NewSplitter(bytes.NewReader(data), 4)
	require.NoError(t, err)

	first, err := s.Next()
	require.NoError(t, err)
	second, err := s.Next()
	require.NoError(t, err)

	assert.Equal(t, "aaaa", string(first.Data), "后续读取不应覆盖之前的分块")
	assert.Equal(t, "bbbb", string(second.Data))
	assert.Equal(t, int64(8), s.Offset())
}

// TestSplitterReadError 测试读取失败
func TestSplitterReadError(t *testing.T) {
	boom := errors.New("disk gone")
	r := &failingReader{data: bytes.Repeat([]byte("x"), 100), limit: 10, err: boom}

	chunks, err := SplitAll(r, 4)
	require.Error(t, err)

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, readErr.Chunks, "出错前产出两个满块")
	assert.Equal(t, int64(10), readErr.Offset)
	assert.Len(t, chunks, 2)
	t.Logf("read error: %v", err)
}
