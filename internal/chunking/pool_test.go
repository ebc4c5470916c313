package chunking

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource 以切片作为分块序列
type sliceSource struct {
	chunks []Chunk
	pos    int
	err    error // 切片耗尽后返回的错误，nil表示io.EOF
}

func (s *sliceSource) Next() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func makeChunks(n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		data := []byte(fmt.Sprintf("[%03d]", i))
		chunks[i] = Chunk{Index: i, Data: data, Length: len(data)}
	}
	return chunks
}

func expectedText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%03d]", i)
	}
	return b.String()
}

// TestPoolPreservesOrder 测试乱序完成时结果仍按索引拼接
func TestPoolPreservesOrder(t *testing.T) {
	const n = 40
	pool := NewPool(4)

	for round := 0; round < 3; round++ {
		seed := int64(round)
		transform := func(c Chunk) (string, error) {
			// 每个分块随机延迟，制造乱序完成
			r := rand.New(rand.NewSource(seed + int64(c.Index)))
			time.Sleep(time.Duration(r.Intn(5)) * time.Millisecond)
			return string(c.Data), nil
		}

		results, err := pool.Process(&sliceSource{chunks: makeChunks(n)}, n, transform)
		require.NoError(t, err)
		assert.Equal(t, n, results.Len())
		assert.Equal(t, expectedText(n), results.Assemble())
	}
}

// TestPoolConcurrencyBound 测试同时运行的转换不超过上限，且能达到上限
func TestPoolConcurrencyBound(t *testing.T) {
	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			var running, peak int32
			// 前limit个分块同时运行时打开屏障
			reached := make(chan struct{})
			var once sync.Once
			transform := func(c Chunk) (string, error) {
				cur := atomic.AddInt32(&running, 1)
				defer atomic.AddInt32(&running, -1)
				for {
					old := atomic.LoadInt32(&peak)
					if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
						break
					}
				}
				if int(cur) >= limit {
					once.Do(func() { close(reached) })
				}
				select {
				case <-reached:
				case <-time.After(2 * time.Second):
				}
				time.Sleep(time.Millisecond)
				return string(c.Data), nil
			}

			pool := NewPool(limit)
			results, err := pool.Process(&sliceSource{chunks: makeChunks(20)}, 20, transform)
			require.NoError(t, err)
			assert.Equal(t, 20, results.Len())
			assert.Equal(t, limit, int(atomic.LoadInt32(&peak)))
			t.Logf("limit=%d peak=%d", limit, peak)
		})
	}
}

// TestPoolOutOfOrderSource 测试来源索引不连续时返回错误而不是panic
func TestPoolOutOfOrderSource(t *testing.T) {
	chunks := makeChunks(3)
	src := &sliceSource{chunks: []Chunk{chunks[0], chunks[2]}}

	var results *Results
	var err error
	require.NotPanics(t, func() {
		results, err = NewPool(2).Process(src, 2, Raw)
	})

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, ErrChunkOutOfOrder)
	assert.Equal(t, 1, readErr.Chunks)
	assert.Equal(t, int64(chunks[0].Length), readErr.Offset)
	assert.Equal(t, 1, results.Len())
	assert.Equal(t, "[000]", results.Text(0))
	t.Logf("error: %v", err)
}

// TestPoolFailTogether 测试单个分块失败时其他分块仍然执行并汇总错误
func TestPoolFailTogether(t *testing.T) {
	var executed int32
	boom := errors.New("bad chunk")
	transform := func(c Chunk) (string, error) {
		atomic.AddInt32(&executed, 1)
		if c.Index == 3 || c.Index == 7 {
			return "", boom
		}
		return string(c.Data), nil
	}

	pool := NewPool(2)
	results, err := pool.Process(&sliceSource{chunks: makeChunks(10)}, 10, transform)
	require.Error(t, err)

	assert.Equal(t, int32(10), atomic.LoadInt32(&executed), "失败不应取消其他分块")
	assert.ErrorIs(t, err, boom)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 10, procErr.Total)
	require.Len(t, procErr.Failed, 2)
	assert.Equal(t, 3, procErr.Failed[0].Index)
	assert.Equal(t, 7, procErr.Failed[1].Index)

	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "2 of 10 chunks failed")

	require.NotNil(t, results)
	assert.Equal(t, "[000]", results.Text(0))
	assert.ErrorIs(t, results.Err(3), boom)
}

// TestPoolRecoversPanic 测试转换panic被转换为分块错误
func TestPoolRecoversPanic(t *testing.T) {
	transform := func(c Chunk) (string, error) {
		if c.Index == 1 {
			panic("kaboom")
		}
		return string(c.Data), nil
	}

	_, err := NewPool(2).Process(&sliceSource{chunks: makeChunks(3)}, 3, transform)
	require.Error(t, err)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	require.Len(t, procErr.Failed, 1)
	assert.Equal(t, 1, procErr.Failed[0].Index)
	assert.Contains(t, procErr.Failed[0].Error(), "kaboom")
}

// TestPoolReadErrorAbort 测试读取失败时等待已提交分块后返回读取错误
func TestPoolReadErrorAbort(t *testing.T) {
	var executed int32
	readErr := &ReadError{Offset: 15, Chunks: 3, Err: errors.New("connection reset")}
	src := &sliceSource{chunks: makeChunks(3), err: readErr}

	results, err := NewPool(2).Process(src, 5, func(c Chunk) (string, error) {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&executed, 1)
		return string(c.Data), nil
	})
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*ReadError))
	assert.Equal(t, int32(3), atomic.LoadInt32(&executed), "已提交的分块应全部完成")
	assert.Equal(t, 3, results.Len())
}

// TestPoolNilTransform 测试缺少转换函数
func TestPoolNilTransform(t *testing.T) {
	_, err := NewPool(1).Process(&sliceSource{}, 0, nil)
	assert.ErrorIs(t, err, ErrNilTransform)
}

// TestPoolWithSplitter 测试与分块器配合使用
func TestPoolWithSplitter(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	s, err := NewSplitter(bytes.NewReader(data), 64)
	require.NoError(t, err)

	results, err := NewPool(3).Process(s, ChunkCount(int64(len(data)), 64), Raw)
	require.NoError(t, err)
	assert.Equal(t, 16, results.Len())
	assert.Equal(t, string(data), results.Assemble())
}

func TestDefaultConcurrency(t *testing.T) {
	n := DefaultConcurrency()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
	assert.Equal(t, n, NewPool(0).MaxConcurrency())
}
