package chunking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// TestSelectStrategy 测试阈值边界
func TestSelectStrategy(t *testing.T) {
	const threshold = 10 * MiB
	assert.Equal(t, Direct, SelectStrategy(0, threshold))
	assert.Equal(t, Direct, SelectStrategy(1024, threshold))
	assert.Equal(t, Direct, SelectStrategy(threshold-1, threshold))
	assert.Equal(t, Chunked, SelectStrategy(threshold, threshold))
	assert.Equal(t, Chunked, SelectStrategy(25*MiB, threshold))

	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "chunked", Chunked.String())
	assert.Equal(t, "unknown", Strategy(9).String())
}

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 0, ChunkCount(0, 2*MiB))
	assert.Equal(t, 1, ChunkCount(1, 2*MiB))
	assert.Equal(t, 5, ChunkCount(10*MiB, 2*MiB))
	assert.Equal(t, 6, ChunkCount(10*MiB+1, 2*MiB))
	assert.Equal(t, 13, ChunkCount(25*MiB, 2*MiB))
	assert.Equal(t, 0, ChunkCount(100, 0))
}

// TestEnginePlan 测试处理计划
func TestEnginePlan(t *testing.T) {
	engine, err := NewEngine(DefaultConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)

	plan := engine.Plan(25 * MiB)
	assert.Equal(t, Chunked, plan.Strategy)
	assert.Equal(t, 13, plan.ChunkCount)

	plan = engine.Plan(1024)
	assert.Equal(t, Direct, plan.Strategy)
	assert.Equal(t, 1, plan.ChunkCount)

	plan = engine.Plan(0)
	assert.Equal(t, Direct, plan.Strategy)
	assert.Equal(t, 0, plan.ChunkCount)
}

// TestEngineDirect 测试小输入走直接处理
func TestEngineDirect(t *testing.T) {
	engine, err := NewEngine(DefaultConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)

	data := strings.Repeat("a", 1024)
	outcome, err := engine.Process(context.Background(), strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, Direct, outcome.Strategy)
	assert.Equal(t, 1, outcome.ChunkCount)
	assert.Equal(t, int64(1024), outcome.InputSize)
	assert.Equal(t, data, outcome.Content)
}

// TestEngineChunked 测试大输入分块处理并按序拼接
// 按比例缩小的25MiB场景：阈值10、分块2、长度25
func TestEngineChunked(t *testing.T) {
	cfg := Config{ChunkedThreshold: 10 * 1024, ChunkSize: 2 * 1024, MaxConcurrency: 4}

	var mu sync.Mutex
	lengths := map[int]int{}
	transform := func(c Chunk) (string, error) {
		mu.Lock()
		lengths[c.Index] = c.Length
		mu.Unlock()
		return fmt.Sprintf("<%d:%d>", c.Index, c.Length), nil
	}

	engine, err := NewEngine(cfg, WithTransform(transform), WithLogger(quietLogger()))
	require.NoError(t, err)

	length := 25 * 1024
	data := bytes.Repeat([]byte("z"), length)
	outcome, err := engine.Process(context.Background(), bytes.NewReader(data), int64(length))
	require.NoError(t, err)

	assert.Equal(t, Chunked, outcome.Strategy)
	assert.Equal(t, 13, outcome.ChunkCount)
	assert.Equal(t, int64(length), outcome.InputSize)

	var want strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&want, "<%d:%d>", i, 2048)
		assert.Equal(t, 2048, lengths[i])
	}
	fmt.Fprintf(&want, "<12:%d>", 1024)
	assert.Equal(t, 1024, lengths[12])
	assert.Equal(t, want.String(), outcome.Content)
}

// TestEngineChunkedIdentity 测试原样转换时输出等于输入
func TestEngineChunkedIdentity(t *testing.T) {
	cfg := Config{ChunkedThreshold: 100, ChunkSize: 7, MaxConcurrency: 3}
	engine, err := NewEngine(cfg, WithTransform(Raw), WithLogger(quietLogger()))
	require.NoError(t, err)

	data := strings.Repeat("hello, world. ", 50)
	for i := 0; i < 3; i++ {
		outcome, err := engine.Process(context.Background(), strings.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, data, outcome.Content, "多次运行结果应一致")
	}
}

// TestEngineReadsOnlyDeclaredLength 测试只读取声明的长度
func TestEngineReadsOnlyDeclaredLength(t *testing.T) {
	engine, err := NewEngine(DefaultConfig(), WithTransform(Raw), WithLogger(quietLogger()))
	require.NoError(t, err)

	outcome, err := engine.Process(context.Background(), strings.NewReader("abcdefgh"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", outcome.Content)
}

// TestEngineTransformFailure 测试任一分块失败时不产出内容
func TestEngineTransformFailure(t *testing.T) {
	boom := errors.New("cannot decode")
	transform := func(c Chunk) (string, error) {
		if c.Index == 2 {
			return "", boom
		}
		return string(c.Data), nil
	}

	cfg := Config{ChunkedThreshold: 10, ChunkSize: 4, MaxConcurrency: 2}
	engine, err := NewEngine(cfg, WithTransform(transform), WithLogger(quietLogger()))
	require.NoError(t, err)

	outcome, err := engine.Process(context.Background(), strings.NewReader(strings.Repeat("x", 20)), 20)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, boom)

	// 直接处理路径的失败同样以分块0报告
	direct, err := NewEngine(Config{ChunkedThreshold: 1000, ChunkSize: 4}, WithTransform(func(Chunk) (string, error) {
		return "", boom
	}), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = direct.Process(context.Background(), strings.NewReader("small"), 5)
	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 0, procErr.Failed[0].Index)
}

// TestEngineReadFailure 测试源数据读取失败
func TestEngineReadFailure(t *testing.T) {
	boom := errors.New("network down")
	cfg := Config{ChunkedThreshold: 10, ChunkSize: 4, MaxConcurrency: 2}
	engine, err := NewEngine(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)

	r := &failingReader{data: bytes.Repeat([]byte("x"), 40), limit: 9, err: boom}
	_, err = engine.Process(context.Background(), r, 40)
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, boom)
}

// TestEngineShortInput 测试实际数据少于声明长度时报告读取错误
func TestEngineShortInput(t *testing.T) {
	t.Run("chunked", func(t *testing.T) {
		cfg := Config{ChunkedThreshold: 10, ChunkSize: 4, MaxConcurrency: 2}
		engine, err := NewEngine(cfg, WithTransform(Raw), WithLogger(quietLogger()))
		require.NoError(t, err)

		outcome, err := engine.Process(context.Background(), strings.NewReader("abcdef"), 40)
		assert.Nil(t, outcome)
		var readErr *ReadError
		require.ErrorAs(t, err, &readErr)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Equal(t, int64(6), readErr.Offset)
		assert.Equal(t, 2, readErr.Chunks)
		t.Logf("error: %v", err)
	})

	t.Run("direct", func(t *testing.T) {
		engine, err := NewEngine(DefaultConfig(), WithTransform(Raw), WithLogger(quietLogger()))
		require.NoError(t, err)

		outcome, err := engine.Process(context.Background(), strings.NewReader("abc"), 100)
		assert.Nil(t, outcome)
		var readErr *ReadError
		require.ErrorAs(t, err, &readErr)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Equal(t, int64(3), readErr.Offset)
	})

	t.Run("chunk boundary", func(t *testing.T) {
		cfg := Config{ChunkedThreshold: 10, ChunkSize: 4, MaxConcurrency: 2}
		engine, err := NewEngine(cfg, WithTransform(Raw), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = engine.Process(context.Background(), strings.NewReader("abcdefgh"), 12)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

// TestEnginePlainTextMultiByte 测试分块切开多字节字符时内容不被破坏
func TestEnginePlainTextMultiByte(t *testing.T) {
	data := "中文内容"

	chunked, err := NewEngine(Config{ChunkedThreshold: 1, ChunkSize: 4, MaxConcurrency: 3},
		WithTransform(PlainText), WithLogger(quietLogger()))
	require.NoError(t, err)
	outcome, err := chunked.Process(context.Background(), strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, Chunked, outcome.Strategy)
	assert.Equal(t, 3, outcome.ChunkCount)
	assert.Equal(t, data, outcome.Content)

	direct, err := NewEngine(DefaultConfig(), WithTransform(PlainText), WithLogger(quietLogger()))
	require.NoError(t, err)
	directOutcome, err := direct.Process(context.Background(), strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, directOutcome.Content, outcome.Content)

	// 真正的非法字节在拼接后替换为U+FFFD
	bad := "ok\xff"
	outcome, err = direct.Process(context.Background(), strings.NewReader(bad), int64(len(bad)))
	require.NoError(t, err)
	assert.Equal(t, "ok\uFFFD", outcome.Content)
}

// TestEngineCanceledContext 测试已取消的上下文
func TestEngineCanceledContext(t *testing.T) {
	engine, err := NewEngine(DefaultConfig(), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Process(ctx, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{ChunkedThreshold: 10, ChunkSize: 0})
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = NewEngine(Config{ChunkedThreshold: 0, ChunkSize: 10})
	assert.Error(t, err)

	engine, err := NewEngine(Config{ChunkedThreshold: 10, ChunkSize: 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency(), engine.Config().MaxConcurrency)
}

// TestAssembleMap 测试结果到达顺序不影响拼接
func TestAssembleMap(t *testing.T) {
	results := map[int]string{}
	order := []int{4, 0, 3, 1, 2}
	for _, i := range order {
		results[i] = fmt.Sprintf("%d|", i)
	}
	assert.Equal(t, "0|1|2|3|4|", AssembleMap(results))
	assert.Equal(t, AssembleMap(results), AssembleMap(results))
	assert.Equal(t, "", AssembleMap(nil))
	assert.Equal(t, "", Assemble(nil, 10))
	assert.Equal(t, "ab", Assemble([]string{"a", "b"}, 0))
}

// TestPlainTextTransform 测试文本规范化
func TestPlainTextTransform(t *testing.T) {
	text, err := PlainText(Chunk{Data: []byte("  line1\r\nline2\x00 \n")})
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", text)

	// 非法字节在单个分块内保留，由引擎统一替换
	text, err = PlainText(Chunk{Data: []byte{'o', 'k', 0xff}})
	require.NoError(t, err)
	assert.Equal(t, "ok\xff", text)

	tf, err := LookupTransform("")
	require.NoError(t, err)
	assert.NotNil(t, tf)

	_, err = LookupTransform("does-not-exist")
	assert.Error(t, err)

	RegisterTransform("upper", func(c Chunk) (string, error) {
		return strings.ToUpper(string(c.Data)), nil
	})
	tf, err = LookupTransform("upper")
	require.NoError(t, err)
	out, _ := tf(Chunk{Data: []byte("abc")})
	assert.Equal(t, "ABC", out)
}
