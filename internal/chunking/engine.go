package chunking

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	// MiB 字节单位
	MiB = 1 << 20

	// DefaultChunkedThreshold 默认分块处理阈值
	DefaultChunkedThreshold = 10 * MiB
	// DefaultChunkSize 默认分块大小
	DefaultChunkSize = 2 * MiB
)

// Config 处理引擎配置
type Config struct {
	ChunkedThreshold int64 // 达到该长度时使用分块处理
	ChunkSize        int   // 分块大小（字节）
	MaxConcurrency   int   // 最大并发转换数
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ChunkedThreshold: DefaultChunkedThreshold,
		ChunkSize:        DefaultChunkSize,
		MaxConcurrency:   DefaultConcurrency(),
	}
}

// Plan 对给定输入长度的处理计划
type Plan struct {
	Strategy   Strategy
	ChunkCount int
}

// Outcome 一次处理的结果
type Outcome struct {
	Content    string        // 拼接后的内容
	Strategy   Strategy      // 使用的策略
	ChunkCount int           // 分块数量，直接处理时为1（空输入为0）
	InputSize  int64         // 实际读取的字节数
	Duration   time.Duration // 处理耗时
}

// Engine 根据输入大小选择策略并把输入转换为可索引文本
type Engine struct {
	cfg       Config
	transform Transform
	pool      *Pool
	logger    *logrus.Logger
}

// EngineOption 引擎配置选项
type EngineOption func(*Engine)

// WithTransform 设置分块转换函数
func WithTransform(t Transform) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.transform = t
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine 创建处理引擎
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if cfg.ChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if cfg.ChunkedThreshold <= 0 {
		return nil, fmt.Errorf("chunked threshold must be positive, got %d", cfg.ChunkedThreshold)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConcurrency()
	}

	e := &Engine{
		cfg:       cfg,
		transform: PlainText,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = NewPool(cfg.MaxConcurrency, WithPoolLogger(e.logger))

	return e, nil
}

// Config 返回引擎配置
func (e *Engine) Config() Config {
	return e.cfg
}

// Plan 计算处理计划，不读取任何数据
func (e *Engine) Plan(length int64) Plan {
	strategy := SelectStrategy(length, e.cfg.ChunkedThreshold)
	count := 1
	if strategy == Chunked {
		count = ChunkCount(length, e.cfg.ChunkSize)
	} else if length <= 0 {
		count = 0
	}
	return Plan{Strategy: strategy, ChunkCount: count}
}

// Process 读取长度为length的输入并转换为文本
// ctx只在开始读取前检查，处理开始后不会被中途取消
// 输入不足length字节时返回*ReadError，输出内容总是合法的UTF-8
func (e *Engine) Process(ctx context.Context, r io.Reader, length int64) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	plan := e.Plan(length)
	// 源数据只读取声明的长度
	src := io.LimitReader(r, length)

	logger := e.logger.WithFields(logrus.Fields{
		"strategy": plan.Strategy.String(),
		"length":   length,
	})
	logger.Debug("Processing input")

	var (
		outcome *Outcome
		err     error
	)
	switch plan.Strategy {
	case Chunked:
		outcome, err = e.processChunked(src, length, plan)
	default:
		outcome, err = e.processDirect(src, length)
	}
	if err != nil {
		logger.WithError(err).Warn("Input processing failed")
		return nil, err
	}

	// 分块边界可能切开多字节字符，拼接后统一规范化
	if !utf8.ValidString(outcome.Content) {
		outcome.Content = strings.ToValidUTF8(outcome.Content, string(utf8.RuneError))
	}
	outcome.Duration = time.Since(start)
	logger.WithFields(logrus.Fields{
		"chunks":      outcome.ChunkCount,
		"content_len": len(outcome.Content),
		"duration":    outcome.Duration.String(),
	}).Info("Input processed")

	return outcome, nil
}

// processDirect 一次性读取并转换
func (e *Engine) processDirect(r io.Reader, length int64) (*Outcome, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ReadError{Offset: int64(len(data)), Err: err}
	}
	if int64(len(data)) < length {
		return nil, &ReadError{Offset: int64(len(data)), Err: io.ErrUnexpectedEOF}
	}

	if len(data) == 0 {
		return &Outcome{Strategy: Direct}, nil
	}

	text, err := runTransform(e.transform, Chunk{Index: 0, Data: data, Length: len(data)})
	if err != nil {
		return nil, &ProcessError{Total: 1, Failed: []*TransformError{{Index: 0, Err: err}}}
	}

	return &Outcome{
		Content:    text,
		Strategy:   Direct,
		ChunkCount: 1,
		InputSize:  int64(len(data)),
	}, nil
}

// processChunked 分块、并发转换、按序拼接
func (e *Engine) processChunked(r io.Reader, length int64, plan Plan) (*Outcome, error) {
	splitter, err := NewSplitter(r, e.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	results, err := e.pool.Process(splitter, plan.ChunkCount, e.transform)
	if err != nil {
		// 任何分块失败都不能产出不完整的文档
		return nil, err
	}
	if got := splitter.Offset(); got < length {
		return nil, &ReadError{Offset: got, Chunks: results.Len(), Err: io.ErrUnexpectedEOF}
	}

	hint := int(length)
	if int64(hint) != length || hint < 0 {
		hint = 0
	}

	return &Outcome{
		Content:    Assemble(results.Texts(), hint),
		Strategy:   Chunked,
		ChunkCount: results.Len(),
		InputSize:  splitter.Offset(),
	}, nil
}
