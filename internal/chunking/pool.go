package chunking

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// maxDefaultConcurrency 默认并发上限
const maxDefaultConcurrency = 4

// Transform 分块转换函数，将分块数据转换为文本
type Transform func(c Chunk) (string, error)

// DefaultConcurrency 返回默认并发数 min(NumCPU, 4)
func DefaultConcurrency() int {
	n := runtime.NumCPU()
	if n > maxDefaultConcurrency {
		n = maxDefaultConcurrency
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pool 有界并发的分块工作池
// 同时执行的转换不超过maxConcurrency个，提交在池满时阻塞
type Pool struct {
	maxConcurrency int
	logger         *logrus.Logger
}

// PoolOption 工作池配置选项
type PoolOption func(*Pool)

// WithPoolLogger 设置日志记录器
func WithPoolLogger(logger *logrus.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool 创建工作池，maxConcurrency<=0时使用默认值
func NewPool(maxConcurrency int, opts ...PoolOption) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency()
	}

	p := &Pool{
		maxConcurrency: maxConcurrency,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxConcurrency 返回并发上限
func (p *Pool) MaxConcurrency() int {
	return p.maxConcurrency
}

// slot 单个分块的结果槽位
// 每个槽位只被一个worker写入，读取发生在所有worker结束之后
type slot struct {
	text string
	err  error
	done bool
}

// Results 按索引寻址的分块结果
type Results struct {
	slots []*slot
}

// newResults 创建预分配容量的结果集
func newResults(capacity int) *Results {
	if capacity < 0 {
		capacity = 0
	}
	return &Results{slots: make([]*slot, 0, capacity)}
}

// add 为下一个索引追加槽位，只能由提交协程调用
func (r *Results) add(index int) (*slot, error) {
	if index != len(r.slots) {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrChunkOutOfOrder, index, len(r.slots))
	}
	s := &slot{}
	r.slots = append(r.slots, s)
	return s, nil
}

// Len 返回分块数量
func (r *Results) Len() int {
	return len(r.slots)
}

// Text 返回指定索引的转换结果
func (r *Results) Text(index int) string {
	return r.slots[index].text
}

// Err 返回指定索引的转换错误
func (r *Results) Err(index int) error {
	return r.slots[index].err
}

// Texts 按索引顺序返回所有文本
func (r *Results) Texts() []string {
	texts := make([]string, len(r.slots))
	for i, s := range r.slots {
		texts[i] = s.text
	}
	return texts
}

// Assemble 按索引顺序拼接所有结果
func (r *Results) Assemble() string {
	return Assemble(r.Texts(), 0)
}

// failures 收集失败的分块
func (r *Results) failures() []*TransformError {
	var failed []*TransformError
	for i, s := range r.slots {
		if s.err != nil {
			failed = append(failed, &TransformError{Index: i, Err: s.err})
			continue
		}
		if !s.done {
			failed = append(failed, &TransformError{Index: i, Err: errors.New("chunk produced no result")})
		}
	}
	return failed
}

// Process 从src读取所有分块并用transform并发处理
// expected为预估分块数，仅用于预分配
// 单个分块失败不会取消其他分块，全部结束后以*ProcessError汇总返回；
// 读取失败时等待已提交的分块结束并返回*ReadError
func (p *Pool) Process(src ChunkSource, expected int, transform Transform) (*Results, error) {
	if transform == nil {
		return nil, ErrNilTransform
	}

	pool, err := ants.NewPool(p.maxConcurrency, ants.WithPanicHandler(func(v interface{}) {
		p.logger.WithField("panic", v).Error("Chunk worker panicked outside transform")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	results := newResults(expected)
	var wg sync.WaitGroup
	var readErr error
	var offset int64

	for {
		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		s, err := results.add(chunk.Index)
		if err != nil {
			readErr = &ReadError{Offset: offset, Chunks: results.Len(), Err: err}
			break
		}
		offset += int64(chunk.Length)
		c := chunk

		wg.Add(1)
		// 池满时Submit阻塞，直到有worker空闲
		submitErr := pool.Submit(func() {
			defer wg.Done()
			s.text, s.err = runTransform(transform, c)
			s.done = true
		})
		if submitErr != nil {
			wg.Done()
			s.err = fmt.Errorf("failed to submit chunk: %w", submitErr)
			s.done = true
		}
	}

	// 调用方阻塞直到所有已提交的分块结束
	wg.Wait()

	if readErr != nil {
		p.logger.WithFields(logrus.Fields{
			"submitted": results.Len(),
			"error":     readErr,
		}).Warn("Source read failed, chunk processing aborted")
		return results, readErr
	}

	failed := results.failures()
	if len(failed) > 0 {
		p.logger.WithFields(logrus.Fields{
			"total":  results.Len(),
			"failed": len(failed),
		}).Warn("Chunk transforms failed")
	}

	return results, newProcessError(results.Len(), failed)
}

// runTransform 执行转换并把panic转换为错误
func runTransform(transform Transform, c Chunk) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return transform(c)
}
