package chunking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidChunkSize 分块大小必须为正数
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrNilTransform 未提供分块转换函数
	ErrNilTransform = errors.New("chunk transform is nil")

	// ErrChunkOutOfOrder 分块来源产出的索引不连续
	ErrChunkOutOfOrder = errors.New("chunk index out of order")
)

// ReadError 读取源数据流失败
// Offset为出错时已成功读取的字节数，已产出的分块仍然有效
type ReadError struct {
	Offset int64 // 出错位置
	Chunks int   // 出错前已产出的分块数
	Err    error // 底层错误
}

// Error 实现error接口
func (e *ReadError) Error() string {
	return fmt.Sprintf("read error at offset %d after %d chunks: %v", e.Offset, e.Chunks, e.Err)
}

// Unwrap 返回底层错误
func (e *ReadError) Unwrap() error {
	return e.Err
}

// TransformError 单个分块转换失败
type TransformError struct {
	Index int   // 分块索引
	Err   error // 转换函数返回的错误
}

// Error 实现error接口
func (e *TransformError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

// Unwrap 返回底层错误
func (e *TransformError) Unwrap() error {
	return e.Err
}

// ProcessError 一次处理中所有失败分块的汇总
// 所有分块执行结束后才会产生，Failed按索引升序排列
type ProcessError struct {
	Total  int               // 提交的分块总数
	Failed []*TransformError // 失败的分块
}

// Error 实现error接口
func (e *ProcessError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d of %d chunks failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

// Unwrap 支持errors.Is/errors.As遍历每个分块错误
func (e *ProcessError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// newProcessError 汇总分块错误，没有错误时返回nil
func newProcessError(total int, failed []*TransformError) error {
	if len(failed) == 0 {
		return nil
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].Index < failed[j].Index
	})
	return &ProcessError{Total: total, Failed: failed}
}
