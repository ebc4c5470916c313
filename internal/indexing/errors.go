package indexing

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound 文档不存在
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNilDocument 提交了空文档
	ErrNilDocument = errors.New("document is nil")

	// ErrNilBackend 未配置索引后端
	ErrNilBackend = errors.New("index backend is nil")

	// ErrBackendClosed 后端已关闭
	ErrBackendClosed = errors.New("index backend is closed")
)

// BackendError 索引后端拒绝或无法接收文档
// Valid为false表示后端明确拒绝了文档；Err不为空表示传输或存储失败
type BackendError struct {
	Backend    string // 后端名称
	Valid      bool   // 后端返回的有效性标志
	Diagnostic string // 后端返回的诊断信息，原样保留
	Err        error  // 底层错误
}

// Error 实现error接口
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index backend %s failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("index backend %s rejected document: %s", e.Backend, e.Diagnostic)
}

// Unwrap 返回底层错误
func (e *BackendError) Unwrap() error {
	return e.Err
}
