package indexing

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// DefaultCeiling 默认索引内容上限
const DefaultCeiling = 10 << 20

// truncationMarkerFormat 截断标记，N为被省略的字节数
const truncationMarkerFormat = "...[truncated: %d bytes]"

// SubmitResult 提交结果
type SubmitResult struct {
	DocumentID      string // 后端返回的文档标识
	Truncated       bool   // 是否提交了截断后的文档
	ContentSize     int    // 实际提交的内容字节数（含截断标记）
	FullContentSize int    // 原始内容字节数
}

// Submitter 按大小上限提交文档
// 内容超过上限时提交截断并标注的文档，而不是整体失败
type Submitter struct {
	backend      Backend
	ceiling      int
	runeBoundary bool
	logger       *logrus.Logger
}

// SubmitterOption 提交器配置选项
type SubmitterOption func(*Submitter)

// WithRuneBoundary 截断时是否对齐到UTF-8字符边界
func WithRuneBoundary(enabled bool) SubmitterOption {
	return func(s *Submitter) {
		s.runeBoundary = enabled
	}
}

// WithSubmitterLogger 设置日志记录器
func WithSubmitterLogger(logger *logrus.Logger) SubmitterOption {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubmitter 创建提交器
func NewSubmitter(backend Backend, ceiling int, opts ...SubmitterOption) (*Submitter, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if ceiling <= 0 {
		return nil, fmt.Errorf("indexing ceiling must be positive, got %d", ceiling)
	}

	s := &Submitter{
		backend:      backend,
		ceiling:      ceiling,
		runeBoundary: true,
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ceiling 返回内容上限
func (s *Submitter) Ceiling() int {
	return s.ceiling
}

// Backend 返回索引后端
func (s *Submitter) Backend() Backend {
	return s.backend
}

// Prepare 决定提交原文档还是截断后的文档
func (s *Submitter) Prepare(doc *IndexableDocument) Document {
	return Reduce(doc, s.ceiling, s.runeBoundary)
}

// Submit 提交文档到索引后端，不做重试
func (s *Submitter) Submit(ctx context.Context, doc *IndexableDocument) (*SubmitResult, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}

	prepared := s.Prepare(doc)
	logger := s.logger.WithFields(logrus.Fields{
		"backend":   s.backend.Name(),
		"file_name": doc.FileName,
		"size":      len(doc.Content),
		"truncated": prepared.Truncated(),
	})
	if prepared.Truncated() {
		logger.WithField("ceiling", s.ceiling).Warn("Document content exceeds indexing ceiling, submitting truncated variant")
	}

	resp, err := s.backend.Index(ctx, prepared)
	if err != nil {
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			err = &BackendError{Backend: s.backend.Name(), Err: err}
		}
		logger.WithError(err).Error("Failed to index document")
		return nil, err
	}
	if !resp.Valid {
		err := &BackendError{Backend: s.backend.Name(), Valid: false, Diagnostic: resp.Diagnostic}
		logger.WithField("diagnostic", resp.Diagnostic).Error("Index backend rejected document")
		return nil, err
	}

	logger.WithField("document_id", resp.ID).Info("Document indexed")

	return &SubmitResult{
		DocumentID:      resp.ID,
		Truncated:       prepared.Truncated(),
		ContentSize:     len(prepared.Body()),
		FullContentSize: len(doc.Content),
	}, nil
}

// Reduce 内容不超过ceiling时返回原文档，否则返回截断后的ReducedDocument
// runeBoundary为true时截断点向前移动到完整字符的结尾
func Reduce(doc *IndexableDocument, ceiling int, runeBoundary bool) Document {
	if len(doc.Content) <= ceiling {
		return doc
	}

	cut := ceiling
	if cut < 0 {
		cut = 0
	}
	if runeBoundary {
		cut = runeBoundaryCut(doc.Content, cut)
	}

	omitted := len(doc.Content) - cut
	content := doc.Content[:cut] + fmt.Sprintf(truncationMarkerFormat, omitted)
	return NewReducedDocument(doc, content)
}

// runeBoundaryCut 返回不超过cut且不切断多字节字符的位置
func runeBoundaryCut(s string, cut int) int {
	if cut >= len(s) {
		return len(s)
	}
	// UTF-8字符最长4字节，最多回退3字节；非法序列按字节截断
	for i := cut; i > 0 && i > cut-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			return i
		}
	}
	return cut
}
