package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyerfyer/doc-indexer/api/middleware"
	"github.com/fyerfyer/doc-indexer/api/model"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/fyerfyer/doc-indexer/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DefaultAllowedExtensions 默认允许上传的文件扩展名
var DefaultAllowedExtensions = []string{".txt", ".md", ".markdown", ".csv", ".json", ".log", ".xml", ".html"}

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	ingest        *services.IngestService
	maxUploadSize int64
	allowed       map[string]bool
	logger        *logrus.Logger
}

// DocumentHandlerOption 文档处理器配置选项
type DocumentHandlerOption func(*DocumentHandler)

// WithMaxUploadSize 设置单个文件的最大字节数，0表示不限制
func WithMaxUploadSize(n int64) DocumentHandlerOption {
	return func(h *DocumentHandler) {
		h.maxUploadSize = n
	}
}

// WithAllowedExtensions 设置允许的扩展名
func WithAllowedExtensions(exts []string) DocumentHandlerOption {
	return func(h *DocumentHandler) {
		if len(exts) == 0 {
			return
		}
		h.allowed = make(map[string]bool, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			h.allowed[ext] = true
		}
	}
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(ingest *services.IngestService, opts ...DocumentHandlerOption) *DocumentHandler {
	h := &DocumentHandler{
		ingest: ingest,
		logger: middleware.GetLogger(),
	}
	WithAllowedExtensions(DefaultAllowedExtensions)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxUploadSize 单个文件的最大字节数
func (h *DocumentHandler) MaxUploadSize() int64 {
	return h.maxUploadSize
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.HandleError(c, middleware.NewTooLargeError(
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
			return
		}
		h.logger.WithError(err).Warn("Invalid document upload request")
		middleware.HandleError(c, middleware.NewValidationError("invalid upload request", err.Error()))
		return
	}

	filename := filepath.Base(req.File.Filename)
	if !h.allowed[strings.ToLower(filepath.Ext(filename))] {
		middleware.HandleError(c, middleware.NewValidationError(
			"unsupported file type",
			"allowed: "+strings.Join(h.allowedList(), ", ")))
		return
	}

	if h.maxUploadSize > 0 && req.File.Size > h.maxUploadSize {
		middleware.HandleError(c, middleware.NewTooLargeError(
			fmt.Sprintf("file size %d exceeds limit of %d bytes", req.File.Size, h.maxUploadSize)))
		return
	}

	var metadata map[string]interface{}
	if req.Metadata != "" {
		if err := json.Unmarshal([]byte(req.Metadata), &metadata); err != nil {
			middleware.HandleError(c, middleware.NewValidationError("metadata must be a JSON object", err.Error()))
			return
		}
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to open uploaded file")
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file"))
		return
	}
	defer file.Close()

	res, err := h.ingest.Ingest(c.Request.Context(), services.IngestRequest{
		Reader:      file,
		FileName:    filename,
		ContentType: req.File.Header.Get("Content-Type"),
		Size:        req.File.Size,
		Metadata:    metadata,
		Async:       req.Async,
		Wait:        time.Duration(req.Wait) * time.Second,
	})
	if err != nil {
		appErr := middleware.FromError(err)
		if res != nil && res.Record != nil {
			appErr = appErr.WithData(model.NewDocumentInfo(res.Record))
		}
		middleware.HandleError(c, appErr)
		return
	}

	status := http.StatusOK
	if res.Record.Status == models.StatusQueued {
		status = http.StatusAccepted
	}

	h.logger.WithFields(logrus.Fields{
		"record_id": res.Record.ID,
		"filename":  filename,
		"status":    res.Record.Status,
		"duplicate": res.Duplicate,
	}).Info("Document upload handled")

	c.JSON(status, model.NewSuccessResponse(model.DocumentUploadResponse{
		DocumentInfo: model.NewDocumentInfo(res.Record),
		Duplicate:    res.Duplicate,
	}))
}

// GetDocument 获取入库记录
// GET /api/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	var uri model.DocumentIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}
	var query model.DocumentGetRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query", err.Error()))
		return
	}

	ctx := c.Request.Context()
	record, err := h.ingest.GetRecord(ctx, uri.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.DocumentDetailResponse{DocumentInfo: model.NewDocumentInfo(record)}
	if query.IncludeContent && record.Status == models.StatusIndexed {
		doc, err := h.ingest.GetIndexedDocument(ctx, uri.ID)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		resp.Content = model.NewIndexedContent(doc)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListDocuments 分页列出入库记录
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query", err.Error()))
		return
	}

	records, total, err := h.ingest.ListRecords(c.Request.Context(), req.Offset(), req.GetPageSize(), req.Filters())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	docs := make([]model.DocumentInfo, 0, len(records))
	for _, r := range records {
		docs = append(docs, model.NewDocumentInfo(r))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentListResponse{
		Total:     total,
		Page:      req.GetPage(),
		PageSize:  req.GetPageSize(),
		Documents: docs,
	}))
}

// DeleteDocument 删除入库记录及其索引
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var uri model.DocumentIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	if err := h.ingest.DeleteRecord(c.Request.Context(), uri.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentDeleteResponse{
		Success: true,
		ID:      uri.ID,
	}))
}

// ReprocessDocument 重新处理失败的记录
// POST /api/documents/:id/reprocess
func (h *DocumentHandler) ReprocessDocument(c *gin.Context) {
	var uri model.DocumentIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid document id"))
		return
	}

	record, err := h.ingest.ProcessRecord(c.Request.Context(), uri.ID)
	if err != nil {
		appErr := middleware.FromError(err)
		if latest, getErr := h.ingest.GetRecord(c.Request.Context(), uri.ID); getErr == nil {
			appErr = appErr.WithData(model.NewDocumentInfo(latest))
		}
		middleware.HandleError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewDocumentInfo(record)))
}

// SearchDocuments 检索已索引的文档
// GET /api/search?q=&limit=
func (h *DocumentHandler) SearchDocuments(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query", err.Error()))
		return
	}

	docs, err := h.ingest.Search(c.Request.Context(), req.Query, req.GetLimit())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	hits := make([]model.SearchHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, model.NewSearchHit(d))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Query:   req.Query,
		Total:   len(hits),
		Results: hits,
	}))
}

func (h *DocumentHandler) allowedList() []string {
	list := make([]string, 0, len(h.allowed))
	for ext := range h.allowed {
		list = append(list, ext)
	}
	sort.Strings(list)
	return list
}
