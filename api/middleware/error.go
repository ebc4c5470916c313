package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/doc-indexer/api/model"
	"github.com/fyerfyer/doc-indexer/internal/chunking"
	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/fyerfyer/doc-indexer/internal/models"
	"github.com/fyerfyer/doc-indexer/internal/services"
	"github.com/fyerfyer/doc-indexer/pkg/storage"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 状态冲突
	ErrorTypeTooLarge    = "TOO_LARGE_ERROR"   // 上传内容过大
	ErrorTypeRead        = "READ_ERROR"        // 读取原始文件失败
	ErrorTypeProcessing  = "PROCESSING_ERROR"  // 分块处理失败
	ErrorTypeBackend     = "BACKEND_ERROR"     // 索引后端拒绝或不可达
	ErrorTypeUnsupported = "UNSUPPORTED_ERROR" // 当前配置不支持该操作
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string      // 错误类型
	Message string      // 错误消息
	Details string      // 详细错误信息
	Code    int         // HTTP状态码
	Data    interface{} // 随错误返回的数据
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// WithData 附加响应数据
func (e AppError) WithData(data interface{}) AppError {
	e.Data = data
	return e
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewTooLargeError 创建上传过大错误
func NewTooLargeError(message string) AppError {
	return AppError{
		Type:    ErrorTypeTooLarge,
		Message: message,
		Code:    http.StatusRequestEntityTooLarge,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// FromError 将领域错误映射为应用错误
func FromError(err error) AppError {
	var (
		appErr     AppError
		readErr    *chunking.ReadError
		processErr *chunking.ProcessError
		backendErr *indexing.BackendError
	)

	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, services.ErrInvalidRequest):
		return NewValidationError("invalid request", err.Error())
	case errors.Is(err, services.ErrSearchUnsupported):
		return AppError{Type: ErrorTypeUnsupported, Message: err.Error(), Code: http.StatusNotImplemented}
	case errors.Is(err, models.ErrRecordNotFound),
		errors.Is(err, indexing.ErrDocumentNotFound),
		errors.Is(err, taskqueue.ErrTaskNotFound):
		return AppError{Type: ErrorTypeNotFound, Message: err.Error(), Code: http.StatusNotFound}
	case errors.Is(err, models.ErrInvalidTransition):
		return AppError{Type: ErrorTypeConflict, Message: err.Error(), Code: http.StatusConflict}
	case errors.As(err, &readErr), errors.Is(err, storage.ErrNotFound):
		return AppError{Type: ErrorTypeRead, Message: "failed to read stored document", Details: err.Error(), Code: http.StatusInternalServerError}
	case errors.As(err, &processErr):
		return AppError{Type: ErrorTypeProcessing, Message: processErr.Error(), Code: http.StatusUnprocessableEntity}
	case errors.As(err, &backendErr):
		return AppError{Type: ErrorTypeBackend, Message: backendErr.Error(), Code: http.StatusBadGateway}
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"error": err,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errorResponse := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)
				if gin.Mode() == gin.DebugMode {
					errorResponse.Message = fmt.Sprintf("Panic: %v", err)
				}
				errorResponse.TraceID = traceIDFrom(c)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// 取最后一个错误进行处理
		appErr := FromError(c.Errors.Last().Err)
		traceID := traceIDFrom(c)

		entry := log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			"trace_id":   traceID,
			"path":       c.Request.URL.Path,
		})
		if appErr.Details != "" {
			entry = entry.WithField("details", appErr.Details)
		}
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		if appErr.Type == ErrorTypeInternal && gin.Mode() == gin.DebugMode && appErr.Details != "" {
			errResp.Message = appErr.Details
		}
		errResp.TraceID = traceID
		errResp.Data = appErr.Data

		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}

func traceIDFrom(c *gin.Context) string {
	if v, ok := c.Get(TraceIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
