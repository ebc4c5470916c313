package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/fyerfyer/doc-indexer/api/model"
	"github.com/gin-gonic/gin"
)

// HealthCheck 单个组件的健康检查
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查处理器
type HealthHandler struct {
	checks map[string]HealthCheck
	info   map[string]string
}

// NewHealthHandler 创建健康检查处理器，info为静态组件描述
func NewHealthHandler(info map[string]string) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]HealthCheck),
		info:   info,
	}
}

// AddCheck 注册组件检查
func (h *HealthHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Health 返回各组件状态
// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := model.HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.info)+len(h.checks)),
	}
	for name, v := range h.info {
		resp.Components[name] = v
	}

	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Components[name] = "error: " + err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}

	c.JSON(code, model.NewSuccessResponse(resp))
}
