package api

import (
	"github.com/fyerfyer/doc-indexer/api/handler"
	"github.com/fyerfyer/doc-indexer/api/middleware"
	"github.com/gin-gonic/gin"
)

// uploadBodySlack multipart编码的额外开销
const uploadBodySlack = 1 << 20

// SetupRouter 设置API路由
// taskHandler为nil时不注册任务查询接口
func SetupRouter(
	docHandler *handler.DocumentHandler,
	healthHandler *handler.HealthHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.ResponseLogger())
	}

	api := router.Group("/api")
	{
		docGroup := api.Group("/documents")
		{
			upload := []gin.HandlerFunc{docHandler.UploadDocument}
			if max := docHandler.MaxUploadSize(); max > 0 {
				upload = append([]gin.HandlerFunc{middleware.BodyLimit(max + uploadBodySlack)}, upload...)
			}
			// 上传文档 - POST /api/documents
			docGroup.POST("", upload...)

			// 获取文档列表 - GET /api/documents
			docGroup.GET("", docHandler.ListDocuments)

			// 获取文档 - GET /api/documents/:id
			docGroup.GET("/:id", docHandler.GetDocument)

			// 删除文档 - DELETE /api/documents/:id
			docGroup.DELETE("/:id", docHandler.DeleteDocument)

			// 重新处理 - POST /api/documents/:id/reprocess
			docGroup.POST("/:id/reprocess", docHandler.ReprocessDocument)

			if taskHandler != nil {
				docGroup.GET("/:id/tasks", taskHandler.GetDocumentTasks)
			}
		}

		if taskHandler != nil {
			api.GET("/tasks/:id", taskHandler.GetTaskStatus)
		}

		// 检索已索引文档 - GET /api/search
		api.GET("/search", docHandler.SearchDocuments)

		api.GET("/health", healthHandler.Health)
	}

	return router
}
