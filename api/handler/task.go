package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-indexer/api/middleware"
	"github.com/fyerfyer/doc-indexer/api/model"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理异步任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue
	logger *logrus.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		middleware.HandleError(c, middleware.NewValidationError("task id is required"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Debug("Failed to get task")
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskInfo(task)))
}

// GetDocumentTasks 获取入库记录相关的所有任务
// GET /api/documents/:id/tasks
func (h *TaskHandler) GetDocumentTasks(c *gin.Context) {
	recordID := c.Param("id")

	tasks, err := h.queue.GetTasksByRecord(c.Request.Context(), recordID)
	if err != nil {
		h.logger.WithError(err).WithField("record_id", recordID).Error("Failed to get record tasks")
		middleware.HandleError(c, err)
		return
	}

	infos := make([]model.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, model.NewTaskInfo(task))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"record_id": recordID,
		"tasks":     infos,
	}))
}
