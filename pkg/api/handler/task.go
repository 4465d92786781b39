package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
)

// TaskHandler 人工任务API处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// Get 获取任务
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.engine.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(t))
}

// ListPending 列出受理人名下的待处理任务
// GET /api/v1/tasks?tenant_id=xxx&assignee_id=xxx
func (h *TaskHandler) ListPending(c *gin.Context) {
	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "查询参数错误: "+err.Error()))
		return
	}
	if query.TenantID == "" || query.AssigneeID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "缺少tenant_id或assignee_id参数"))
		return
	}

	tasks, err := h.engine.ListPendingTasksByAssignee(c.Request.Context(), query.TenantID, query.AssigneeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(tasks)))
}

// ListOverdue 列出已过期但仍待处理的任务（升级提醒）
// GET /api/v1/tasks/overdue?tenant_id=xxx
func (h *TaskHandler) ListOverdue(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "缺少tenant_id参数"))
		return
	}

	tasks, err := h.engine.ListOverdueTasks(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(tasks)))
}

// Complete 完成任务
// POST /api/v1/tasks/:id/complete
func (h *TaskHandler) Complete(c *gin.Context) {
	var req dto.CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "请求体解析失败: "+err.Error()))
		return
	}

	t, err := h.engine.CompleteTask(c.Request.Context(), c.Param("id"), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(t))
}
