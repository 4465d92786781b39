package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// RunHandler Run API处理器
type RunHandler struct {
	engine *engine.Engine
	repo   storage.RunAggregateRepository
}

// NewRunHandler 创建RunHandler
func NewRunHandler(eng *engine.Engine, repo storage.RunAggregateRepository) *RunHandler {
	return &RunHandler{engine: eng, repo: repo}
}

// List 列出Run
// GET /api/v1/runs?tenant_id=xxx&workflow_id=xxx&employee_id=xxx
func (h *RunHandler) List(c *gin.Context) {
	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "查询参数错误: "+err.Error()))
		return
	}
	if query.TenantID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "缺少tenant_id参数"))
		return
	}

	runs, err := h.repo.ListRuns(c.Request.Context(), query.TenantID, query.WorkflowID, query.EmployeeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(runs)))
}

// Get 获取Run
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	r, err := h.engine.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(r))
}

// GetSteps 获取Run的步骤
// GET /api/v1/runs/:id/steps
func (h *RunHandler) GetSteps(c *gin.Context) {
	steps, err := h.engine.GetRunSteps(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(steps)))
}

// GetTimeline 获取Run的事件时间线
// GET /api/v1/runs/:id/timeline
func (h *RunHandler) GetTimeline(c *gin.Context) {
	events, err := h.engine.GetRunTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(events)))
}

// Cancel 取消Run
// POST /api/v1/runs/:id/cancel
func (h *RunHandler) Cancel(c *gin.Context) {
	if err := h.engine.CancelRun(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse("canceled"))
}

// Advance 手动推进Run（运维用途，推进本身可重入）
// POST /api/v1/runs/:id/advance
func (h *RunHandler) Advance(c *gin.Context) {
	if err := h.engine.AdvanceRun(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse("advanced"))
}
