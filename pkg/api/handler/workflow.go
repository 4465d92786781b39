package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// WorkflowHandler 工作流定义API处理器
type WorkflowHandler struct {
	defs *definition.Store
}

// NewWorkflowHandler 创建WorkflowHandler
func NewWorkflowHandler(defs *definition.Store) *WorkflowHandler {
	return &WorkflowHandler{defs: defs}
}

// List 列出租户下的所有工作流
// GET /api/v1/workflows?tenant_id=xxx
func (h *WorkflowHandler) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "缺少tenant_id参数"))
		return
	}

	workflows, err := h.defs.ListWorkflows(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(workflows)))
}

// Create 创建工作流
// POST /api/v1/workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var req dto.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "请求体解析失败: "+err.Error()))
		return
	}

	wf, err := h.defs.CreateWorkflow(c.Request.Context(),
		req.TenantID, req.Name, req.Description, workflow.Kind(req.Kind))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(wf))
}

// Get 获取工作流
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	wf, err := h.defs.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(wf))
}

// SaveDraft 保存草稿版本
// PUT /api/v1/workflows/:id/draft
func (h *WorkflowHandler) SaveDraft(c *gin.Context) {
	var req dto.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "请求体解析失败: "+err.Error()))
		return
	}

	v, err := h.defs.SaveDraft(c.Request.Context(), c.Param("id"), req.Nodes, req.Edges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(v))
}

// GetDraft 获取草稿版本
// GET /api/v1/workflows/:id/draft
func (h *WorkflowHandler) GetDraft(c *gin.Context) {
	v, err := h.defs.GetDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(v))
}

// Publish 发布草稿版本
// POST /api/v1/workflows/:id/publish
func (h *WorkflowHandler) Publish(c *gin.Context) {
	v, err := h.defs.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(v))
}

// ListVersions 列出工作流的所有版本
// GET /api/v1/workflows/:id/versions
func (h *WorkflowHandler) ListVersions(c *gin.Context) {
	versions, err := h.defs.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewListResponse(versions)))
}

// Archive 归档工作流
// POST /api/v1/workflows/:id/archive
func (h *WorkflowHandler) Archive(c *gin.Context) {
	if err := h.defs.Archive(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse("archived"))
}
