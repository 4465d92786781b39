package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/journey"
)

// JourneyHandler 员工旅程视图API处理器（凭分享令牌访问，无需登录）
type JourneyHandler struct {
	svc *journey.Service
}

// NewJourneyHandler 创建JourneyHandler
func NewJourneyHandler(svc *journey.Service) *JourneyHandler {
	return &JourneyHandler{svc: svc}
}

// Get 按分享令牌获取旅程视图
// GET /api/v1/journey/:token
func (h *JourneyHandler) Get(c *gin.Context) {
	j, err := h.svc.GetJourney(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(j))
}

// CompleteTask 通过分享令牌完成本旅程下的任务
// POST /api/v1/journey/:token/tasks/:task_id/complete
func (h *JourneyHandler) CompleteTask(c *gin.Context) {
	var req dto.CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "请求体解析失败: "+err.Error()))
		return
	}

	t, err := h.svc.CompleteTask(c.Request.Context(), c.Param("token"), c.Param("task_id"), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(t))
}
