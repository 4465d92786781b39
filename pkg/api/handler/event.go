package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/dispatch"
)

// EventHandler HR域事件API处理器
type EventHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewEventHandler 创建EventHandler
func NewEventHandler(d *dispatch.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: d}
}

// Dispatch 接收HR域事件并同步触发匹配的工作流
// POST /api/v1/events
func (h *EventHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, "请求体解析失败: "+err.Error()))
		return
	}

	evt := &dispatch.DomainEvent{
		ID:         req.ID,
		Type:       req.Type,
		TenantID:   req.TenantID,
		EmployeeID: req.EmployeeID,
		Payload:    req.Payload,
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}

	runs, err := h.dispatcher.Dispatch(c.Request.Context(), evt)
	if err != nil {
		respondError(c, err)
		return
	}

	runIDs := make([]string, 0, len(runs))
	for _, r := range runs {
		runIDs = append(runIDs, r.ID)
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.DispatchResponse{
		EventID: evt.ID,
		RunIDs:  runIDs,
	}))
}
