package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stevelan1995/hrflow/pkg/core/engine"
)

// StreamHandler 运行时间线WebSocket推送处理器
//
// 订阅引擎发布的时间线事件总线，将指定运行的事件实时转发给前端。
type StreamHandler struct {
	sub      message.Subscriber
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建StreamHandler
func NewStreamHandler(sub message.Subscriber) *StreamHandler {
	return &StreamHandler{
		sub: sub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream 按运行ID推送时间线事件
// GET /api/v1/runs/:id/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	messages, err := h.sub.Subscribe(ctx, engine.TopicRunTimeline)
	if err != nil {
		log.Printf("⚠️ 订阅时间线失败: %v", err)
		return
	}

	// 读协程只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			// 总线上是全量时间线，按运行ID过滤
			if msg.Metadata.Get("run_id") != runID {
				msg.Ack()
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				msg.Nack()
				return
			}
			msg.Ack()
		}
	}
}
