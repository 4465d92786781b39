package api

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/handler"
	"github.com/stevelan1995/hrflow/pkg/api/middleware"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/dispatch"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/journey"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// RouterDeps 路由依赖集合
type RouterDeps struct {
	Definitions *definition.Store
	Engine      *engine.Engine
	Dispatcher  *dispatch.Dispatcher
	Journey     *journey.Service
	RunRepo     storage.RunAggregateRepository
	Subscriber  message.Subscriber // 时间线推送订阅端，可为nil
	Version     string
	Mode        string // debug/release
}

// SetupRouter 设置路由
func SetupRouter(deps RouterDeps) *gin.Engine {
	// 设置gin模式
	if deps.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	workflowHandler := handler.NewWorkflowHandler(deps.Definitions)
	runHandler := handler.NewRunHandler(deps.Engine, deps.RunRepo)
	taskHandler := handler.NewTaskHandler(deps.Engine)
	eventHandler := handler.NewEventHandler(deps.Dispatcher)
	journeyHandler := handler.NewJourneyHandler(deps.Journey)
	healthHandler := handler.NewHealthHandler(deps.Version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		// Workflow路由
		workflows := v1.Group("/workflows")
		{
			workflows.GET("", workflowHandler.List)
			workflows.POST("", workflowHandler.Create)
			workflows.GET("/:id", workflowHandler.Get)
			workflows.PUT("/:id/draft", workflowHandler.SaveDraft)
			workflows.GET("/:id/draft", workflowHandler.GetDraft)
			workflows.POST("/:id/publish", workflowHandler.Publish)
			workflows.GET("/:id/versions", workflowHandler.ListVersions)
			workflows.POST("/:id/archive", workflowHandler.Archive)
		}

		// Run路由
		runs := v1.Group("/runs")
		{
			runs.GET("", runHandler.List)
			runs.GET("/:id", runHandler.Get)
			runs.GET("/:id/steps", runHandler.GetSteps)
			runs.GET("/:id/timeline", runHandler.GetTimeline)
			runs.POST("/:id/cancel", runHandler.Cancel)
			runs.POST("/:id/advance", runHandler.Advance)
		}
		if deps.Subscriber != nil {
			streamHandler := handler.NewStreamHandler(deps.Subscriber)
			runs.GET("/:id/stream", streamHandler.Stream)
		}

		// Task路由
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.ListPending)
			tasks.GET("/overdue", taskHandler.ListOverdue)
			tasks.GET("/:id", taskHandler.Get)
			tasks.POST("/:id/complete", taskHandler.Complete)
		}

		// 领域事件入口
		v1.POST("/events", eventHandler.Dispatch)

		// 员工旅程路由（令牌即授权）
		journeys := v1.Group("/journey")
		{
			journeys.GET("/:token", journeyHandler.Get)
			journeys.POST("/:token/tasks/:task_id/complete", journeyHandler.CompleteTask)
		}
	}

	return router
}
