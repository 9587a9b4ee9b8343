package api

import (
	"github.com/gin-gonic/gin"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/streaming"
)

// SetupRouter builds the gin engine with all platform routes.
func SetupRouter(handler *Handler, hub *streaming.Hub, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(ErrorHandler(log))

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tools/:name", handler.CallTool)

		tasks := v1.Group("/tasks")
		{
			tasks.GET("", handler.ListTasks)
			tasks.GET("/:taskId", handler.GetTask)
			tasks.GET("/:taskId/logs", handler.GetTaskLogs)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handler.ListSessions)
			sessions.DELETE("/:sessionId", handler.EndSession)
		}

		modules := v1.Group("/modules")
		{
			modules.GET("", handler.ListModules)
			modules.GET("/:name", handler.GetModule)
			modules.POST("/:name/enable", handler.EnableModule)
			modules.POST("/:name/disable", handler.DisableModule)
		}

		if hub != nil {
			v1.GET("/stream", hub.HandleWebSocket)
		}
	}

	return router
}
