package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
	moduleservice "github.com/systempromptio/systemprompt-os/internal/module/service"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
	"github.com/systempromptio/systemprompt-os/internal/tools"
	apiv1 "github.com/systempromptio/systemprompt-os/pkg/api/v1"
)

// Handler contains the HTTP handlers for the platform API.
type Handler struct {
	tools    *tools.Handler
	tasks    taskstore.Store
	sessions *session.Manager
	modules  *moduleservice.Exports
	registry *registry.Registry
	logger   *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	toolHandler *tools.Handler,
	tasks taskstore.Store,
	sessions *session.Manager,
	modules *moduleservice.Exports,
	reg *registry.Registry,
	log *logger.Logger,
) *Handler {
	return &Handler{
		tools:    toolHandler,
		tasks:    tasks,
		sessions: sessions,
		modules:  modules,
		registry: reg,
		logger:   log.WithFields(zap.String("component", "api")),
	}
}

// CallTool dispatches one tool call.
// POST /api/v1/tools/:name
func (h *Handler) CallTool(c *gin.Context) {
	name := c.Param("name")

	var req apiv1.ToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if req.Args == nil {
		req.Args = map[string]interface{}{}
	}

	resp := h.tools.HandleToolCall(c.Request.Context(), name, req.Args)

	// Envelope errors stay HTTP 200; the envelope is the contract. Only
	// transport-level failures map to HTTP status codes.
	c.JSON(http.StatusOK, resp)
}

// ListTasks returns all tasks.
// GET /api/v1/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.GetAllTasks(c.Request.Context())
	if err != nil {
		appErr := errors.InternalError("failed to list tasks", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask returns one task.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	taskID := c.Param("taskId")

	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		appErr := errors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTaskLogs returns a task's log entries.
// GET /api/v1/tasks/:taskId/logs
func (h *Handler) GetTaskLogs(c *gin.Context) {
	taskID := c.Param("taskId")

	if _, err := h.tasks.GetTask(c.Request.Context(), taskID); err != nil {
		appErr := errors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	logs, err := h.tasks.GetTaskLogs(c.Request.Context(), taskID)
	if err != nil {
		appErr := errors.InternalError("failed to get task logs", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "logs": logs})
}

// ListSessions returns the live agent sessions.
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.sessions.ListSessions()
	out := make([]apiv1.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, apiv1.SessionInfo{
			SessionID:        s.ID,
			Status:           string(s.Status()),
			TaskID:           s.TaskID(),
			WorkingDirectory: s.WorkingDirectory,
			CreatedAt:        s.CreatedAt,
			LastActivity:     s.LastActivity(),
		})
	}
	metrics := h.sessions.GetMetrics()
	c.JSON(http.StatusOK, apiv1.SessionListResponse{
		Sessions: out,
		Metrics: apiv1.SessionMetrics{
			Active:               metrics.Active,
			Busy:                 metrics.Busy,
			Errored:              metrics.Errored,
			Terminated:           metrics.Terminated,
			AvgTerminatedSeconds: metrics.AvgTerminatedDuration.Seconds(),
		},
	})
}

// EndSession terminates one agent session.
// DELETE /api/v1/sessions/:sessionId
func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if _, err := h.sessions.GetSession(sessionID); err != nil {
		appErr := errors.NotFound("session", sessionID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	h.sessions.EndSession(c.Request.Context(), sessionID, "api request")
	c.JSON(http.StatusOK, gin.H{"message": "session terminated"})
}

// ListModules returns the persisted module records.
// GET /api/v1/modules
func (h *Handler) ListModules(c *gin.Context) {
	records, err := h.modules.GetEnabledModules(c.Request.Context())
	if err != nil {
		appErr := errors.InternalError("failed to list modules", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": records})
}

// GetModule returns one module record plus its live status if loaded.
// GET /api/v1/modules/:name
func (h *Handler) GetModule(c *gin.Context) {
	name := c.Param("name")

	record, err := h.modules.GetModule(c.Request.Context(), name)
	if err != nil {
		appErr := errors.InternalError("failed to get module", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if record == nil && !h.registry.Has(name) {
		appErr := errors.NotFound("module", name)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := gin.H{"record": record}
	if m := h.registry.Get(name); m != nil {
		resp["status"] = string(m.Status())
		resp["version"] = m.Version()
		resp["type"] = string(m.ModuleType())
	}
	c.JSON(http.StatusOK, resp)
}

// EnableModule enables a module in the module store.
// POST /api/v1/modules/:name/enable
func (h *Handler) EnableModule(c *gin.Context) {
	name := c.Param("name")
	if err := h.modules.EnableModule(c.Request.Context(), name); err != nil {
		appErr := errors.InternalError("failed to enable module", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "module enabled"})
}

// DisableModule disables a module in the module store.
// POST /api/v1/modules/:name/disable
func (h *Handler) DisableModule(c *gin.Context) {
	name := c.Param("name")
	if err := h.modules.DisableModule(c.Request.Context(), name); err != nil {
		appErr := errors.InternalError("failed to disable module", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "module disabled"})
}

// Health reports overall platform health from the module registry.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	resp := apiv1.HealthResponse{
		Status:  "ok",
		Modules: make(map[string]apiv1.ModuleHealth),
	}

	for name, m := range h.registry.GetAll() {
		health := m.HealthCheck(c.Request.Context())
		resp.Modules[name] = apiv1.ModuleHealth{
			Status:  string(m.Status()),
			Healthy: health.Healthy,
			Message: health.Message,
		}
		if !health.Healthy {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
