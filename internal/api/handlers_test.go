package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systempromptio/systemprompt-os/internal/agent/operations"
	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/module"
	"github.com/systempromptio/systemprompt-os/internal/module/loader"
	"github.com/systempromptio/systemprompt-os/internal/module/manager"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
	moduleservice "github.com/systempromptio/systemprompt-os/internal/module/service"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
	"github.com/systempromptio/systemprompt-os/internal/tools"
	apiv1 "github.com/systempromptio/systemprompt-os/pkg/api/v1"
)

type stubAgent struct{}

func (s *stubAgent) Query(ctx context.Context, req query.Request, onChunk func(query.StreamChunk)) (*query.Result, error) {
	return &query.Result{Text: "done", NumTurns: 1}, nil
}

func (s *stubAgent) CheckAvailability(ctx context.Context) error { return nil }

type apiFixture struct {
	router   *gin.Engine
	tasks    taskstore.Store
	sessions *session.Manager
	registry *registry.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.Default()

	tasks := taskstore.NewMemoryStore()
	sessions := session.NewManager(nil, log, time.Hour, time.Hour)
	executor := query.NewExecutor(&stubAgent{}, nil, log, time.Minute)
	ops := operations.New(sessions, executor, tasks, log)
	toolHandler := tools.NewHandler(ops, sessions, executor, nil, tasks, t.TempDir(), log)

	reg := registry.NewRegistry()
	ldr := loader.NewLoader(reg, nil, log)
	svc := moduleservice.NewService(reg, ldr, func() (manager.Store, error) {
		return manager.NewMemoryStore(), nil
	}, t.TempDir(), log)
	require.NoError(t, svc.Initialize(context.Background(), &module.Context{Logger: log}))
	exports := svc.Exports().(*moduleservice.Exports)
	require.NoError(t, exports.RegisterPreLoadedModule(svc))
	require.NoError(t, exports.RegisterCoreModule(context.Background(),
		svc.Name(), svc.Version(), "", nil))

	handler := NewHandler(toolHandler, tasks, sessions, exports, reg, log)
	router := SetupRouter(handler, nil, log)
	return &apiFixture{router: router, tasks: tasks, sessions: sessions, registry: reg}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCallToolEnvelopeErrorStaysOK(t *testing.T) {
	f := newAPIFixture(t)

	// Missing instructions is a validation error, delivered in the envelope
	// with HTTP 200.
	w := f.do(t, http.MethodPost, "/api/v1/tools/create_task",
		apiv1.ToolCallRequest{Args: map[string]interface{}{}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp tools.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation_error", resp.Error.Type)
}

func TestCallToolBadBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/report",
		bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	task := &models.Task{
		Instructions: "review the diff",
		Status:       models.StatusPending,
	}
	require.NoError(t, f.tasks.CreateTask(ctx, task))

	w := f.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Tasks []models.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, task.ID, list.Tasks[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tasks/task-missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID+"/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/tasks/task-missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	sess := f.sessions.CreateSession(ctx, "/work", session.Options{})

	w := f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiv1.SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, sess.ID, resp.Sessions[0].SessionID)
	assert.Equal(t, 1, resp.Metrics.Active)

	w = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModuleEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Modules []manager.Record `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Modules, 1)
	assert.Equal(t, moduleservice.Name, list.Modules[0].Name)

	w = f.do(t, http.MethodGet, "/api/v1/modules/"+moduleservice.Name, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/modules/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/modules/"+moduleservice.Name+"/disable", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Disabled modules drop out of the enabled listing.
	w = f.do(t, http.MethodGet, "/api/v1/modules", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Modules)

	w = f.do(t, http.MethodPost, "/api/v1/modules/"+moduleservice.Name+"/enable", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiv1.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Contains(t, resp.Modules, moduleservice.Name)
	assert.True(t, resp.Modules[moduleservice.Name].Healthy)
}
