package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/collabd/internal/coord"
	"github.com/p-blackswan/collabd/internal/directory"
	"github.com/p-blackswan/collabd/internal/health"
	"github.com/p-blackswan/collabd/internal/metrics"
	"github.com/p-blackswan/collabd/internal/server"
	"github.com/p-blackswan/collabd/internal/snapshot"
	"github.com/p-blackswan/collabd/internal/store"
)

func setupServer(t *testing.T) *server.Server {
	t.Helper()

	ds, err := store.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	hub := coord.NewHub(snapshot.NewMemoryStore(), zerolog.Nop())
	t.Cleanup(hub.Stop)

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("sqlite", func(ctx context.Context) health.Status {
		if err := ds.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	return server.New(
		server.Config{},
		hub,
		directory.New(ds, zerolog.Nop()),
		checker,
		metrics.New(),
		zerolog.Nop(),
	)
}

func doJSON(t *testing.T, s *server.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoints(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ready struct {
		Status string                   `json:"status"`
		Checks map[string]health.Status `json:"checks"`
	}
	decode(t, resp, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, health.StatusOK, ready.Checks["sqlite"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "collabd_ws_connections")
}

func TestRegisterAgent_ForcesActiveStatus(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/agents",
		map[string]string{"name": "Ada", "status": "offline"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var agent coord.Agent
	decode(t, resp, &agent)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, coord.AgentActive, agent.Status)
	assert.Equal(t, coord.RoleFullstack, agent.Role)
}

func TestUpdateAgent_UnknownIs404(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPut, "/api/v1/projects/p-1/agents/missing",
		map[string]string{"status": "idle"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "Agent not found", body["error"])
}

func TestRemoveAgent_AbsentIsNoOp(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodDelete, "/api/v1/projects/p-1/agents/missing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	decode(t, resp, &body)
	assert.False(t, body["removed"])
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/tasks",
		map[string]interface{}{"title": "Ship", "tags": []string{"infra"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task coord.Task
	decode(t, resp, &task)
	assert.Equal(t, coord.TaskTodo, task.Status)
	assert.Equal(t, coord.PriorityMedium, task.Priority)

	resp = doJSON(t, s, http.MethodPut, "/api/v1/projects/p-1/tasks/"+task.ID,
		map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &task)
	assert.Equal(t, coord.TaskInProgress, task.Status)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/p-1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deleting again stays 204: the operation is unconditional.
	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/p-1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestListTasks_TagFilterIsOR(t *testing.T) {
	s := setupServer(t)

	for _, tags := range [][]string{{"foo"}, {"bar"}, {"foo", "baz"}} {
		resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/tasks",
			map[string]interface{}{"title": fmt.Sprintf("t-%v", tags), "tags": tags})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, s, http.MethodGet, "/api/v1/projects/p-1/tasks?tags=foo,baz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Tasks []coord.Task `json:"tasks"`
		Total int          `json:"total"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 2, body.Total)
}

func TestListMessages_LimitKeepsMostRecent(t *testing.T) {
	s := setupServer(t)

	for i := 1; i <= 3; i++ {
		resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/messages",
			map[string]string{"content": fmt.Sprintf("m%d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, s, http.MethodGet, "/api/v1/projects/p-1/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Messages []coord.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	decode(t, resp, &body)
	require.Equal(t, 2, body.Total)
	assert.Equal(t, "m2", body.Messages[0].Content)
	assert.Equal(t, "m3", body.Messages[1].Content)
}

func TestUpdateContext_ReturnsMergedMap(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPut, "/api/v1/projects/p-1/context",
		map[string]string{"repo": "collabd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, s, http.MethodPut, "/api/v1/projects/p-1/context",
		map[string]string{"branch": "main"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Context map[string]string `json:"context"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "collabd", body.Context["repo"])
	assert.Equal(t, "main", body.Context["branch"])
}

func TestStateInit_AndGetState(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/state-init",
		map[string]string{"name": "Apollo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view coord.StateView
	decode(t, resp, &view)
	assert.Equal(t, "Apollo", view.Name)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects/p-1/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &view)
	assert.Equal(t, "Apollo", view.Name)
	assert.NotNil(t, view.Agents)
}

func TestAnalyticsEndpoint(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects/p-1/agents",
		map[string]string{"name": "Ada"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects/p-1/analytics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var an coord.Analytics
	decode(t, resp, &an)
	assert.Equal(t, 1, an.Agents.Total)
	assert.Equal(t, 1, an.Agents.Active)
}

func TestProjectDirectoryCRUD(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects",
		map[string]string{"name": "alpha", "description": "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p directory.Project
	decode(t, resp, &p)
	require.NotEmpty(t, p.ID)
	assert.Equal(t, "planning", p.Status)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &p)
	require.NotNil(t, p.Description)
	assert.Equal(t, "first", *p.Description)

	// An explicit null clears the description; leaving the key out keeps it.
	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/"+p.ID,
		bytes.NewReader([]byte(`{"status":"active","description":null}`)))
	req.Header.Set("Content-Type", "application/json")
	raw, err := s.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, raw.StatusCode)
	decode(t, raw, &p)
	assert.Equal(t, "active", p.Status)
	assert.Nil(t, p.Description)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Projects []directory.Project `json:"projects"`
		Total    int                 `json:"total"`
	}
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Total)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectDirectory_Validation(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodPost, "/api/v1/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, s, http.MethodPost, "/api/v1/projects",
		map[string]string{"name": "x", "status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSRouteRequiresUpgrade(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, s, http.MethodGet, "/ws/projects/p-1", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
