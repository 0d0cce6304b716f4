package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotline/internal/storage"
)

func TestHandleCreateToolServer(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/v1/toolservers",
		`{"name":"weather","url":"http://localhost:9001/sse","description":"forecasts"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var ts storage.ToolServer
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ts))
	assert.NotEmpty(t, ts.ID)
	assert.Equal(t, "weather", ts.Name)
	assert.Equal(t, storage.DefaultTransport, ts.Transport)
	assert.True(t, ts.Active, "servers default to active")
}

func TestHandleCreateToolServer_Validation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/v1/toolservers", `{"url":"http://x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCreateToolServer_DuplicateName(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"weather","url":"http://a"}`
	rr := env.do(http.MethodPost, "/api/v1/toolservers", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodPost, "/api/v1/toolservers", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleToolServerLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"search","url":"http://a"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var ts storage.ToolServer
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ts))

	rr = env.do(http.MethodGet, "/api/v1/toolservers/"+ts.ID, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPut, "/api/v1/toolservers/"+ts.ID,
		`{"name":"search","url":"http://b","active":false}`)
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := env.db.GetToolServer(ts.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://b", got.URL)
	assert.False(t, got.Active)

	rr = env.do(http.MethodDelete, "/api/v1/toolservers/"+ts.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/api/v1/toolservers/"+ts.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListToolServers_ActiveFilter(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"on","url":"http://a"}`)
	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"off","url":"http://b","active":false}`)

	rr := env.do(http.MethodGet, "/api/v1/toolservers?active=true", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		ToolServers []json.RawMessage `json:"tool_servers"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.ToolServers, 1)
}

func TestHandleExecuteToolServer(t *testing.T) {
	env := newTestEnv(t)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tools":["search"]}`))
	}))
	t.Cleanup(backend.Close)

	rr := env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"search","url":"`+backend.URL+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var ts storage.ToolServer
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ts))

	rr = env.do(http.MethodPost, "/api/v1/toolservers/"+ts.ID+"/execute", `{"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var result struct {
		Success    bool            `json:"success"`
		ServerName string          `json:"server_name"`
		Data       json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "search", result.ServerName)
	assert.JSONEq(t, `{"tools":["search"]}`, string(result.Data))
}

func TestHandleExecuteToolServer_Degraded(t *testing.T) {
	env := newTestEnv(t)

	// Unknown server is the only hard failure.
	rr := env.do(http.MethodPost, "/api/v1/toolservers/missing/execute", `{}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// An inactive or unreachable server degrades to an unsuccessful result.
	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"off","url":"http://127.0.0.1:1","active":false}`)
	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"dead","url":"http://127.0.0.1:1"}`)

	var resp struct {
		ToolServers []storage.ToolServer `json:"tool_servers"`
	}
	rr = env.do(http.MethodGet, "/api/v1/toolservers", "")
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	var result struct {
		Success bool   `json:"success"`
		Detail  string `json:"detail"`
	}
	for _, ts := range resp.ToolServers {
		rr = env.do(http.MethodPost, "/api/v1/toolservers/"+ts.ID+"/execute", `{}`)
		require.Equal(t, http.StatusOK, rr.Code)
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Detail)
	}
}

func TestHandleProbeURL(t *testing.T) {
	env := newTestEnv(t)

	sse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sse.Close)

	rr := env.do(http.MethodPost, "/api/v1/toolservers/probe", `{"url":"`+sse.URL+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var result struct {
		Reachable bool `json:"reachable"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.True(t, result.Reachable)

	// An unreachable endpoint is still a 200 with reachable=false.
	rr = env.do(http.MethodPost, "/api/v1/toolservers/probe", `{"url":"http://127.0.0.1:1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.False(t, result.Reachable)
}

func TestHandleProbeURL_Validation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/v1/toolservers/probe", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCapabilities(t *testing.T) {
	env := newTestEnv(t)

	sse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sse.Close)

	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"good","url":"`+sse.URL+`"}`)
	env.do(http.MethodPost, "/api/v1/toolservers", `{"name":"bad","url":"http://127.0.0.1:1"}`)

	rr := env.do(http.MethodGet, "/api/v1/toolservers/capabilities", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Capabilities []struct {
			Name      string `json:"name"`
			Reachable bool   `json:"reachable"`
		} `json:"capabilities"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Capabilities, 2)

	byName := map[string]bool{}
	for _, c := range resp.Capabilities {
		byName[c.Name] = c.Reachable
	}
	assert.True(t, byName["good"])
	assert.False(t, byName["bad"])
}
