package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"plotline/pkg/logger"
)

// DefaultExecuteTimeout bounds a single pass-through invocation.
const DefaultExecuteTimeout = 30 * time.Second

// maxExecuteResponse caps how much of a server reply is read back.
const maxExecuteResponse = 4 * 1024 * 1024

// ExecuteResult reports the outcome of a pass-through invocation. Like
// Probe, a failing server is a normal result value: Success false with
// detail, never a Go error.
type ExecuteResult struct {
	Success    bool            `json:"success"`
	ServerName string          `json:"server_name,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Latency    time.Duration   `json:"latency_ms"`
}

// Execute forwards a request payload to a registered tool server and
// relays its reply. Unknown ids return storage.ErrNotFound; an inactive
// or unreachable server is an unsuccessful result, not an error.
func (r *Registry) Execute(ctx context.Context, id string, payload json.RawMessage) (*ExecuteResult, error) {
	ts, err := r.db.GetToolServer(id)
	if err != nil {
		return nil, err
	}

	if !ts.Active {
		return &ExecuteResult{ServerName: ts.Name, Detail: "server is inactive"}, nil
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultExecuteTimeout)
	defer cancel()

	start := time.Now()
	result := &ExecuteResult{ServerName: ts.Name}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, bytes.NewReader(payload))
	if err != nil {
		result.Detail = "invalid url: " + err.Error()
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		logger.Warn().Err(err).
			Str("server", ts.Name).
			Str("url", ts.URL).
			Msg("Tool server invocation failed")
		result.Detail = err.Error()
		return result, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExecuteResponse))
	if err != nil {
		result.Detail = "read response: " + err.Error()
		return result, nil
	}

	if resp.StatusCode != http.StatusOK {
		result.Detail = "server returned " + resp.Status
		return result, nil
	}

	if !json.Valid(body) {
		result.Detail = "server returned a non-JSON reply"
		return result, nil
	}

	result.Success = true
	result.Data = json.RawMessage(body)
	return result, nil
}
