package mcp

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ProbeResult reports the outcome of a connectivity probe. Network-level
// failure is a normal result value, not an error.
type ProbeResult struct {
	Reachable bool          `json:"reachable"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Probe attempts an SSE handshake with the endpoint within the configured
// timeout: a GET with an event-stream Accept header. A 2xx status counts
// as reachable; everything else, including transport errors, is an
// unreachable result with detail.
func (r *Registry) Probe(ctx context.Context, url string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	result := ProbeResult{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Detail = "invalid url: " + err.Error()
		return result
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The handshake only needs response headers; the body is an unbounded
	// event stream and must not be read to completion.
	client := &http.Client{Timeout: r.probeTimeout}
	resp, err := client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Detail = "unexpected status " + resp.Status
		return result
	}

	result.Reachable = true
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		result.Detail = "reachable, but content type is " + ct
	}
	return result
}
