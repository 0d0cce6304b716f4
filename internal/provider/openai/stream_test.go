package openai

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotline/internal/provider"
)

func collectEvents(data string) []provider.ChatEvent {
	events := processStream(io.NopCloser(strings.NewReader(data)), "openai")
	var collected []provider.ChatEvent
	for ev := range events {
		collected = append(collected, ev)
	}
	return collected
}

func TestProcessStream_TrailingUsageChunk(t *testing.T) {
	data := `data: {"choices":[{"delta":{"role":"assistant"}}]}

data: {"choices":[{"delta":{"content":"Hi"}}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}]}

data: {"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}

data: [DONE]
`
	collected := collectEvents(data)

	require.Len(t, collected, 2)
	assert.Equal(t, "Hi", collected[0].Delta)

	done := collected[1]
	assert.Equal(t, provider.EventTypeDone, done.Type)
	assert.Equal(t, "stop", done.FinishReason)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 2, done.Usage.TotalTokens)
}

func TestProcessStream_DoneCarriesServedModel(t *testing.T) {
	data := `data: {"model":"gpt-4o-mini-2024-07-18","choices":[{"delta":{"content":"Hi"}}]}

data: {"model":"gpt-4o-mini-2024-07-18","choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]
`
	collected := collectEvents(data)

	require.Len(t, collected, 2)
	done := collected[1]
	require.Equal(t, provider.EventTypeDone, done.Type)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", done.Model)
}

func TestProcessStream_MissingDoneMarker(t *testing.T) {
	data := `data: {"choices":[{"delta":{"content":"partial"}}]}
`
	collected := collectEvents(data)

	require.Len(t, collected, 2)
	assert.Equal(t, "partial", collected[0].Delta)
	assert.Equal(t, provider.EventTypeDone, collected[1].Type)
}

func TestProcessStream_ErrorChunk(t *testing.T) {
	data := `data: {"error":{"message":"the model is overloaded"}}
`
	collected := collectEvents(data)

	require.Len(t, collected, 1)
	assert.Equal(t, provider.EventTypeError, collected[0].Type)
	require.Error(t, collected[0].Error)
	assert.Contains(t, collected[0].Error.Error(), "overloaded")
}

func TestProcessStream_SkipsCommentsAndGarbage(t *testing.T) {
	data := `: keep-alive

not an sse line
data: {bad json}

data: {"choices":[{"delta":{"content":"ok"}}]}

data: [DONE]
`
	collected := collectEvents(data)

	require.Len(t, collected, 2)
	assert.Equal(t, "ok", collected[0].Delta)
	assert.Equal(t, provider.EventTypeDone, collected[1].Type)
}
