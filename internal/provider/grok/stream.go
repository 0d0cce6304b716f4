package grok

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"plotline/internal/provider"
	"plotline/pkg/logger"
)

// processStream parses the Grok SSE stream (OpenAI-compatible format).
// The terminal done event is emitted when a finish_reason arrives; a bare
// "data: [DONE]" without one still terminates the stream cleanly.
func processStream(reader io.ReadCloser, providerName string) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent, 32)

	go func() {
		defer close(events)
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		doneSent := false
		var model string

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				if !doneSent {
					events <- provider.ChatEvent{Type: provider.EventTypeDone, Model: model}
				}
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Error().Err(err).Str("provider", providerName).Msg("Failed to parse stream chunk")
				continue
			}

			if chunk.Model != "" {
				model = chunk.Model
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				events <- provider.ChatEvent{
					Type:  provider.EventTypeContent,
					Delta: choice.Delta.Content,
				}
			}

			if choice.FinishReason != "" {
				done := provider.ChatEvent{
					Type:         provider.EventTypeDone,
					Model:        model,
					FinishReason: choice.FinishReason,
				}
				if chunk.Usage != nil {
					done.Usage = &provider.Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
					}
				}
				events <- done
				doneSent = true
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Error().Err(err).Str("provider", providerName).Msg("Stream scanner error")
			events <- provider.ChatEvent{
				Type:  provider.EventTypeError,
				Error: provider.NewProviderError(provider.ErrCodeNetworkError, err.Error(), providerName, true),
			}
			return
		}

		if !doneSent {
			events <- provider.ChatEvent{Type: provider.EventTypeDone, Model: model}
		}
	}()

	return events
}
