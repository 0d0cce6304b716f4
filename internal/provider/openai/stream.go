package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"plotline/internal/provider"
	"plotline/pkg/logger"
)

// processStream parses an SSE stream of chat completion chunks. Each event
// is a "data: " line; the stream terminates with "data: [DONE]".
func processStream(reader io.ReadCloser, providerName string) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent, 32)

	go func() {
		defer close(events)
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		// Increase buffer size for large streaming chunks
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		var pendingDone *provider.ChatEvent
		var model string

		for scanner.Scan() {
			line := scanner.Text()

			// Skip empty lines and comments
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}

			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			if data == "[DONE]" {
				if pendingDone != nil {
					events <- *pendingDone
				} else {
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

			if chunk.Error != nil {
				events <- provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: provider.NewProviderError(provider.ErrCodeUnknown, chunk.Error.Message, providerName, false),
				}
				return
			}

			// A usage-only chunk follows the final choice when
			// stream_options.include_usage is set.
			if len(chunk.Choices) == 0 {
				if chunk.Usage != nil && pendingDone != nil {
					pendingDone.Usage = &provider.Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
					}
				}
				continue
			}

			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				events <- provider.ChatEvent{
					Type:  provider.EventTypeContent,
					Delta: choice.Delta.Content,
				}
			}

			// Hold the done event until [DONE] so a trailing usage chunk
			// can be folded in.
			if choice.FinishReason != "" {
				pendingDone = &provider.ChatEvent{
					Type:         provider.EventTypeDone,
					Model:        model,
					FinishReason: choice.FinishReason,
				}
				if chunk.Usage != nil {
					pendingDone.Usage = &provider.Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
					}
				}
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

		// Stream ended without [DONE]; still emit a terminal event.
		if pendingDone != nil {
			events <- *pendingDone
		} else {
			events <- provider.ChatEvent{Type: provider.EventTypeDone, Model: model}
		}
	}()

	return events
}
