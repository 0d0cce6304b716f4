package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotline/internal/provider"
	"plotline/internal/storage"
)

// blockingProvider never produces stream events until released.
type blockingProvider struct {
	fakeProvider
	release chan struct{}
}

func (b *blockingProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	events := make(chan provider.ChatEvent)
	go func() {
		select {
		case <-b.release:
			events <- provider.ChatEvent{Type: provider.EventTypeDone}
			close(events)
		case <-ctx.Done():
			// Leave the channel open so cancellation is the only signal.
		}
	}()
	return events, nil
}

func collectStream(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var collected []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestStreamTurn_EventSequence(t *testing.T) {
	fake := &fakeProvider{name: "fake", streamDeltas: []string{"Hel", "lo", "!"}}
	svc, db := newTestService(t, fake)

	events, err := svc.StreamTurn(context.Background(), TurnRequest{Message: "Hello"})
	require.NoError(t, err)

	collected := collectStream(t, events)
	require.Len(t, collected, 5)

	assert.Equal(t, EventReceived, collected[0].Type)
	assert.NotEmpty(t, collected[0].ConversationID)
	assert.NotEmpty(t, collected[0].MessageID)

	assert.Equal(t, EventChunk, collected[1].Type)
	assert.Equal(t, "Hel", collected[1].Delta)
	assert.Equal(t, "lo", collected[2].Delta)
	assert.Equal(t, "!", collected[3].Delta)

	final := collected[4]
	assert.Equal(t, EventComplete, final.Type)
	assert.Equal(t, "Hello!", final.Content)
	assert.Equal(t, "fake", final.Provider)
	// The request left the model to the backend; the completion still
	// reports the one that served the stream.
	assert.Equal(t, "fake-model", final.Model)

	// Both sides of the turn are persisted.
	messages, _ := db.ListMessages(collected[0].ConversationID, 0)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello!", messages[1].Content)
	assert.Equal(t, "fake-model", messages[1].Model)
}

func TestStreamTurn_ChartExtractedOnComplete(t *testing.T) {
	deltas := []string{
		"```chart\n",
		`{"type":"line","data":{"labels":["a","b"],"datasets":[{"label":"s","data":[1,2]}]}}`,
		"\n```",
	}
	fake := &fakeProvider{name: "fake", streamDeltas: deltas}
	svc, _ := newTestService(t, fake)

	events, err := svc.StreamTurn(context.Background(), TurnRequest{Message: "draw a chart"})
	require.NoError(t, err)

	collected := collectStream(t, events)
	final := collected[len(collected)-1]
	require.Equal(t, EventComplete, final.Type)
	require.NotNil(t, final.Chart)
	assert.Equal(t, "line", final.Chart.Type)
	assert.Empty(t, final.Content)
}

func TestStreamTurn_ValidationBeforeDispatch(t *testing.T) {
	fake := &fakeProvider{name: "fake"}
	svc, _ := newTestService(t, fake)

	_, err := svc.StreamTurn(context.Background(), TurnRequest{Message: ""})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.StreamTurn(context.Background(), TurnRequest{ConversationID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStreamTurn_ProviderErrorEvent(t *testing.T) {
	fake := &fakeProvider{
		name:      "fake",
		streamErr: provider.NewProviderError(provider.ErrCodeRateLimited, "slow down", "fake", true),
	}
	svc, _ := newTestService(t, fake)

	events, err := svc.StreamTurn(context.Background(), TurnRequest{Message: "hi"})
	require.NoError(t, err)

	collected := collectStream(t, events)
	require.Len(t, collected, 2)
	assert.Equal(t, EventReceived, collected[0].Type)
	assert.Equal(t, EventError, collected[1].Type)
	assert.Equal(t, "RATE_LIMITED", collected[1].Code)
}

func TestStreamTurn_CancelAbandonsWithoutPersisting(t *testing.T) {
	fake := &blockingProvider{
		fakeProvider: fakeProvider{name: "fake"},
		release:      make(chan struct{}),
	}
	svc, db := newTestService(t, &fake.fakeProvider)

	// Register the blocking variant under the same name.
	provider.Reset()
	provider.Register(fake)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.StreamTurn(ctx, TurnRequest{Message: "hi"})
	require.NoError(t, err)

	// Wait for the user message to land, then drop the client.
	first := <-events
	require.Equal(t, EventReceived, first.Type)
	cancel()

	collected := collectStream(t, events)
	for _, ev := range collected {
		assert.NotEqual(t, EventComplete, ev.Type, "no completion after cancel")
	}

	// Only the user message is persisted; the partial reply is dropped.
	messages, _ := db.ListMessages(first.ConversationID, 0)
	require.Len(t, messages, 1)
	assert.Equal(t, storage.RoleUser, messages[0].Role)
}
