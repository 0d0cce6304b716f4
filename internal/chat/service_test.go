package chat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotline/internal/config"
	"plotline/internal/provider"
	"plotline/internal/storage"
)

// fakeProvider is a scriptable in-process provider backend.
type fakeProvider struct {
	name    string
	reply   string
	chatErr error

	streamDeltas []string
	streamErr    error

	lastRequest provider.ChatRequest
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{f.name + "-model"} }

func (f *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	f.lastRequest = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &provider.ChatResponse{Content: f.reply, Model: f.name + "-model", FinishReason: "stop"}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	f.lastRequest = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}

	events := make(chan provider.ChatEvent, len(f.streamDeltas)+1)
	for _, d := range f.streamDeltas {
		events <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: d}
	}
	events <- provider.ChatEvent{Type: provider.EventTypeDone, Model: f.name + "-model", FinishReason: "stop"}
	close(events)
	return events, nil
}

func newTestService(t *testing.T, fake *fakeProvider) (*Service, *storage.DB) {
	t.Helper()

	provider.Reset()
	t.Cleanup(provider.Reset)
	provider.Register(fake)

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, nil, config.ChatConfig{}, config.ChartConfig{})
	return svc, db
}

func TestTurn_CreatesConversationAndPersistsPair(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "Hello back!"}
	svc, db := newTestService(t, fake)

	result, err := svc.Turn(context.Background(), TurnRequest{Message: "Hello"})
	require.NoError(t, err)
	require.NotNil(t, result.Conversation)
	assert.NotEmpty(t, result.Conversation.ID)

	messages, err := db.ListMessages(result.Conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, storage.RoleUser, messages[0].Role)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, storage.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello back!", messages[1].Content)
	assert.Equal(t, "fake", messages[1].Provider)
}

func TestTurn_SetsTitleFromFirstMessage(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "ok"}
	svc, db := newTestService(t, fake)

	result, err := svc.Turn(context.Background(), TurnRequest{Message: "What is the weather in Moscow today?"})
	require.NoError(t, err)

	got, err := db.GetConversation(result.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is the weather in Moscow today?", got.Title)

	// A custom title is never overwritten by later turns.
	require.NoError(t, db.RenameConversation(got.ID, "My thread"))
	_, err = svc.Turn(context.Background(), TurnRequest{ConversationID: got.ID, Message: "Another question"})
	require.NoError(t, err)

	got, _ = db.GetConversation(got.ID)
	assert.Equal(t, "My thread", got.Title)
}

func TestTurn_EmptyMessage(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "ok"}
	svc, _ := newTestService(t, fake)

	_, err := svc.Turn(context.Background(), TurnRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestTurn_UnknownConversation(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "ok"}
	svc, _ := newTestService(t, fake)

	_, err := svc.Turn(context.Background(), TurnRequest{ConversationID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTurn_UnknownProvider(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "ok"}
	svc, _ := newTestService(t, fake)

	_, err := svc.Turn(context.Background(), TurnRequest{Message: "hi", Provider: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
	assert.Equal(t, "VALIDATION_FAILED", ErrorCode(err))
}

func TestTurn_ChartIntentAugmentsOutboundOnly(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "plain answer"}
	svc, db := newTestService(t, fake)

	result, err := svc.Turn(context.Background(), TurnRequest{Message: "покажи график продаж"})
	require.NoError(t, err)

	// Outbound user message carries the chart instruction.
	outbound := fake.lastRequest.Messages[len(fake.lastRequest.Messages)-1]
	assert.Contains(t, outbound.Content, "покажи график продаж")
	assert.Contains(t, outbound.Content, "fenced code block")

	// The persisted user message stays as typed.
	messages, _ := db.ListMessages(result.Conversation.ID, 0)
	assert.Equal(t, "покажи график продаж", messages[0].Content)
}

func TestTurn_ExtractsChartPayload(t *testing.T) {
	reply := "Here you go:\n```chart\n" +
		`{"type":"bar","data":{"labels":["Jan","Feb"],"datasets":[{"label":"sales","data":[5,9]}]}}` +
		"\n```"
	fake := &fakeProvider{name: "fake", reply: reply}
	svc, db := newTestService(t, fake)

	result, err := svc.Turn(context.Background(), TurnRequest{Message: "draw a chart of sales"})
	require.NoError(t, err)
	require.NotNil(t, result.Chart)
	assert.Equal(t, "bar", result.Chart.Type)

	// The fenced block is stripped from the visible content; the payload is
	// persisted on the assistant message.
	assert.NotContains(t, result.AssistantMessage.Content, "```")
	messages, _ := db.ListMessages(result.Conversation.ID, 0)
	assert.NotEmpty(t, messages[1].Chart)
}

func TestTurn_NoChartIntentSkipsExtraction(t *testing.T) {
	// A bare JSON reply without chart intent stays untouched.
	reply := `{"type":"bar","data":{"labels":["a"],"datasets":[{"label":"s","data":[1]}]}}`
	fake := &fakeProvider{name: "fake", reply: reply}
	svc, _ := newTestService(t, fake)

	result, err := svc.Turn(context.Background(), TurnRequest{Message: "tell me a story"})
	require.NoError(t, err)
	assert.Nil(t, result.Chart)
	assert.Equal(t, reply, result.AssistantMessage.Content)
}

func TestTurn_ProviderFailureKeepsUserMessage(t *testing.T) {
	fake := &fakeProvider{
		name:    "fake",
		chatErr: provider.NewProviderError(provider.ErrCodeServiceUnavailable, "down", "fake", true),
	}
	svc, db := newTestService(t, fake)

	c, err := db.CreateConversation("", "fake", "", nil)
	require.NoError(t, err)

	_, err = svc.Turn(context.Background(), TurnRequest{ConversationID: c.ID, Message: "hi"})
	require.Error(t, err)

	messages, _ := db.ListMessages(c.ID, 0)
	require.Len(t, messages, 1)
	assert.Equal(t, storage.RoleUser, messages[0].Role)
}

func TestTurn_HistoryIncludedInOrder(t *testing.T) {
	fake := &fakeProvider{name: "fake", reply: "second answer"}
	svc, _ := newTestService(t, fake)

	first, err := svc.Turn(context.Background(), TurnRequest{Message: "first question"})
	require.NoError(t, err)

	_, err = svc.Turn(context.Background(), TurnRequest{
		ConversationID: first.Conversation.ID,
		Message:        "second question",
	})
	require.NoError(t, err)

	// system + first pair + new user message
	msgs := fake.lastRequest.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Equal(t, "first question", msgs[1].Content)
	assert.Equal(t, provider.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "second question", msgs[3].Content)
}
