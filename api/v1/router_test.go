package v1

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"plotline/internal/chat"
	"plotline/internal/config"
	"plotline/internal/mcp"
	"plotline/internal/provider"
	"plotline/internal/storage"
)

// echoProvider replies with a fixed string.
type echoProvider struct {
	reply string
}

func (e *echoProvider) Name() string     { return "echo" }
func (e *echoProvider) Models() []string { return []string{"echo-1"} }

func (e *echoProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: e.reply, Model: "echo-1", FinishReason: "stop"}, nil
}

func (e *echoProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	events := make(chan provider.ChatEvent, 2)
	events <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: e.reply}
	events <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(events)
	return events, nil
}

type testEnv struct {
	router *mux.Router
	db     *storage.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider.Reset()
	t.Cleanup(provider.Reset)
	provider.Register(&echoProvider{reply: "echo says hi"})

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := mcp.NewRegistry(db, 2*time.Second)
	chatService := chat.NewService(db, registry, config.ChatConfig{}, config.ChartConfig{})

	m := mux.NewRouter()
	api := m.PathPrefix("/api/v1").Subrouter()
	NewRouter(&RouterDeps{DB: db, Chat: chatService, Registry: registry, Version: "test"}).RegisterRoutes(api)

	return &testEnv{router: m, db: db}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}
