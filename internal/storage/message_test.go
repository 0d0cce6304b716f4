package storage

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestAppendMessage(t *testing.T) {
	db := openTestDB(t)

	c, _ := db.CreateConversation("", "openai", "", nil)
	msg, err := db.AppendMessage(&Message{ConversationID: c.ID, Role: RoleUser, Content: "Hello"})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected generated id")
	}
	if msg.Role != RoleUser || msg.Content != "Hello" {
		t.Error("message content mismatch")
	}
}

func TestAppendMessage_BumpsConversation(t *testing.T) {
	db := openTestDB(t)

	c, _ := db.CreateConversation("", "openai", "", nil)
	before := c.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	_, _ = db.AppendMessage(&Message{ConversationID: c.ID, Role: RoleUser, Content: "hi"})

	got, _ := db.GetConversation(c.ID)
	if !got.UpdatedAt.After(before) {
		t.Error("conversation updated_at should advance on append")
	}
}

func TestListMessages_ChronologicalWithLimit(t *testing.T) {
	db := openTestDB(t)

	c, _ := db.CreateConversation("", "openai", "", nil)
	for i := 0; i < 5; i++ {
		_, _ = db.AppendMessage(&Message{
			ConversationID: c.ID,
			Role:           RoleUser,
			Content:        fmt.Sprintf("msg-%d", i),
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}

	all, err := db.ListMessages(c.ID, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("ListMessages failed: %v (%d)", err, len(all))
	}
	if all[0].Content != "msg-0" || all[4].Content != "msg-4" {
		t.Error("messages out of order")
	}

	// A limit keeps the most recent tail, still chronological.
	tail, err := db.ListMessages(c.ID, 2)
	if err != nil || len(tail) != 2 {
		t.Fatalf("limited ListMessages failed: %v (%d)", err, len(tail))
	}
	if tail[0].Content != "msg-3" || tail[1].Content != "msg-4" {
		t.Error("limit should keep the most recent messages in order")
	}
}

func TestMessage_ChartRoundTrip(t *testing.T) {
	db := openTestDB(t)

	c, _ := db.CreateConversation("", "openai", "", nil)
	payload := json.RawMessage(`{"type":"bar","data":{"labels":["a"],"datasets":[{"label":"s","data":[1]}]}}`)

	msg, err := db.AppendMessage(&Message{
		ConversationID: c.ID,
		Role:           RoleAssistant,
		Content:        "here is your chart",
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		Chart:          payload,
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, err := db.GetMessage(msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if string(got.Chart) != string(payload) {
		t.Errorf("chart mismatch: %s", got.Chart)
	}
	if got.Provider != "openai" || got.Model != "gpt-4o-mini" {
		t.Error("provider attribution mismatch")
	}
}

func TestAttachChart(t *testing.T) {
	db := openTestDB(t)

	c, _ := db.CreateConversation("", "openai", "", nil)
	assistant, _ := db.AppendMessage(&Message{ConversationID: c.ID, Role: RoleAssistant, Content: "done"})
	user, _ := db.AppendMessage(&Message{ConversationID: c.ID, Role: RoleUser, Content: "hi"})

	chart := json.RawMessage(`{"type":"line"}`)
	if err := db.AttachChart(assistant.ID, chart); err != nil {
		t.Fatalf("AttachChart failed: %v", err)
	}

	got, _ := db.GetMessage(assistant.ID)
	if string(got.Chart) != `{"type":"line"}` {
		t.Error("chart not attached")
	}

	// Charts only attach to assistant messages.
	if err := db.AttachChart(user.ID, chart); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for user message, got %v", err)
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetMessage("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
