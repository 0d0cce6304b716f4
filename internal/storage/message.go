package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in a conversation. Messages are append-only; the
// only mutation after insert is attaching a chart payload to an assistant
// message once a streamed reply completes.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Chart          json.RawMessage `json:"chart,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AppendMessage appends a message to a conversation and bumps the
// conversation's updated_at timestamp.
func (db *DB) AppendMessage(m *Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	var provider, model, metadata, chart *string
	if m.Provider != "" {
		provider = &m.Provider
	}
	if m.Model != "" {
		model = &m.Model
	}
	if len(m.Metadata) > 0 {
		s := string(m.Metadata)
		metadata = &s
	}
	if len(m.Chart) > 0 {
		s := string(m.Chart)
		chart = &s
	}

	_, err := db.Exec(
		"INSERT INTO messages (id, conversation_id, role, content, provider, model, metadata, chart, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ConversationID, m.Role, m.Content, provider, model, metadata, chart, m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	_, _ = db.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", m.CreatedAt, m.ConversationID)

	return m, nil
}

// GetMessage returns a single message by id.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(
		"SELECT id, conversation_id, role, content, provider, model, metadata, chart, created_at FROM messages WHERE id = ?",
		id,
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListMessages returns a conversation's messages in chronological order.
// A positive limit returns only the most recent limit messages, still in
// chronological order.
func (db *DB) ListMessages(conversationID string, limit int) ([]*Message, error) {
	query := "SELECT id, conversation_id, role, content, provider, model, metadata, chart, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC"
	rows, err := db.Query(query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// CountMessages counts messages in a conversation.
func (db *DB) CountMessages(conversationID string) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&count)
	return count, err
}

// AttachChart sets the chart payload on an assistant message.
func (db *DB) AttachChart(messageID string, chart json.RawMessage) error {
	result, err := db.Exec(
		"UPDATE messages SET chart = ? WHERE id = ? AND role = ?",
		string(chart), messageID, RoleAssistant,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var provider, model, metadata, chart sql.NullString

	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &provider, &model, &metadata, &chart, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if provider.Valid {
		m.Provider = provider.String
	}
	if model.Valid {
		m.Model = model.String
	}
	if metadata.Valid {
		m.Metadata = json.RawMessage(metadata.String)
	}
	if chart.Valid {
		m.Chart = json.RawMessage(chart.String)
	}

	return &m, nil
}
