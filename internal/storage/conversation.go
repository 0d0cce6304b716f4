package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultTitle is the title given to a conversation before its first turn
// produces a derived one.
const DefaultTitle = "New conversation"

// Conversation is a chat conversation owning an ordered message sequence.
type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Settings  json.RawMessage `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateConversation creates a new conversation with a generated id.
func (db *DB) CreateConversation(title, provider, model string, settings json.RawMessage) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	if settings == nil {
		settings = json.RawMessage("{}")
	}

	c := &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Provider:  provider,
		Model:     model,
		Settings:  settings,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := db.Exec(
		"INSERT INTO conversations (id, title, provider, model, settings, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Title, c.Provider, c.Model, string(c.Settings), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	var settings string

	err := db.QueryRow(
		"SELECT id, title, provider, model, settings, created_at, updated_at FROM conversations WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Title, &c.Provider, &c.Model, &settings, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Settings = json.RawMessage(settings)
	return &c, nil
}

// ListConversations lists conversations ordered by recency. A non-empty
// query filters by title substring.
func (db *DB) ListConversations(query string, limit, offset int) ([]*Conversation, error) {
	q := "SELECT id, title, provider, model, settings, created_at, updated_at FROM conversations"
	args := []any{}

	if query != "" {
		q += " WHERE title LIKE ?"
		args = append(args, "%"+query+"%")
	}
	q += " ORDER BY updated_at DESC"

	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		q += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var c Conversation
		var settings string

		if err := rows.Scan(&c.ID, &c.Title, &c.Provider, &c.Model, &settings, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}

		c.Settings = json.RawMessage(settings)
		conversations = append(conversations, &c)
	}

	return conversations, rows.Err()
}

// RenameConversation updates a conversation title.
func (db *DB) RenameConversation(id, title string) error {
	result, err := db.Exec(
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// UpdateConversationSettings replaces a conversation's settings bag.
func (db *DB) UpdateConversationSettings(id string, settings json.RawMessage) error {
	if settings == nil {
		settings = json.RawMessage("{}")
	}

	result, err := db.Exec(
		"UPDATE conversations SET settings = ?, updated_at = ? WHERE id = ?",
		string(settings), time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteConversation removes a conversation and, via cascade, its messages.
func (db *DB) DeleteConversation(id string) error {
	result, err := db.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteConversations removes multiple conversations in one transaction,
// skipping ids that do not exist, and returns how many were deleted.
func (db *DB) DeleteConversations(ids []string) (int, error) {
	deleted := 0
	err := db.WithTx(func(tx *Tx) error {
		for _, id := range ids {
			result, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// TouchConversation bumps a conversation's updated_at timestamp.
func (db *DB) TouchConversation(id string) error {
	result, err := db.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
