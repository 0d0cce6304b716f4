package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTransport is the transport used when a tool server does not
// specify one.
const DefaultTransport = "sse"

// ToolServer is a registered external capability endpoint.
type ToolServer struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	URL           string          `json:"url"`
	Transport     string          `json:"transport"`
	Description   string          `json:"description"`
	Active        bool            `json:"active"`
	Env           json.RawMessage `json:"env"`
	Configuration json.RawMessage `json:"configuration"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateToolServer registers a new tool server.
func (db *DB) CreateToolServer(ts *ToolServer) (*ToolServer, error) {
	if ts.ID == "" {
		ts.ID = uuid.New().String()
	}
	if ts.Transport == "" {
		ts.Transport = DefaultTransport
	}
	if ts.Env == nil {
		ts.Env = json.RawMessage("{}")
	}
	if ts.Configuration == nil {
		ts.Configuration = json.RawMessage("{}")
	}
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = time.Now()
	}

	_, err := db.Exec(
		"INSERT INTO tool_servers (id, name, url, transport, description, active, env, configuration, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ts.ID, ts.Name, ts.URL, ts.Transport, ts.Description, ts.Active, string(ts.Env), string(ts.Configuration), ts.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return ts, nil
}

// GetToolServer returns a tool server by id.
func (db *DB) GetToolServer(id string) (*ToolServer, error) {
	row := db.QueryRow(
		"SELECT id, name, url, transport, description, active, env, configuration, created_at FROM tool_servers WHERE id = ?",
		id,
	)
	return scanToolServer(row)
}

// GetToolServerByName returns a tool server by its unique name.
func (db *DB) GetToolServerByName(name string) (*ToolServer, error) {
	row := db.QueryRow(
		"SELECT id, name, url, transport, description, active, env, configuration, created_at FROM tool_servers WHERE name = ?",
		name,
	)
	return scanToolServer(row)
}

// ListToolServers lists registered tool servers, optionally only active ones.
func (db *DB) ListToolServers(activeOnly bool) ([]*ToolServer, error) {
	query := "SELECT id, name, url, transport, description, active, env, configuration, created_at FROM tool_servers"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*ToolServer
	for rows.Next() {
		ts, err := scanToolServerRow(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, ts)
	}

	return servers, rows.Err()
}

// UpdateToolServer replaces a tool server's mutable fields.
func (db *DB) UpdateToolServer(ts *ToolServer) error {
	if ts.Transport == "" {
		ts.Transport = DefaultTransport
	}
	if ts.Env == nil {
		ts.Env = json.RawMessage("{}")
	}
	if ts.Configuration == nil {
		ts.Configuration = json.RawMessage("{}")
	}

	result, err := db.Exec(
		"UPDATE tool_servers SET name = ?, url = ?, transport = ?, description = ?, active = ?, env = ?, configuration = ? WHERE id = ?",
		ts.Name, ts.URL, ts.Transport, ts.Description, ts.Active, string(ts.Env), string(ts.Configuration), ts.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteToolServer removes a registered tool server.
func (db *DB) DeleteToolServer(id string) error {
	result, err := db.Exec("DELETE FROM tool_servers WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func scanToolServer(row *sql.Row) (*ToolServer, error) {
	var ts ToolServer
	var env, configuration string

	err := row.Scan(&ts.ID, &ts.Name, &ts.URL, &ts.Transport, &ts.Description, &ts.Active, &env, &configuration, &ts.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ts.Env = json.RawMessage(env)
	ts.Configuration = json.RawMessage(configuration)
	return &ts, nil
}

func scanToolServerRow(rows *sql.Rows) (*ToolServer, error) {
	var ts ToolServer
	var env, configuration string

	if err := rows.Scan(&ts.ID, &ts.Name, &ts.URL, &ts.Transport, &ts.Description, &ts.Active, &env, &configuration, &ts.CreatedAt); err != nil {
		return nil, err
	}

	ts.Env = json.RawMessage(env)
	ts.Configuration = json.RawMessage(configuration)
	return &ts, nil
}
