// Package memory keeps the per-conversation message log and builds the
// model context from it, summarizing long conversations.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/giantsdigitaldev/cristos/internal/store"
)

// Message is one stored conversation message.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user | assistant
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Log is the persistence interface for conversation messages.
type Log interface {
	Append(ctx context.Context, conversationID, role, content string) error
	List(ctx context.Context, conversationID string) ([]Message, error)
}

// SQLiteLog implements Log on the shared store.
type SQLiteLog struct {
	ds *store.Store
}

// NewSQLiteLog creates a message log.
func NewSQLiteLog(ds *store.Store) *SQLiteLog {
	return &SQLiteLog{ds: ds}
}

// Append stores a message. Empty content is ignored.
func (l *SQLiteLog) Append(ctx context.Context, conversationID, role, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	_, err := l.ds.DB().ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// List returns the full log for a conversation, oldest first.
func (l *SQLiteLog) List(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := l.ds.DB().QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
