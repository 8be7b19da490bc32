package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/slotwise/internal/db"
)

// Message is one stored exchange.
type Message struct {
	ID                int64
	UserMessage       string
	AssistantResponse string
	Action            Action
	CreatedAt         time.Time
}

// History persists exchanges in chat_messages.
type History struct {
	db *db.DB
}

// NewHistory creates a history store.
func NewHistory(database *db.DB) *History {
	return &History{db: database}
}

// Save stores an exchange and returns it with its id.
func (h *History) Save(ctx context.Context, m Message) (*Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Action == "" {
		m.Action = ActionUnknown
	}
	err := db.RetryOnBusy(ctx, 5, func() error {
		return h.db.SQL().QueryRowContext(ctx, `
			INSERT INTO chat_messages (user_message, assistant_response, action, created_at)
			VALUES (?, ?, ?, ?) RETURNING id`,
			m.UserMessage, m.AssistantResponse, string(m.Action), m.CreatedAt.UTC()).Scan(&m.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("save chat message: %w", err)
	}
	return &m, nil
}

// Recent returns up to limit exchanges, oldest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.SQL().QueryContext(ctx, `
		SELECT id, user_message, assistant_response, action, created_at FROM (
			SELECT * FROM chat_messages ORDER BY id DESC LIMIT ?
		) ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var action, created string
		if err := rows.Scan(&m.ID, &m.UserMessage, &m.AssistantResponse, &action, &created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Action = ParseAction(action)
		if m.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes every exchange and returns how many were removed.
func (h *History) Clear(ctx context.Context) (int64, error) {
	res, err := h.db.SQL().ExecContext(ctx, `DELETE FROM chat_messages`)
	if err != nil {
		return 0, fmt.Errorf("clear chat messages: %w", err)
	}
	return res.RowsAffected()
}
