// Package globalctx stores the singleton records shared by every oracle
// call: the user's free-text context and the model settings.
package globalctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/logging"
)

// Limits on stored values.
const (
	MaxContextLen    = 2000
	DefaultMaxTokens = 2000
)

// ErrInvalid is returned for out-of-range updates.
var ErrInvalid = errors.New("invalid global context")

// GlobalContext is the user's standing preferences and constraints.
type GlobalContext struct {
	Context   string
	UpdatedAt time.Time
}

// Settings overrides the configured oracle model.
type Settings struct {
	LLMModel  string
	MaxTokens int
	UpdatedAt time.Time
}

// Store reads and writes the singleton rows. Both tables hold at most one
// row by a CHECK(id = 1) primary key.
type Store struct {
	db  *db.DB
	log *logging.Logger
	now func() time.Time
}

// NewStore creates a singleton store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, log: logging.Component("globalctx"), now: time.Now}
}

// Get returns the global context, creating the empty row on first access.
func (s *Store) Get(ctx context.Context) (*GlobalContext, error) {
	var gc *GlobalContext
	err := s.getOrCreate(ctx, "global_context",
		func() error {
			var err error
			gc, err = s.readContext(ctx)
			return err
		},
		`INSERT INTO global_context (id, context, updated_at) VALUES (1, '', ?)`)
	return gc, err
}

// Text returns just the context text.
func (s *Store) Text(ctx context.Context) (string, error) {
	gc, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	return gc.Context, nil
}

// Update replaces the global context text.
func (s *Store) Update(ctx context.Context, text string) (*GlobalContext, error) {
	text = strings.TrimSpace(text)
	if n := len([]rune(text)); n > MaxContextLen {
		return nil, fmt.Errorf("%w: context is %d characters, max %d", ErrInvalid, n, MaxContextLen)
	}
	err := db.RetryOnBusy(ctx, 5, func() error {
		_, err := s.db.SQL().ExecContext(ctx, `
			INSERT INTO global_context (id, context, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
			text, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update global context: %w", err)
	}
	s.log.InfoCtx("global context updated", map[string]any{"length": len(text)})
	return s.readContext(ctx)
}

// Settings returns the settings row, creating defaults on first access.
func (s *Store) Settings(ctx context.Context) (*Settings, error) {
	var st *Settings
	err := s.getOrCreate(ctx, "settings",
		func() error {
			var err error
			st, err = s.readSettings(ctx)
			return err
		},
		`INSERT INTO settings (id, llm_model, max_tokens, updated_at) VALUES (1, '', ?, ?)`, DefaultMaxTokens)
	return st, err
}

// UpdateSettings stores a model override and token limit. An empty model
// falls back to the configured one.
func (s *Store) UpdateSettings(ctx context.Context, model string, maxTokens int) (*Settings, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max_tokens must be positive", ErrInvalid)
	}
	err := db.RetryOnBusy(ctx, 5, func() error {
		_, err := s.db.SQL().ExecContext(ctx, `
			INSERT INTO settings (id, llm_model, max_tokens, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET llm_model = excluded.llm_model,
				max_tokens = excluded.max_tokens, updated_at = excluded.updated_at`,
			strings.TrimSpace(model), maxTokens, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	s.log.InfoCtx("settings updated", map[string]any{"llm_model": model, "max_tokens": maxTokens})
	return s.readSettings(ctx)
}

// getOrCreate reads the singleton; when absent it inserts and, if a
// concurrent caller won the insert, reads again.
func (s *Store) getOrCreate(ctx context.Context, table string, read func() error, insert string, args ...any) error {
	err := read()
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return wrap(table, err)
	}

	err = db.RetryOnBusy(ctx, 5, func() error {
		_, err := s.db.SQL().ExecContext(ctx, insert, append(args, s.now().UTC())...)
		return err
	})
	switch {
	case err == nil:
		s.log.InfoCtx("singleton created", map[string]any{"table": table})
	case db.IsUniqueViolation(err):
		s.log.DebugCtx("singleton created concurrently, re-reading", map[string]any{"table": table})
	default:
		return fmt.Errorf("create %s: %w", table, err)
	}
	return wrap(table, read())
}

func wrap(table string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("read %s: %w", table, err)
}

func (s *Store) readContext(ctx context.Context) (*GlobalContext, error) {
	var gc GlobalContext
	var updated string
	err := s.db.SQL().QueryRowContext(ctx, `SELECT context, updated_at FROM global_context WHERE id = 1`).Scan(&gc.Context, &updated)
	if err != nil {
		return nil, err
	}
	if gc.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &gc, nil
}

func (s *Store) readSettings(ctx context.Context) (*Settings, error) {
	var st Settings
	var updated string
	err := s.db.SQL().QueryRowContext(ctx, `SELECT llm_model, max_tokens, updated_at FROM settings WHERE id = 1`).Scan(&st.LLMModel, &st.MaxTokens, &updated)
	if err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &st, nil
}
