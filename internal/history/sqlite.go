// ABOUTME: SQLite chat transcript store using modernc.org/sqlite
// ABOUTME: Persists exchanged messages and tracks the last active chat

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Role values for transcript entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrNoHistory indicates the store has never seen a user-facing chat.
var ErrNoHistory = errors.New("no chat history")

// Entry is one transcript row.
type Entry struct {
	ID        int64
	ChatID    int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store persists chat transcripts in SQLite. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the transcript database at the given path. The
// schema is created automatically and parent directories are created if
// needed.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "history")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers from blocking the webhook's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("history store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages(chat_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMessage appends one transcript entry.
func (s *Store) SaveMessage(ctx context.Context, chatID int64, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatID, role, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit entries for the chat, oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LastActiveChat returns the chat id of the most recent user message,
// ignoring reserved internal conversations (negative chat ids).
func (s *Store) LastActiveChat(ctx context.Context) (int64, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM messages
		 WHERE role = ? AND chat_id > 0
		 ORDER BY id DESC LIMIT 1`,
		RoleUser,
	).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoHistory
	}
	if err != nil {
		return 0, fmt.Errorf("querying last active chat: %w", err)
	}
	return chatID, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
