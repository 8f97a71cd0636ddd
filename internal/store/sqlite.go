// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides enquiry/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Writes are serialized by SQLite anyway; one connection also keeps
	// :memory: databases from splitting per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS enquiries (
			id          TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			name        TEXT NOT NULL,
			email       TEXT NOT NULL,
			subject     TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_enquiries_customer ON enquiries(customer_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			enquiry_id         TEXT NOT NULL,
			unread_admin_count INTEGER NOT NULL DEFAULT 0,
			unread_user_count  INTEGER NOT NULL DEFAULT 0,
			last_message_at    INTEGER,
			created_at         INTEGER NOT NULL,
			FOREIGN KEY (enquiry_id) REFERENCES enquiries(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_enquiry
			ON conversations(enquiry_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_type     TEXT NOT NULL,
			sender_name     TEXT NOT NULL,
			message_text    TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			read_at         INTEGER,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (sender_type IN ('user', 'admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

// CreateEnquiry stores a new enquiry. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) CreateEnquiry(ctx context.Context, enquiry *Enquiry) error {
	if enquiry.ID == "" {
		enquiry.ID = uuid.New().String()
	}
	if enquiry.CreatedAt.IsZero() {
		enquiry.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enquiries (id, customer_id, name, email, subject, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, enquiry.ID, enquiry.CustomerID, enquiry.Name, enquiry.Email, enquiry.Subject, toMicros(enquiry.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting enquiry: %w", err)
	}
	return nil
}

// GetEnquiry retrieves an enquiry by ID
func (s *SQLiteStore) GetEnquiry(ctx context.Context, id string) (*Enquiry, error) {
	var e Enquiry
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, name, email, subject, created_at
		FROM enquiries WHERE id = ?
	`, id).Scan(&e.ID, &e.CustomerID, &e.Name, &e.Email, &e.Subject, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying enquiry: %w", err)
	}
	e.CreatedAt = fromMicros(createdAt)
	return &e, nil
}

// CreateConversation stores a new conversation. If a conversation already
// exists for the enquiry it returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, enquiry_id, created_at)
		VALUES (?, ?, ?)
	`, conv.ID, conv.EnquiryID, toMicros(conv.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, enquiry_id, unread_admin_count, unread_user_count, last_message_at, created_at`

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var lastMessageAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&c.ID, &c.EnquiryID, &c.UnreadAdminCount, &c.UnreadUserCount, &lastMessageAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	c.LastMessageAt = nullableTime(lastMessageAt)
	c.CreatedAt = fromMicros(createdAt)
	return &c, nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByEnquiry retrieves the conversation linked to an enquiry
func (s *SQLiteStore) GetConversationByEnquiry(ctx context.Context, enquiryID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE enquiry_id = ?`, enquiryID)
	return scanConversation(row)
}

const messageColumns = `id, conversation_id, sender_type, sender_name, message_text, created_at, read_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var senderType string
	var createdAt int64
	var readAt sql.NullInt64
	if err := row.Scan(&m.ID, &m.ConversationID, &senderType, &m.SenderName, &m.Text, &createdAt, &readAt); err != nil {
		return nil, err
	}
	m.SenderType = SenderType(senderType)
	m.CreatedAt = fromMicros(createdAt)
	m.ReadAt = nullableTime(readAt)
	return &m, nil
}

// ListMessages retrieves all messages for a conversation ordered by created_at ascending
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// InsertMessage persists a message, assigns its ID and server timestamp, and
// updates the conversation's unread counter and last_message_at in one
// transaction. created_at is strictly increasing within a conversation.
func (s *SQLiteStore) InsertMessage(ctx context.Context, in *NewMessage) (*Message, error) {
	if in.Text == "" || !in.SenderType.Valid() {
		return nil, ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, in.ConversationID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}

	createdAt := toMicros(s.now())
	if latest.Valid && createdAt <= latest.Int64 {
		createdAt = latest.Int64 + 1
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		SenderType:     in.SenderType,
		SenderName:     in.SenderName,
		Text:           in.Text,
		CreatedAt:      fromMicros(createdAt),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, sender_name, message_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.SenderType), msg.SenderName, msg.Text, createdAt)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	counter := "unread_admin_count"
	if in.SenderType == SenderAdmin {
		counter = "unread_user_count"
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET `+counter+` = `+counter+` + 1, last_message_at = ? WHERE id = ?
	`, createdAt, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

// MarkRead sets read_at on unread messages authored by the other role.
// Messages that are already read, unknown, or authored by the reader are
// skipped, so repeated calls are harmless.
func (s *SQLiteStore) MarkRead(ctx context.Context, ids []string, reader SenderType) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(reader))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_type != ? AND read_at IS NULL AND id IN (`+placeholders+`)
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	var targets []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		targets = append(targets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	readAt := s.now().UTC()
	conversations := make(map[string]struct{})
	for _, m := range targets {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL
		`, toMicros(readAt), m.ID); err != nil {
			return nil, fmt.Errorf("marking message read: %w", err)
		}
		t := fromMicros(toMicros(readAt))
		m.ReadAt = &t
		conversations[m.ConversationID] = struct{}{}
	}

	for convID := range conversations {
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET
				unread_admin_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type = 'user' AND read_at IS NULL),
				unread_user_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type = 'admin' AND read_at IS NULL)
			WHERE id = ?
		`, convID, convID, convID); err != nil {
			return nil, fmt.Errorf("recounting unread: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing read receipts: %w", err)
	}

	s.logger.Debug("messages marked read", "count", len(targets), "reader", reader)
	return targets, nil
}

// UnreadMessageIDs lists unread messages in a conversation authored by the other role
func (s *SQLiteStore) UnreadMessageIDs(ctx context.Context, conversationID string, reader SenderType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_type != ? AND read_at IS NULL
		ORDER BY created_at ASC
	`, conversationID, string(reader))
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
