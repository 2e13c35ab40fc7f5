// Package store implements the durable message log on SQLite. It owns the
// messages schema and exposes the operations the relay layer consumes:
// insert, ordered listing, seen-marking, unread counting, and clearing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Message is one durable chat message. CreatedAt and ID are assigned by the
// store on insert; SeenAt is set when the counterpart marks it seen.
type Message struct {
	ID         int64           `json:"id"`
	Sender     string          `json:"sender"`
	Content    json.RawMessage `json:"content"`
	TimeString string          `json:"time_string"`
	CreatedAt  time.Time       `json:"created_at"`
	IsSeen     bool            `json:"is_seen"`
	SeenAt     *time.Time      `json:"seen_at,omitempty"`
}

// Store provides access to the message log.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// bootstraps the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle without touching the schema.
// Used by tests to inject a mock connection.
func NewWithDB(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	query := `CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		time_string TEXT NOT NULL,
		is_seen INTEGER NOT NULL DEFAULT 0,
		seen_at TEXT,
		created_at TEXT NOT NULL
	)`
	if _, err := s.conn.Exec(query); err != nil {
		return errors.Wrap(err, "create messages table")
	}
	if _, err := s.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_sender_seen ON messages(sender, is_seen)`); err != nil {
		return errors.Wrap(err, "create messages index")
	}
	return nil
}

// Insert appends a message to the log, assigning its identifier and creation
// timestamp, and returns the persisted record.
func (s *Store) Insert(ctx context.Context, sender string, content json.RawMessage, timeString string) (Message, error) {
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (sender, content, time_string, is_seen, created_at) VALUES (?, ?, ?, 0, ?)",
		sender, string(content), timeString, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Message{}, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, errors.Wrap(err, "read inserted id")
	}

	return Message{
		ID:         id,
		Sender:     sender,
		Content:    content,
		TimeString: timeString,
		CreatedAt:  now,
		IsSeen:     false,
	}, nil
}

// ListAll returns every message in creation order, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]Message, error) {
	return s.list(ctx,
		"SELECT id, sender, content, time_string, is_seen, seen_at, created_at FROM messages ORDER BY id ASC")
}

// ListSeen returns every seen message from the given sender, oldest first.
func (s *Store) ListSeen(ctx context.Context, sender string) ([]Message, error) {
	return s.list(ctx,
		"SELECT id, sender, content, time_string, is_seen, seen_at, created_at FROM messages WHERE sender = ? AND is_seen = 1 ORDER BY id ASC",
		sender)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, errors.Wrap(rows.Err(), "iterate messages")
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		msg       Message
		content   string
		seenAt    sql.NullString
		createdAt string
	)
	if err := rows.Scan(&msg.ID, &msg.Sender, &content, &msg.TimeString, &msg.IsSeen, &seenAt, &createdAt); err != nil {
		return Message{}, errors.Wrap(err, "scan message")
	}

	msg.Content = json.RawMessage(content)

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Message{}, errors.Wrapf(err, "parse created_at for message %d", msg.ID)
	}
	msg.CreatedAt = created

	if seenAt.Valid && seenAt.String != "" {
		seen, err := time.Parse(time.RFC3339Nano, seenAt.String)
		if err != nil {
			return Message{}, errors.Wrapf(err, "parse seen_at for message %d", msg.ID)
		}
		msg.SeenAt = &seen
	}
	return msg, nil
}

// CountUnread returns how many messages from the given sender have not been
// seen yet.
func (s *Store) CountUnread(ctx context.Context, sender string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE sender = ? AND is_seen = 0", sender,
	).Scan(&count)
	return count, errors.Wrap(err, "count unread messages")
}

// MarkSeen flips every unseen message from the given sender to seen, stamping
// the seen timestamp, and returns the number of rows updated. Calling it when
// nothing is unseen is a no-op.
func (s *Store) MarkSeen(ctx context.Context, sender string, at time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE messages SET is_seen = 1, seen_at = ? WHERE sender = ? AND is_seen = 0",
		at.UTC().Format(time.RFC3339Nano), sender,
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark messages seen")
	}
	affected, err := res.RowsAffected()
	return affected, errors.Wrap(err, "read affected rows")
}

// ClearAll removes every message and resets the identifier sequence so the
// next insert starts at 1.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return errors.Wrap(err, "delete messages")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = 'messages'"); err != nil {
		return errors.Wrap(err, "reset id sequence")
	}
	return errors.Wrap(tx.Commit(), "commit clear transaction")
}
