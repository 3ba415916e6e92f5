package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"crosstalk/internal/domain"
)

// SQLiteStore is the durable ConversationStore. Save is a full replace —
// delete plus reinsert inside one transaction — so concurrent saves for the
// same key are last-writer-wins, never interleaved.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and initializes its schema. Returns an
// error if db is nil or the migration fails.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return s, nil
}

// migrate creates the conversation_history table and its key indexes.
// created_at is informational only; ordering is carried by sequence_number,
// since full-replace writes can share a timestamp granularity coarser than
// ordering needs.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_history (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_project_provider
		ON conversation_history (project_id, provider)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_project_provider_sequence
		ON conversation_history (project_id, provider, sequence_number)
	`)
	return err
}

// Load implements domain.ConversationStore. Order is reconstructed strictly
// by ascending sequence number. A missing conversation is an empty slice.
func (s *SQLiteStore) Load(ctx context.Context, projectID, provider string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, images
		FROM conversation_history
		WHERE project_id = ? AND provider = ?
		ORDER BY sequence_number ASC
	`, projectID, provider)
	if err != nil {
		return nil, fmt.Errorf("store load: %w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var role, content string
		var images sql.NullString
		if err := rows.Scan(&role, &content, &images); err != nil {
			return nil, fmt.Errorf("store load scan: %w: %v", domain.ErrPersistence, err)
		}
		msg := domain.Message{Role: domain.MessageRole(role), Content: content}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("store load images: %w: %v", domain.ErrPersistence, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store load rows: %w: %v", domain.ErrPersistence, err)
	}
	return messages, nil
}

// Save implements domain.ConversationStore: all prior messages for the key
// are removed and the given sequence written with sequence numbers equal to
// list position, inside one transaction. Any failure rolls back entirely,
// leaving the prior state intact.
func (s *SQLiteStore) Save(ctx context.Context, projectID, provider string, messages []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store save begin: %w: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_history WHERE project_id = ? AND provider = ?
	`, projectID, provider); err != nil {
		return fmt.Errorf("store save delete: %w: %v", domain.ErrPersistence, err)
	}

	for seq, msg := range messages {
		var images any
		if len(msg.Images) > 0 {
			raw, err := json.Marshal(msg.Images)
			if err != nil {
				return fmt.Errorf("store save images: %w: %v", domain.ErrPersistence, err)
			}
			images = string(raw)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_history (id, project_id, provider, sequence_number, role, content, images)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), projectID, provider, seq, string(msg.Role), msg.Content, images); err != nil {
			return fmt.Errorf("store save insert: %w: %v", domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store save commit: %w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Clear implements domain.ConversationStore and returns the count removed.
func (s *SQLiteStore) Clear(ctx context.Context, projectID, provider string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_history WHERE project_id = ? AND provider = ?
	`, projectID, provider)
	if err != nil {
		return 0, fmt.Errorf("store clear: %w: %v", domain.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store clear count: %w: %v", domain.ErrPersistence, err)
	}
	return n, nil
}

var _ domain.ConversationStore = (*SQLiteStore)(nil)
