package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/core"
)

//go:embed schema.sql
var schema string

type Store struct {
	db dbHandle
}

func New(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: newQueryLogger(db, logger)}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) SetManualStatus(ctx context.Context, userID string, status core.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manual_status (user_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		userID, string(status), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert manual status: %w", err)
	}
	return nil
}

func (s *Store) ManualStatus(ctx context.Context, userID string) (core.Status, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM manual_status WHERE user_id = ?`, userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return core.DefaultStatus, nil
	}
	if err != nil {
		return "", fmt.Errorf("query manual status: %w", err)
	}
	status := core.Status(raw)
	if !status.Valid() {
		return core.DefaultStatus, nil
	}
	return status, nil
}

func (s *Store) AddContact(ctx context.Context, ownerID, contactID string) error {
	if ownerID == "" || contactID == "" {
		return fmt.Errorf("owner and contact required")
	}
	if ownerID == contactID {
		return fmt.Errorf("cannot add self as contact")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (owner_id, contact_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id, contact_id) DO NOTHING`,
		ownerID, contactID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *Store) RemoveContact(ctx context.Context, ownerID, contactID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?`, ownerID, contactID,
	)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

func (s *Store) ContactsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM contacts WHERE owner_id = ?
		 UNION
		 SELECT owner_id FROM contacts WHERE contact_id = ?`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
