package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tbxark/jobfill/internal/sqlitedb"
	"github.com/tbxark/jobfill/types"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id    TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps one JSON document per user in a profiles table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the schema on db if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(profileSchema); err != nil {
		return nil, fmt.Errorf("profile: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (types.ProfileNode, error) {
	userID := userIDOrDefault(ctx)
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load %s: %w", userID, err)
	}
	doc := types.ProfileNode{}
	if err := sonic.UnmarshalString(raw, &doc); err != nil {
		return nil, fmt.Errorf("profile: decode %s: %w", userID, err)
	}
	return doc, nil
}

// Write reads, patches and stores the document inside one transaction.
func (s *SQLiteStore) Write(ctx context.Context, path string, value any) error {
	userID := userIDOrDefault(ctx)
	return sqlitedb.RunTransaction(s.db, func(tx *sql.Tx) error {
		var raw string
		doc := types.ProfileNode{}
		err := tx.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE user_id = ?`, userID).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("profile: load %s: %w", userID, err)
		default:
			if err := sonic.UnmarshalString(raw, &doc); err != nil {
				return fmt.Errorf("profile: decode %s: %w", userID, err)
			}
		}
		next, err := ApplyWrite(doc, path, value)
		if err != nil {
			return err
		}
		return upsert(ctx, tx, userID, next)
	})
}

// Put replaces the whole profile of userID.
func (s *SQLiteStore) Put(ctx context.Context, userID string, doc types.ProfileNode) error {
	return sqlitedb.RunTransaction(s.db, func(tx *sql.Tx) error {
		return upsert(ctx, tx, userID, doc)
	})
}

func upsert(ctx context.Context, tx *sql.Tx, userID string, doc types.ProfileNode) error {
	if doc == nil {
		doc = types.ProfileNode{}
	}
	encoded, err := sonic.MarshalString(doc)
	if err != nil {
		return fmt.Errorf("profile: encode %s: %w", userID, err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO profiles (user_id, doc, updated_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		userID, encoded, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("profile: store %s: %w", userID, err)
	}
	return nil
}
