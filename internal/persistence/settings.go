package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting reports ok=false when the key has never been written.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value.String, true, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.exec(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
