package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CheckAutologin reports whether (id, code) matches a stored autologin code
// issued at or after validSince.
func (s *SQLStore) CheckAutologin(ctx context.Context, id int64, code string, validSince time.Time) (bool, error) {
	var found int64
	err := s.queryRow(ctx,
		`SELECT user_id FROM autologin WHERE user_id = ? AND code = ? AND created_at >= ?`,
		id, code, millis(validSince),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// SetAutologin stores code for id, replacing any previous code.
func (s *SQLStore) SetAutologin(ctx context.Context, id int64, code string, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO autologin (user_id, code, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET code = excluded.code, created_at = excluded.created_at`,
		id, code, millis(at))
	return err
}

// ClearAutologin removes the autologin code for id.
func (s *SQLStore) ClearAutologin(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `DELETE FROM autologin WHERE user_id = ?`, id)
	return err
}
