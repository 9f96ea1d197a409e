package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UserRoles lists the role names assigned to id, sorted.
func (s *SQLStore) UserRoles(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`), id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return roles, nil
}

// AddRole assigns role to id. Assigning an existing role is a no-op.
func (s *SQLStore) AddRole(ctx context.Context, id int64, role string) error {
	_, err := s.exec(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES (?, ?) ON CONFLICT (user_id, role) DO NOTHING`,
		id, role)
	return err
}

// RemoveRole revokes role from id.
func (s *SQLStore) RemoveRole(ctx context.Context, id int64, role string) error {
	_, err := s.exec(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role = ?`, id, role)
	return err
}

// LinkExternal maps an external (provider, subject) identity to a local user.
func (s *SQLStore) LinkExternal(ctx context.Context, provider, subject string, id int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO user_external (provider, subject, user_id) VALUES (?, ?, ?)
		 ON CONFLICT (provider, subject) DO UPDATE SET user_id = excluded.user_id`,
		provider, subject, id)
	return err
}

// LookupExternal resolves an external identity to a local user id.
func (s *SQLStore) LookupExternal(ctx context.Context, provider, subject string) (int64, bool, error) {
	var id int64
	err := s.queryRow(ctx,
		`SELECT user_id FROM user_external WHERE provider = ? AND subject = ?`, provider, subject,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, true, nil
}
