package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, username, email, active, banned, password_change, last_login, last_ip, created_at`

// GetLoginCheck returns the id and password hash for identity.
func (s *SQLStore) GetLoginCheck(ctx context.Context, identity string) (LoginCheck, bool, error) {
	var out LoginCheck
	err := s.queryRow(ctx,
		`SELECT id, password FROM users WHERE `+s.identityField+` = ?`, identity,
	).Scan(&out.ID, &out.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return LoginCheck{}, false, nil
	}
	if err != nil {
		return LoginCheck{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, true, nil
}

// GetUser loads the account view for id.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (UserAccount, bool, error) {
	return s.scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByIdentity loads the account view by the configured identity field.
func (s *SQLStore) GetUserByIdentity(ctx context.Context, identity string) (UserAccount, bool, error) {
	return s.scanUser(s.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+s.identityField+` = ?`, identity))
}

func (s *SQLStore) scanUser(row *sql.Row) (UserAccount, bool, error) {
	var (
		u                              UserAccount
		email                          sql.NullString
		active, banned, passwordChange int
		lastLogin                      sql.NullInt64
		lastIP                         []byte
		createdAt                      int64
	)
	err := row.Scan(&u.ID, &u.Username, &email, &active, &banned, &passwordChange, &lastLogin, &lastIP, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserAccount{}, false, nil
	}
	if err != nil {
		return UserAccount{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	u.Email = email.String
	u.Active = active != 0
	u.Banned = banned != 0
	u.PasswordChange = passwordChange != 0
	u.LastLogin = fromMillis(lastLogin)
	u.LastIP = UnpackIP(lastIP)
	u.CreatedAt = time.UnixMilli(createdAt)
	if s.identityField == "email" {
		u.Identity = u.Email
	} else {
		u.Identity = u.Username
	}
	return u, true, nil
}

// UpdateLastLogin records a successful login time and address.
func (s *SQLStore) UpdateLastLogin(ctx context.Context, id int64, ip string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE users SET last_login = ?, last_ip = ? WHERE id = ?`, millis(at), ipArg(ip), id)
	return err
}

// CreateUser inserts a user and returns its id.
func (s *SQLStore) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	var email any
	if e := strings.TrimSpace(u.Email); e != "" {
		email = e
	}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO users (username, email, password, active, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		u.Username, email, u.PasswordHash, boolInt(u.Active), millis(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create user: %v", ErrUnavailable, err)
	}
	return id, nil
}

// SetActive sets or clears the active flag.
func (s *SQLStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.setFlag(ctx, "active", id, active)
}

// SetBanned sets or clears the banned flag.
func (s *SQLStore) SetBanned(ctx context.Context, id int64, banned bool) error {
	return s.setFlag(ctx, "banned", id, banned)
}

// SetPasswordChange sets or clears the forced password change flag.
func (s *SQLStore) SetPasswordChange(ctx context.Context, id int64, required bool) error {
	return s.setFlag(ctx, "password_change", id, required)
}

// column is always one of the literals above.
func (s *SQLStore) setFlag(ctx context.Context, column string, id int64, v bool) error {
	res, err := s.exec(ctx, `UPDATE users SET `+column+` = ? WHERE id = ?`, boolInt(v), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return nil
}

// SetPasswordHash replaces the stored hash. The password change flag is
// left alone.
func (s *SQLStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := s.exec(ctx, `UPDATE users SET password = ? WHERE id = ?`, hash, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return nil
}
