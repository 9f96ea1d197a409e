package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var (
	// ErrUnavailable wraps every database failure.
	ErrUnavailable = errors.New("credential store unavailable")
	// ErrUserNotFound is returned by writers addressing an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidIdentityField is returned for a login identity column
	// outside the allowlist.
	ErrInvalidIdentityField = errors.New("invalid login identity field")
)

// Dialect selects placeholder style and schema.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// identityFields is the allowlist of user columns usable as login identity.
var identityFields = map[string]bool{
	"username": true,
	"email":    true,
}

// LoginCheck is the minimal projection needed to verify a password.
type LoginCheck struct {
	ID           int64
	PasswordHash string
}

// UserAccount is the user view handed to callers. It never carries the
// password hash.
type UserAccount struct {
	ID             int64
	Identity       string
	Username       string
	Email          string
	Active         bool
	Banned         bool
	PasswordChange bool
	LastLogin      time.Time
	LastIP         string
	CreatedAt      time.Time
}

// NewUser describes a user to provision.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Active       bool
}

// SQLStore implements the credential store over database/sql.
type SQLStore struct {
	db            *sql.DB
	dialect       Dialect
	identityField string
	now           func() time.Time
}

// Options configures an [SQLStore].
type Options struct {
	// IdentityField is the users column used as login identity
	// ("username" or "email"). Defaults to "username".
	IdentityField string
	Now           func() time.Time
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect, opts Options) (*SQLStore, error) {
	field := opts.IdentityField
	if field == "" {
		field = "username"
	}
	if !identityFields[field] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentityField, field)
	}
	switch dialect {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: db, dialect: dialect, identityField: field, now: now}, nil
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables the store needs if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile("schema/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
