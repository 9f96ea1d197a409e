package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// attemptFilter builds the WHERE clause over the enabled dimensions.
// either joins them with OR, otherwise with AND.
func attemptFilter(identity, ip string, byIdentity, byIP, either bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if byIdentity {
		clauses = append(clauses, "identity = ?")
		args = append(args, identity)
	}
	if byIP {
		clauses = append(clauses, "ip = ?")
		args = append(args, ipArg(ip))
	}
	switch len(clauses) {
	case 0:
		return "", nil
	case 1:
		return clauses[0], args
	}
	op := " AND "
	if either {
		op = " OR "
	}
	return "(" + clauses[0] + op + clauses[1] + ")", args
}

// LoginAttempts returns the latest attempt time and the attempt count for
// rows matching identity OR ip. A zero count means no record.
func (s *SQLStore) LoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP bool) (time.Time, int, error) {
	where, args := attemptFilter(identity, ip, byIdentity, byIP, true)
	if where == "" {
		return time.Time{}, 0, nil
	}
	var (
		last  sql.NullInt64
		count int
	)
	err := s.queryRow(ctx,
		`SELECT MAX(attempted_at), COUNT(*) FROM login_attempts WHERE `+where, args...,
	).Scan(&last, &count)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fromMillis(last), count, nil
}

// IncrementLoginAttempt inserts one attempt row.
func (s *SQLStore) IncrementLoginAttempt(ctx context.Context, identity, ip string, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO login_attempts (identity, ip, attempted_at) VALUES (?, ?, ?)`,
		identity, ipArg(ip), millis(at))
	return err
}

// ClearLoginAttempts deletes rows matching all enabled dimensions, or any of
// them when eitherOr is set. It reports whether anything was deleted.
func (s *SQLStore) ClearLoginAttempts(ctx context.Context, identity, ip string, byIdentity, byIP, eitherOr bool) (bool, error) {
	where, args := attemptFilter(identity, ip, byIdentity, byIP, eitherOr)
	if where == "" {
		return false, nil
	}
	res, err := s.exec(ctx, `DELETE FROM login_attempts WHERE `+where, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
