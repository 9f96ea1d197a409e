// Package store is the SQL credential store: users, login attempts,
// autologin codes, roles and external identity links.
//
// The same queries run on SQLite (github.com/ncruces/go-sqlite3) and
// PostgreSQL (github.com/jackc/pgx/v5 through database/sql). Queries are
// written with '?' placeholders and rebound per dialect.
//
// IP addresses are stored as 4 or 16 raw bytes. Timestamps are Unix
// milliseconds.
package store
