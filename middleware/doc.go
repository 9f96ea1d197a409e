// Package middleware adapts sessionauth to net/http handlers.
//
// # Handlers
//
//   - [Session] starts a UserSession for every request and stores it in the
//     request context.
//   - [RequireAuthorized] rejects requests whose user does not match a
//     filter: 401 with the strategy challenge when nobody is logged in,
//     403 otherwise.
//
// # What this package must NOT do
//
//   - Make authentication decisions itself; UserSession owns them.
//   - Touch stores directly.
package middleware
