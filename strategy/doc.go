// Package strategy extracts authentication evidence from HTTP requests.
//
// A [Strategy] knows how to silently re-authenticate a caller (autologin),
// how to persist autologin evidence after a manual login, how to normalize
// manual login input and how to clean up on logout. Concrete strategies:
//
//   - [Cookie]: rotating autologin code in a cookie, backed by a server-side
//     code table.
//   - [Basic]: RFC 7617 Authorization header.
//   - [Digest]: RFC 7616 Authorization header with HMAC-signed nonces.
//   - [Hawk]: Hawk MAC header authentication with a nonce replay cache.
//   - [Composite]: tries a list of strategies in order.
//
// Strategies never decide whether a user may log in; account checks and
// lockout live in the coordinator.
package strategy
