// Package limiters implements login-attempt throttling with exponential
// lockout.
//
// [LoginAttempts] reads the latest failure and attempt count for an
// identity and/or client address and refuses logins until
// round(1.8^(n-1)) seconds have passed since that failure, capped at the
// configured maximum. The counting itself is delegated to an
// [AttemptStore].
//
// # What this package must NOT do
//
//   - Import sessionauth or any sibling internal package.
//   - Decide what happens after a lockout. The caller logs the user out and
//     reports the retry delay.
package limiters
