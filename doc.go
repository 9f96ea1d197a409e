// Package sessionauth provides server-side session authentication: session
// lifecycle, password and autologin login, exponential login throttling and
// per-request account checks.
//
// An [Authenticator] is built once with [Builder] and shared by all
// requests. Each request gets its own [UserSession], which resolves the
// session cookie, re-authenticates through the configured
// [strategy.Strategy] and runs the inactive, banned and password-change
// checks.
//
//	auth, err := sessionauth.New().
//		WithCredentialStore(store).
//		WithRedis(redisClient).
//		Build()
//
//	us := auth.NewUserSession(&strategy.Exchange{Request: r, Writer: w})
//	err = us.Login(ctx, sessionauth.LoginData{Identity: id, Password: pw}, sessionauth.LoginOptions{})
//
// # Architecture boundaries
//
// sessionauth is the coordinator. Session storage lives in session,
// transport strategies in strategy, persistence in store, lockout
// arithmetic in internal/limiters and audit delivery in internal/audit.
// None of those packages import sessionauth.
//
// # What this package must NOT do
//
//   - Write HTTP responses beyond cookies and strategy challenges.
//   - Cache user records across requests; account flags are reloaded on
//     every Start.
//   - Let callers write the reserved session keys user_id, anonymous and
//     timeout.
package sessionauth
