// Package internal contains helpers that are private to sessionauth, mainly
// secure random code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: exponential login-attempt lockout
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionauth API.
package internal
