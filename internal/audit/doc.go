// Package audit implements async event dispatching for login and session
// events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record carrying a UUID, type, user, identity and IP.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import sessionauth or any sibling internal package.
package audit
