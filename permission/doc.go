// Package permission implements role based permission checks over
// fixed-width bitmasks.
//
// A [Registry] assigns each permission name a bit, a [RoleManager] stores
// the mask each role grants, and an [Oracle] combines the masks of a
// user's roles, as listed by a [RoleSource], to answer HasPermissions and
// HasRoles.
//
// # Mask sizes
//
// Supported widths: 64, 128, 256, and 512 bits. Bit positions are assigned
// in registration order and are stable for the lifetime of the process.
// With a reserved root bit, the highest bit grants every permission; role
// definitions name it "*".
//
// # What this package must NOT do
//
//   - Import sessionauth or store. Role assignments arrive through
//     RoleSource.
//   - Resize masks after registry construction.
package permission
