// Package password hashes and verifies user passwords.
//
// # Schemes
//
// New hashes are produced by the configured primary [Hasher]: bcrypt by
// default, or Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// A [Verifier] accepts hashes of either scheme, so stores can migrate
// gradually. [Verifier.NeedsUpgrade] reports hashes that were produced by the
// other scheme or with weaker parameters.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Log plaintext passwords.
package password
