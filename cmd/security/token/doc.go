// Package token provides opaque capability tokens and their storage hashes.
//
// Tokens are random, base64url encoded and carry no embedded semantics.
// Only the HMAC-SHA256 digest of a token is ever persisted; the HMAC key for
// each purpose (share links, ...) is derived from one root secret with HKDF so
// a digest computed for one purpose never verifies for another.
//
// Policy:
//   - Root secrets MUST be at least MinKeyBytes long.
//   - Digests are stable 64-char lowercase hex suitable for unique indexes.
package token
