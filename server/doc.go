// Package server implements the OAuth 2.1 authorization server core: the
// authorization code grant with mandatory PKCE, refresh token rotation with
// family-wide reuse detection, idempotent revocation, and access tokens
// minted as HS256 JWTs signed with per-client keys derived from a single
// master key.
//
// The package is transport-agnostic. HTTP handling lives in the root authd
// package; persistence is behind the storage.Store interface; user identity
// is resolved through the identity.Resolver collaborator.
//
// Security properties enforced here:
//   - authorization codes are single-use; concurrent exchange of the same
//     code has exactly one winner, and replay revokes every token minted for
//     the user+client pair
//   - refresh tokens rotate on every use; replay of a rotated token revokes
//     the whole token family
//   - grant-stage failures collapse to one uniform invalid_grant error so
//     outcomes are indistinguishable to an attacker
//   - transient backend failures are retried with exponential backoff and
//     surface as server_error, never as a grant failure
package server
