// Package storage provides interfaces and types for OAuth client, code, and token persistence.
//
// The storage package defines the core storage interfaces used throughout the authd library:
//   - ClientStore: Manages registered OAuth clients
//   - CodeStore: Manages single-use authorization codes
//   - TokenStore: Manages access and refresh tokens, including rotation families
//
// Single-use semantics (authorization codes, refresh token rotation) are expressed as
// atomic consume operations so that concurrent presentations of the same credential
// produce exactly one winner regardless of backend.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/mock: Mock storage for unit testing
//   - storage/postgres: PostgreSQL-backed storage for durable deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
