// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// All single-use semantics (authorization code consumption, refresh token
// rotation) are enforced with Lua scripts, so concurrent requests against
// different server instances still produce exactly one winner. Consumed and
// revoked records are retained, with a configurable retention window past
// their logical expiry, so that replayed credentials can be recognized and
// the resulting cascading revocations carried out.
//
// Key schema (with the default "authd:" prefix):
//
//	authd:client:{clientID}              JSON client registration (no TTL)
//	authd:clients                        SET of registered client IDs
//	authd:code:{code}                    JSON authorization code (TTL: lifetime + retention)
//	authd:at:{tokenID}                   JSON access token record (TTL: lifetime + retention)
//	authd:rt:{tokenID}                   JSON refresh token record (TTL: lifetime + retention)
//	authd:family:{familyID}              SET of refresh token IDs in the family
//	authd:family:revoked:{familyID}      marker planted when a family is revoked
//	authd:userclient:{userID}:{clientID} SET of "at:"/"rt:" prefixed token IDs
//
// Expiry is enforced twice: Valkey TTLs bound storage growth, and the Lua
// scripts compare expires_at against the caller-supplied clock so a record
// inside its retention window is still rejected as expired.
package valkey
