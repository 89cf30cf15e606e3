// Package identity defines the interface to the user identity collaborator.
// The authorization server never authenticates users itself; it resolves an
// already-authenticated user ID against a Resolver supplied at construction.
package identity

import (
	"context"
	"errors"
)

// Sentinel errors returned by Resolver implementations.
var (
	// ErrNotFound indicates the user ID does not resolve to a known user.
	ErrNotFound = errors.New("identity: user not found")

	// ErrUnavailable indicates a transient resolver failure. Operations that
	// fail with this error are safe to retry.
	ErrUnavailable = errors.New("identity: temporarily unavailable")
)

// User represents a resolved user identity.
type User struct {
	// ID is the unique user identifier
	ID string

	// Username is the user's login name
	Username string

	// Email is the user's email address
	Email string

	// Scopes are the scopes this user may be granted. Empty means no
	// restriction beyond the client's registered scopes.
	Scopes []string
}

// Resolver resolves user IDs to user identities.
// Implementations typically wrap a directory service or user database;
// StaticResolver provides an in-memory implementation for embedding and tests.
type Resolver interface {
	// Resolve looks up a user by ID. Returns ErrNotFound for unknown users
	// and ErrUnavailable for transient backend failures.
	Resolve(ctx context.Context, userID string) (*User, error)
}
