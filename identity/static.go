package identity

import (
	"context"
	"fmt"
	"sync"
)

// StaticResolver is an in-memory Resolver backed by a fixed user set.
// Safe for concurrent use.
type StaticResolver struct {
	mu    sync.RWMutex
	users map[string]*User
}

// Compile-time interface check
var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates a resolver pre-populated with the given users.
func NewStaticResolver(users ...*User) *StaticResolver {
	r := &StaticResolver{
		users: make(map[string]*User, len(users)),
	}
	for _, user := range users {
		if user != nil && user.ID != "" {
			userCopy := *user
			r.users[user.ID] = &userCopy
		}
	}
	return r
}

// AddUser registers or replaces a user.
func (r *StaticResolver) AddUser(user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user with non-empty ID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	userCopy := *user
	r.users[user.ID] = &userCopy
	return nil
}

// RemoveUser deletes a user. Removing an unknown user is a no-op.
func (r *StaticResolver) RemoveUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// Resolve looks up a user by ID.
func (r *StaticResolver) Resolve(ctx context.Context, userID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}

	userCopy := *user
	return &userCopy, nil
}
