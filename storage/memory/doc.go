// Package memory provides an in-memory implementation of the OAuth storage interfaces.
//
// This package implements the ClientStore, CodeStore, and TokenStore interfaces using
// Go's built-in maps with mutex protection for thread safety. It is suitable for
// development, testing, and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic consume operations for codes and refresh tokens
//   - Retention of consumed/revoked records for replay detection
//   - Automatic cleanup of records past expiry and retention
//   - Configurable cleanup intervals
//
// For production deployments requiring persistence or multi-instance deployments,
// use the storage/postgres or storage/valkey packages instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	server, _ := authd.NewServer(resolver, store, config, logger)
package memory
