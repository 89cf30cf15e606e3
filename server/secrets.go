package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"

	"github.com/giantswarm/authd/storage"
)

// MasterKeyLength is the required length of the server master key in bytes.
const MasterKeyLength = 32

// secretDerivationSalt is the fixed HKDF salt for client key derivation.
// Changing it invalidates every derived client secret at once, so it is
// versioned: bump the suffix only as part of a deliberate key rotation.
const secretDerivationSalt = "authd/client-key/v1"

// KeyDeriver derives per-client secrets and signing keys from a single master
// key using HKDF-SHA256 (RFC 5869). Nothing per-client is persisted: a client
// secret can always be recomputed from the master key and the client ID, and
// rotating the master key invalidates all derived secrets simultaneously.
type KeyDeriver struct {
	master []byte
}

// NewKeyDeriver creates a KeyDeriver from a master key.
// The key must be exactly MasterKeyLength bytes of cryptographically random
// material; anything shorter weakens every derived key.
func NewKeyDeriver(masterKey []byte) (*KeyDeriver, error) {
	if len(masterKey) != MasterKeyLength {
		return nil, fmt.Errorf("master key must be exactly %d bytes (got %d)", MasterKeyLength, len(masterKey))
	}

	// Copy so the caller can zero its buffer without affecting us
	master := make([]byte, MasterKeyLength)
	copy(master, masterKey)

	return &KeyDeriver{master: master}, nil
}

// DeriveClientKey derives the 32-byte signing/secret key for a client.
// The derivation is deterministic: the same master key and client ID always
// produce the same key. This is a total function - it cannot fail for any
// client ID.
func (d *KeyDeriver) DeriveClientKey(clientID string) []byte {
	reader := hkdf.New(sha256.New, d.master, []byte(secretDerivationSalt), []byte(clientID))

	key := make([]byte, 32)
	// HKDF-SHA256 can produce up to 255*32 bytes; reading 32 never fails
	if _, err := io.ReadFull(reader, key); err != nil {
		panic(fmt.Sprintf("hkdf expansion failed: %v", err))
	}
	return key
}

// DeriveClientSecret returns the client secret string for a confidential
// client, as handed to the client operator at provisioning time. It is the
// base64url encoding of the derived client key.
func (d *KeyDeriver) DeriveClientSecret(clientID string) string {
	return base64.RawURLEncoding.EncodeToString(d.DeriveClientKey(clientID))
}

// VerifyClientSecret checks a presented client secret against the client's
// expected credential in constant time.
//
// Two verification paths exist:
//   - SecretHash set: the client was provisioned with an externally chosen
//     secret; verify against the stored bcrypt hash.
//   - SecretHash empty: the secret is derived from the master key; recompute
//     and compare with subtle.ConstantTimeCompare.
//
// Public clients carry no secret and must not call this; the caller decides
// based on Client.IsPublic().
func (d *KeyDeriver) VerifyClientSecret(client *storage.Client, presented string) error {
	if client == nil {
		return fmt.Errorf("client is required")
	}
	if presented == "" {
		return fmt.Errorf("client secret is required")
	}

	if client.SecretHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(presented)); err != nil {
			return fmt.Errorf("invalid client secret")
		}
		return nil
	}

	expected := d.DeriveClientSecret(client.ClientID)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

// HashClientSecret produces a bcrypt hash for a client provisioned with an
// externally chosen secret (the SecretHash override path).
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}
