// Package secrets implements the secrets resolver of spec §4.4: a
// process-wide store of private key material indexed by DID URL
// (including fragment), offered as a Simple (synchronous, in-process map)
// and a Threaded (owned goroutine + MPSC channel) variant with identical
// semantics.
package secrets

import (
	"context"

	"github.com/affinidi-community/tdk-core/internal/crypto"
)

// Secret is private key material bound to a DID URL, per spec §3. Private
// bytes are zeroed by Destroy. Resolvers store and return a Secret without
// copying PrivateKey, so every holder of that Secret shares the same bytes.
type Secret struct {
	ID         string
	Type       string
	KeyType    crypto.KeyType
	PrivateKey []byte
	PublicKey  []byte
}

// Destroy zeroes s's private key bytes. Callers must not retain s.PrivateKey
// slices past this call.
func (s *Secret) Destroy() {
	for i := range s.PrivateKey {
		s.PrivateKey[i] = 0
	}
}

// Resolver is the common contract of the Simple and Threaded variants.
type Resolver interface {
	Insert(ctx context.Context, s Secret) error
	InsertMany(ctx context.Context, secrets []Secret) error
	GetSecret(ctx context.Context, id string) (*Secret, bool)
	FindSecrets(ctx context.Context, ids []string) []Secret
	RemoveSecret(ctx context.Context, id string) bool
	Len(ctx context.Context) int
}
