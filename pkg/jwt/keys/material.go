// Package keys resolves the verification key for a token from an
// (algorithm, key id) pair.
//
// A Store keeps an immutable snapshot of all known keys behind an atomic
// pointer. Lookups never lock. A miss triggers one shared fetch from the
// configured Source, after which a new snapshot replaces the old one in a
// single pointer swap, so readers see either the old or the new key set.
package keys

import (
	"context"
	"errors"
	"strings"
)

// KeyType tells symmetric (HMAC) keys apart from asymmetric public keys.
type KeyType int

const (
	Symmetric KeyType = iota + 1
	Asymmetric
)

func (t KeyType) String() string {
	switch t {
	case Symmetric:
		return "symmetric"
	case Asymmetric:
		return "asymmetric"
	default:
		return "unknown"
	}
}

// Material is one verification key.
//
// Key holds []byte for symmetric keys, and *rsa.PublicKey, *ecdsa.PublicKey
// or ed25519.PublicKey for asymmetric ones.
type Material struct {
	Algorithm string
	KeyID     string
	Type      KeyType
	Key       any
}

// Provider resolves the key a token claims to be signed with. alg and kid come
// from the token header and are untrusted.
type Provider interface {
	Resolve(ctx context.Context, alg, kid string) (Material, error)
}

// Source supplies a complete key set. Implementations may block on I/O and
// must honor ctx.
type Source interface {
	Fetch(ctx context.Context) ([]Material, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Material, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]Material, error) { return f(ctx) }

// Invalidator is implemented by sources that cache the key set and can drop
// the cached copy so that the next Fetch reads the origin.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

var (
	ErrKeyNotFound = errors.New("key not found")
	// ErrFetchFailed marks a key set that could not be read at all, as
	// opposed to a key set that lacks the requested key.
	ErrFetchFailed = errors.New("key set unavailable")
)

// SymmetricKey builds the material for an HMAC secret.
func SymmetricKey(alg, kid string, secret []byte) Material {
	b := make([]byte, len(secret))
	copy(b, secret)
	return Material{Algorithm: alg, KeyID: kid, Type: Symmetric, Key: b}
}

// IsSymmetricAlgorithm reports whether alg is an HMAC algorithm.
func IsSymmetricAlgorithm(alg string) bool {
	return strings.HasPrefix(alg, "HS")
}
