package adbauth

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
)

// Keystore persists the host key pair across sessions. Implementations treat
// the JWK values opaquely.
type Keystore interface {
	// LoadKey returns the stored key pair, or ok=false if none exists yet.
	LoadKey() (private, public JWK, ok bool, err error)
	// StoreKey saves a key pair.
	StoreKey(private, public JWK) error
}

// HostKey is the persistent RSA-2048 host key pair. The Android public-key
// blob is computed once and cached.
type HostKey struct {
	key *rsa.PrivateKey

	pubOnce sync.Once
	pub     *PublicKey
	pubErr  error
}

// EnsureKey loads the host key from the keystore, generating and storing a
// new RSA-2048/65537 pair on first use.
func EnsureKey(ks Keystore) (*HostKey, error) {
	private, _, ok, err := ks.LoadKey()
	if err != nil {
		return nil, fmt.Errorf("load host key: %w", err)
	}
	if ok {
		key, err := DecodeJWK(private)
		if err != nil {
			return nil, fmt.Errorf("decode host key: %w", err)
		}
		return &HostKey{key: key}, nil
	}
	key, err := rsa.GenerateKey(rand.Reader, PublicKeyModulusSize*8)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	priv, pub := EncodeJWKPair(key)
	if err := ks.StoreKey(priv, pub); err != nil {
		return nil, fmt.Errorf("store host key: %w", err)
	}
	return &HostKey{key: key}, nil
}

// NewHostKey wraps an existing RSA key. It is mostly useful for tests.
func NewHostKey(key *rsa.PrivateKey) *HostKey {
	return &HostKey{key: key}
}

// Public returns the Android pubkey form of the host key, computing it on
// first use.
func (h *HostKey) Public() (*PublicKey, error) {
	h.pubOnce.Do(func() {
		h.pub, h.pubErr = NewPublicKey(&h.key.PublicKey)
	})
	return h.pub, h.pubErr
}

// AuthPayload returns the AUTH_RSAPUBLICKEY payload for the host key.
func (h *HostKey) AuthPayload() ([]byte, error) {
	pub, err := h.Public()
	if err != nil {
		return nil, err
	}
	return pub.AppendAuthPayload(nil, KeyName), nil
}

// Sign signs an AUTH token with the host key.
func (h *HostKey) Sign(token []byte) ([]byte, error) {
	return SignToken(h.key, token)
}

// Key returns the underlying RSA key.
func (h *HostKey) Key() *rsa.PrivateKey {
	return h.key
}
