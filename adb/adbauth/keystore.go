package adbauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileKeystore stores the host key pair as a JWK pair in a directory,
// adbkey.json for the private key and adbkey.pub.json for the public one.
type FileKeystore struct {
	// Dir is the directory to store keys in. It is created on demand.
	Dir string
}

var _ Keystore = (*FileKeystore)(nil)

func (s *FileKeystore) privPath() string { return filepath.Join(s.Dir, "adbkey.json") }
func (s *FileKeystore) pubPath() string  { return filepath.Join(s.Dir, "adbkey.pub.json") }

// LoadKey implements [Keystore]. A missing private key file means no key has
// been stored yet; a missing or corrupt public key file is recovered from the
// private one.
func (s *FileKeystore) LoadKey() (private, public JWK, ok bool, err error) {
	buf, err := os.ReadFile(s.privPath())
	if errors.Is(err, fs.ErrNotExist) {
		return JWK{}, JWK{}, false, nil
	}
	if err != nil {
		return JWK{}, JWK{}, false, err
	}
	if err := json.Unmarshal(buf, &private); err != nil {
		return JWK{}, JWK{}, false, fmt.Errorf("parse %s: %w", s.privPath(), err)
	}
	if buf, err := os.ReadFile(s.pubPath()); err == nil {
		if err := json.Unmarshal(buf, &public); err == nil {
			return private, public, true, nil
		}
	}
	public = JWK{Kty: private.Kty, N: private.N, E: private.E}
	return private, public, true, nil
}

// StoreKey implements [Keystore]. The private key file is written with mode
// 0600.
func (s *FileKeystore) StoreKey(private, public JWK) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return err
	}
	privBuf, err := json.Marshal(private)
	if err != nil {
		return err
	}
	pubBuf, err := json.Marshal(public)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.privPath(), privBuf, 0o600); err != nil {
		return err
	}
	return os.WriteFile(s.pubPath(), pubBuf, 0o644)
}
