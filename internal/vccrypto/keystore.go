package vccrypto

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"trustmesh/go-backend/internal/securestore"
)

// KeyStore holds the controller's own private keys, one per identity id.
// Keys never leave this store; only exported PEM text is persisted, in
// an encrypted snapshot. Identity ids match case-insensitively because
// ledger addresses round-trip through mixed-case checksummed forms.
type KeyStore struct {
	mu     sync.RWMutex
	keys   map[string]string
	path   string
	secret string
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]string)}
}

func (s *KeyStore) Configure(path, secret string) {
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

// Bootstrap loads the persisted snapshot, creating an empty one on first run.
func (s *KeyStore) Bootstrap() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persistLocked(map[string]string{})
		}
		return err
	}

	var state persistedKeyState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("key store persistence payload is invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]string, len(state.Keys))
	for id, pemText := range state.Keys {
		s.keys[id] = pemText
	}
	return nil
}

// Put stores the private key for an identity, replacing any previous key.
// Replacing a key invalidates packages wrapped under the old public half.
func (s *KeyStore) Put(identityID string, priv *rsa.PrivateKey) error {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return errors.New("identity id is required")
	}
	pemText, err := ExportPrivateKey(priv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.keys)+1)
	for id, v := range s.keys {
		next[id] = v
	}
	next[identityID] = pemText
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.keys = next
	return nil
}

// Lookup returns the caller's private key for an identity id, matching
// case-insensitively. Missing keys report ErrKeyNotFound.
func (s *KeyStore) Lookup(identityID string) (*rsa.PrivateKey, error) {
	s.mu.RLock()
	pemText, ok := s.keys[identityID]
	if !ok {
		lower := strings.ToLower(identityID)
		for id, v := range s.keys {
			if strings.ToLower(id) == lower {
				pemText, ok = v, true
				break
			}
		}
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, identityID)
	}
	return ImportPrivateKey(pemText)
}

// Identities lists the identity ids with a stored private key.
func (s *KeyStore) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for id := range s.keys {
		out = append(out, id)
	}
	return out
}

func (s *KeyStore) persistLocked(keys map[string]string) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	state := persistedKeyState{Version: 1, Keys: keys}
	return securestore.WriteEncryptedJSON(s.path, s.secret, state)
}

type persistedKeyState struct {
	Version int               `json:"version"`
	Keys    map[string]string `json:"keys"`
}
