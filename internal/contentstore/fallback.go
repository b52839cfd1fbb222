package contentstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"sync"
	"time"

	"trustmesh/go-backend/internal/securestore"
)

// fallbackCap bounds per-owner local growth; the oldest entries are
// evicted first once an owner crosses it.
const fallbackCap = 50

// FallbackStore keeps content locally when the network path is
// exhausted. It is not shared between devices: a fallback-stored
// delivery reaches the other party only when both mailboxes live in the
// same local store.
type FallbackStore struct {
	mu      sync.RWMutex
	entries map[string][]FallbackEntry
	path    string
	secret  string
}

type FallbackEntry struct {
	Address   string    `json:"address"`
	Owner     string    `json:"owner"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	Fallback  bool      `json:"fallback"`
}

func NewFallbackStore() *FallbackStore {
	return &FallbackStore{entries: make(map[string][]FallbackEntry)}
}

func (s *FallbackStore) Configure(path, secret string) {
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

func (s *FallbackStore) Bootstrap() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persist(map[string][]FallbackEntry{})
		}
		return err
	}

	var state persistedFallbackState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("fallback persistence payload is invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cloneFallbackEntries(state.Entries)
	return nil
}

func (s *FallbackStore) Put(owner, address string, data []byte) (FallbackEntry, error) {
	entry := FallbackEntry{
		Address:   address,
		Owner:     owner,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
		Fallback:  true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneFallbackEntries(s.entries)
	list := append(next[owner], entry)
	if len(list) > fallbackCap {
		list = append([]FallbackEntry(nil), list[len(list)-fallbackCap:]...)
	}
	next[owner] = list
	if err := s.persist(next); err != nil {
		return FallbackEntry{}, err
	}
	s.entries = next
	return entry, nil
}

func (s *FallbackStore) Get(owner, address string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries[owner] {
		if entry.Address == address {
			return append([]byte(nil), entry.Data...), true
		}
	}
	return nil, false
}

// List returns the owner's fallback entries, newest first.
func (s *FallbackStore) List(owner string) []FallbackEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FallbackEntry, len(s.entries[owner]))
	copy(out, s.entries[owner])
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *FallbackStore) persist(entries map[string][]FallbackEntry) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	state := persistedFallbackState{Version: 1, Entries: entries}
	return securestore.WriteEncryptedJSON(s.path, s.secret, state)
}

type persistedFallbackState struct {
	Version int                        `json:"version"`
	Entries map[string][]FallbackEntry `json:"entries"`
}

func cloneFallbackEntries(in map[string][]FallbackEntry) map[string][]FallbackEntry {
	out := make(map[string][]FallbackEntry, len(in))
	for owner, list := range in {
		cloned := make([]FallbackEntry, len(list))
		copy(cloned, list)
		out[owner] = cloned
	}
	return out
}
