package contentstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"sync"

	"trustmesh/go-backend/internal/securestore"
	"trustmesh/go-backend/pkg/models"
)

// locatorCap bounds the per-identity locator history; pruning evicts
// oldest first. Locators are never mutated once recorded.
const locatorCap = 100

// LocatorIndex maps an owner identity to the content locators recorded
// on successful stores. It doubles as the verified-credential archive:
// locators carrying a CredentialRef describe stored credentials.
type LocatorIndex struct {
	mu       sync.RWMutex
	byOwner  map[string][]models.ContentLocator
	path     string
	secret   string
}

func NewLocatorIndex() *LocatorIndex {
	return &LocatorIndex{byOwner: make(map[string][]models.ContentLocator)}
}

func (s *LocatorIndex) Configure(path, secret string) {
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

func (s *LocatorIndex) Bootstrap() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persist(map[string][]models.ContentLocator{})
		}
		return err
	}

	var state persistedLocatorState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("locator persistence payload is invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOwner = cloneLocators(state.Locators)
	return nil
}

func (s *LocatorIndex) Add(locator models.ContentLocator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneLocators(s.byOwner)
	list := next[locator.OwnerIdentity]
	for _, existing := range list {
		if existing.Address == locator.Address && existing.Fallback == locator.Fallback {
			return nil
		}
	}
	list = append(list, locator)
	if len(list) > locatorCap {
		list = append([]models.ContentLocator(nil), list[len(list)-locatorCap:]...)
	}
	next[locator.OwnerIdentity] = list
	if err := s.persist(next); err != nil {
		return err
	}
	s.byOwner = next
	return nil
}

func (s *LocatorIndex) List(owner string) []models.ContentLocator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ContentLocator(nil), s.byOwner[owner]...)
}

// Credentials lists the owner's archived credential locators.
func (s *LocatorIndex) Credentials(owner string) []models.ContentLocator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ContentLocator, 0)
	for _, locator := range s.byOwner[owner] {
		if locator.CredentialRef != nil {
			out = append(out, locator)
		}
	}
	return out
}

func (s *LocatorIndex) persist(locators map[string][]models.ContentLocator) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	state := persistedLocatorState{Version: 1, Locators: locators}
	return securestore.WriteEncryptedJSON(s.path, s.secret, state)
}

type persistedLocatorState struct {
	Version  int                               `json:"version"`
	Locators map[string][]models.ContentLocator `json:"locators"`
}

func cloneLocators(in map[string][]models.ContentLocator) map[string][]models.ContentLocator {
	out := make(map[string][]models.ContentLocator, len(in))
	for owner, list := range in {
		out[owner] = append([]models.ContentLocator(nil), list...)
	}
	return out
}
