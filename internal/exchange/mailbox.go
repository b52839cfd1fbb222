package exchange

import (
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"trustmesh/go-backend/internal/securestore"
	"trustmesh/go-backend/pkg/models"
)

var ErrNotificationNotFound = errors.New("notification not found in mailbox")

// MailboxStore holds each account's notification records. Every party
// owns an independent copy of an exchange; the store never shares
// records across accounts.
type MailboxStore struct {
	mu      sync.RWMutex
	byAccnt map[string][]models.Notification
	path    string
	secret  string
}

func NewMailboxStore() *MailboxStore {
	return &MailboxStore{byAccnt: make(map[string][]models.Notification)}
}

func (s *MailboxStore) Configure(path, secret string) {
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

func (s *MailboxStore) Bootstrap() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persist(map[string][]models.Notification{})
		}
		return err
	}

	var state persistedMailboxState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return err
	}
	if state.Version != 1 {
		return errors.New("mailbox persistence payload is invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAccnt = cloneMailboxes(state.Mailboxes)
	return nil
}

func accountKey(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// List returns the account's notifications, newest first.
func (s *MailboxStore) List(account string) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byAccnt[accountKey(account)]
	out := make([]models.Notification, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (s *MailboxStore) Get(account, id string) (models.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.byAccnt[accountKey(account)] {
		if n.ID == id {
			return n, true
		}
	}
	return models.Notification{}, false
}

// Upsert inserts the notification or replaces the record with the same
// ID, which makes re-delivered envelopes idempotent.
func (s *MailboxStore) Upsert(account string, n models.Notification) error {
	key := accountKey(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMailboxes(s.byAccnt)
	list := next[key]
	replaced := false
	for i := range list {
		if list[i].ID == n.ID {
			list[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, n)
	}
	next[key] = list
	if err := s.persist(next); err != nil {
		return err
	}
	s.byAccnt = next
	return nil
}

// Update applies mutate to the identified record under the lock; the
// mutation is discarded if it or the persist step fails.
func (s *MailboxStore) Update(account, id string, mutate func(*models.Notification) error) (models.Notification, error) {
	key := accountKey(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMailboxes(s.byAccnt)
	for i := range next[key] {
		if next[key][i].ID != id {
			continue
		}
		if err := mutate(&next[key][i]); err != nil {
			return models.Notification{}, err
		}
		if err := s.persist(next); err != nil {
			return models.Notification{}, err
		}
		s.byAccnt = next
		return next[key][i], nil
	}
	return models.Notification{}, ErrNotificationNotFound
}

// UpdateAll applies mutate to every record in the account's mailbox and
// reports how many records changed.
func (s *MailboxStore) UpdateAll(account string, mutate func(*models.Notification) bool) (int, error) {
	key := accountKey(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMailboxes(s.byAccnt)
	changed := 0
	for i := range next[key] {
		if mutate(&next[key][i]) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.persist(next); err != nil {
		return 0, err
	}
	s.byAccnt = next
	return changed, nil
}

func (s *MailboxStore) Delete(account, id string) error {
	key := accountKey(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMailboxes(s.byAccnt)
	list := next[key]
	for i := range list {
		if list[i].ID != id {
			continue
		}
		next[key] = append(list[:i:i], list[i+1:]...)
		if err := s.persist(next); err != nil {
			return err
		}
		s.byAccnt = next
		return nil
	}
	return ErrNotificationNotFound
}

func (s *MailboxStore) Clear(account string) error {
	key := accountKey(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneMailboxes(s.byAccnt)
	if len(next[key]) == 0 {
		return nil
	}
	delete(next, key)
	if err := s.persist(next); err != nil {
		return err
	}
	s.byAccnt = next
	return nil
}

func (s *MailboxStore) persist(mailboxes map[string][]models.Notification) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	state := persistedMailboxState{Version: 1, Mailboxes: mailboxes}
	return securestore.WriteEncryptedJSON(s.path, s.secret, state)
}

type persistedMailboxState struct {
	Version   int                              `json:"version"`
	Mailboxes map[string][]models.Notification `json:"mailboxes"`
}

func cloneMailboxes(in map[string][]models.Notification) map[string][]models.Notification {
	out := make(map[string][]models.Notification, len(in))
	for account, list := range in {
		cloned := make([]models.Notification, len(list))
		copy(cloned, list)
		out[account] = cloned
	}
	return out
}
