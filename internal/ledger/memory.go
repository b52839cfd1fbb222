package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryRegistry is an in-process Registry used by tests and by the
// local transport profile where no chain endpoint is configured.
type MemoryRegistry struct {
	mu         sync.RWMutex
	docs       map[string]DIDDocument
	acceptedBy map[string][]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		docs:       make(map[string]DIDDocument),
		acceptedBy: make(map[string][]string),
	}
}

func (m *MemoryRegistry) RegisterDID(doc DIDDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		return
	}
	doc.Active = true
	m.docs[strings.ToLower(doc.ID)] = doc
}

func (m *MemoryRegistry) SetTrustedIssuer(id string, trusted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[strings.ToLower(id)]
	if !ok {
		return
	}
	doc.TrustedIssuer = trusted
	m.docs[strings.ToLower(id)] = doc
}

func (m *MemoryRegistry) GetDIDDocument(_ context.Context, id string) (DIDDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[strings.ToLower(id)]
	if !ok {
		return DIDDocument{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

func (m *MemoryRegistry) GetAllDIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc.ID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRegistry) GetAcceptedByList(_ context.Context, issuerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[strings.ToLower(issuerID)]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, issuerID)
	}
	return append([]string(nil), m.acceptedBy[strings.ToLower(issuerID)]...), nil
}

func (m *MemoryRegistry) IsTrustedIssuer(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[strings.ToLower(id)]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.TrustedIssuer, nil
}

// RecordCredentialAcceptance records that toID accepted a credential
// issued by fromID.
func (m *MemoryRegistry) RecordCredentialAcceptance(_ context.Context, fromID, toID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issuer := strings.ToLower(fromID)
	if _, ok := m.docs[issuer]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fromID)
	}
	if _, ok := m.docs[strings.ToLower(toID)]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, toID)
	}
	for _, existing := range m.acceptedBy[issuer] {
		if strings.EqualFold(existing, toID) {
			return nil
		}
	}
	m.acceptedBy[issuer] = append(m.acceptedBy[issuer], toID)
	return nil
}

func (m *MemoryRegistry) RecordCredentialOfferAcceptance(ctx context.Context, fromID, toID, _ string) error {
	return m.RecordCredentialAcceptance(ctx, fromID, toID)
}
