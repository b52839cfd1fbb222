package contentstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	TransportMemory = "memory"
	TransportGoWaku = "go-waku"
)

var (
	ErrNetworkUnavailable = errors.New("content network unavailable")
	ErrContentNotFound    = errors.New("content not found")
)

// Envelope is one published blob together with its routing tag. The
// recipient tag lets offline parties discover deliveries through store
// queries without a shared locator index.
type Envelope struct {
	Address   string    `json:"address"`
	Recipient string    `json:"recipient"`
	Payload   []byte    `json:"payload"`
	StoredAt  time.Time `json:"stored_at"`
}

// Network is the content-addressed P2P substrate. A publish may appear
// to fail and still land later; callers must treat addresses as
// idempotent and tolerate late results they already gave up on.
type Network interface {
	Start(ctx context.Context) error
	Stop()
	Publish(ctx context.Context, env Envelope) error
	Fetch(ctx context.Context, address string) ([]byte, error)
	FetchSince(ctx context.Context, recipient string, since time.Time, limit int) ([]Envelope, error)
	PeerCount() int
}

// MemoryNetwork is the in-process transport. Parties sharing one
// instance can exchange content; it also backs failure-injection tests.
type MemoryNetwork struct {
	mu           sync.Mutex
	started      bool
	content      map[string][]byte
	byRecipient  map[string][]Envelope
	failPublish  int
	offline      bool
	publishDelay time.Duration
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		content:     make(map[string][]byte),
		byRecipient: make(map[string][]Envelope),
	}
}

func (n *MemoryNetwork) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	return nil
}

func (n *MemoryNetwork) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
}

func (n *MemoryNetwork) Publish(ctx context.Context, env Envelope) error {
	n.mu.Lock()
	delay := n.publishDelay
	n.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started || n.offline {
		return ErrNetworkUnavailable
	}
	if n.failPublish > 0 {
		n.failPublish--
		return ErrNetworkUnavailable
	}
	if env.StoredAt.IsZero() {
		env.StoredAt = time.Now().UTC()
	}
	env.Payload = append([]byte(nil), env.Payload...)
	n.content[env.Address] = env.Payload
	if env.Recipient != "" {
		n.byRecipient[env.Recipient] = append(n.byRecipient[env.Recipient], env)
	}
	return nil
}

func (n *MemoryNetwork) Fetch(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started || n.offline {
		return nil, ErrNetworkUnavailable
	}
	data, ok := n.content[address]
	if !ok {
		return nil, ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

func (n *MemoryNetwork) FetchSince(ctx context.Context, recipient string, since time.Time, limit int) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started || n.offline {
		return nil, ErrNetworkUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	out := make([]Envelope, 0)
	for _, env := range n.byRecipient[recipient] {
		if env.StoredAt.Before(since) {
			continue
		}
		env.Payload = append([]byte(nil), env.Payload...)
		out = append(out, env)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (n *MemoryNetwork) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started || n.offline {
		return 0
	}
	return 1
}

// FailNextPublishes makes the next count publish calls fail, simulating
// an unreachable network.
func (n *MemoryNetwork) FailNextPublishes(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failPublish = count
}

// SetOffline toggles full unavailability for both publish and fetch.
func (n *MemoryNetwork) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}
