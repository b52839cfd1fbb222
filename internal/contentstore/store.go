package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trustmesh/go-backend/internal/platform/ratelimiter"
	"trustmesh/go-backend/pkg/models"
)

var ErrDeliveryFailed = errors.New("delivery failed on both network and fallback paths")

type Config struct {
	StoreTimeout    time.Duration
	RetrieveTimeout time.Duration
	BackoffBase     time.Duration
	StoreAttempts   int
	PublishRate     float64
	PublishBurst    int
}

func DefaultConfig() Config {
	return Config{
		StoreTimeout:    10 * time.Second,
		RetrieveTimeout: 5 * time.Second,
		BackoffBase:     1 * time.Second,
		StoreAttempts:   3,
		PublishRate:     5,
		PublishBurst:    20,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = def.RetrieveTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = def.StoreAttempts
	}
	return cfg
}

// Item is one retrieved blob together with its locator.
type Item struct {
	Locator models.ContentLocator
	Data    []byte
}

// Service stores and retrieves opaque blobs by content address, with
// retry/backoff on the network path and a degraded local path that
// never loses a message.
type Service struct {
	net      Network
	fallback *FallbackStore
	locators *LocatorIndex
	limiter  *ratelimiter.OwnerLimiter
	logger   *slog.Logger
	cfg      Config

	// sleep is injected so retry/backoff tests do not wait wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	lastSync time.Time
}

func New(net Network, fallback *FallbackStore, locators *LocatorIndex, cfg Config, logger *slog.Logger) *Service {
	cfg = normalizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		net:      net,
		fallback: fallback,
		locators: locators,
		limiter:  ratelimiter.New(cfg.PublishRate, cfg.PublishBurst, 10*time.Minute),
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// Store publishes data to the content network under its deterministic
// address, tagged for the recipient identity. After the retry budget is
// exhausted it degrades to the local fallback store; only failure of
// both paths reports ErrDeliveryFailed.
func (s *Service) Store(ctx context.Context, owner string, data []byte, ref *models.VCReference) (models.ContentLocator, error) {
	address := Address(data)
	env := Envelope{
		Address:   address,
		Recipient: owner,
		Payload:   data,
		StoredAt:  time.Now().UTC(),
	}

	var netErr error
	if !s.limiter.Allow(owner, time.Now()) {
		netErr = errors.New("publish rate exceeded for owner")
		s.logger.Warn("content publish rate limited", "owner", owner)
	} else {
		netErr = s.publishWithRetry(ctx, env)
	}
	if netErr == nil {
		locator := models.ContentLocator{
			Address:       address,
			OwnerIdentity: owner,
			CreatedAt:     env.StoredAt,
			CredentialRef: ref,
		}
		if err := s.locators.Add(locator); err != nil {
			s.logger.Warn("locator index write failed", "address", address, "reason", err.Error())
		}
		return locator, nil
	}

	entry, fbErr := s.fallback.Put(owner, address, data)
	if fbErr != nil {
		return models.ContentLocator{}, fmt.Errorf("%w: network: %v; fallback: %v", ErrDeliveryFailed, netErr, fbErr)
	}
	metricFallbackWrites.Inc()
	s.logger.Warn("content stored via local fallback", "owner", owner, "address", address, "reason", netErr.Error())

	locator := models.ContentLocator{
		Address:       address,
		OwnerIdentity: owner,
		CreatedAt:     entry.CreatedAt,
		Fallback:      true,
		CredentialRef: ref,
	}
	if err := s.locators.Add(locator); err != nil {
		s.logger.Warn("locator index write failed", "address", address, "reason", err.Error())
	}
	return locator, nil
}

func (s *Service) publishWithRetry(ctx context.Context, env Envelope) error {
	backoff := s.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= s.cfg.StoreAttempts; attempt++ {
		metricStoreAttempts.Inc()
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := s.net.Publish(opCtx, env)
		cancel()
		if err == nil {
			return nil
		}
		metricStoreFailures.Inc()
		lastErr = err
		s.logger.Warn("content publish attempt failed", "address", env.Address, "attempt", attempt, "reason", err.Error())

		if attempt == s.cfg.StoreAttempts {
			break
		}
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return lastErr
}

// Retrieve fetches one blob by address: a single network attempt under
// the retrieve timeout, then the owner's local fallback. Retrieval is
// read-heavy and callers poll, so there is no retry loop here.
func (s *Service) Retrieve(ctx context.Context, owner, address string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
	data, err := s.net.Fetch(opCtx, address)
	cancel()
	if err == nil {
		return data, nil
	}
	metricRetrieveFailures.Inc()

	if data, ok := s.fallback.Get(owner, address); ok {
		return data, nil
	}
	if errors.Is(err, ErrContentNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrContentNotFound, address)
}

// RetrieveAll collects everything stored for the owner scope: locator
// addresses resolved over the network plus locally fallback-stored
// content, merged newest first. The two paths are not exclusive, so
// results are deduplicated by address.
func (s *Service) RetrieveAll(ctx context.Context, owner string) []Item {
	seen := make(map[string]struct{})
	items := make([]Item, 0)

	for _, locator := range s.locators.List(owner) {
		if _, ok := seen[locator.Address]; ok {
			continue
		}
		var data []byte
		if locator.Fallback {
			fb, ok := s.fallback.Get(owner, locator.Address)
			if !ok {
				continue
			}
			data = fb
		} else {
			opCtx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
			fetched, err := s.net.Fetch(opCtx, locator.Address)
			cancel()
			if err != nil {
				metricRetrieveFailures.Inc()
				s.logger.Warn("content retrieve failed", "address", locator.Address, "reason", err.Error())
				continue
			}
			data = fetched
		}
		seen[locator.Address] = struct{}{}
		items = append(items, Item{Locator: locator, Data: data})
	}

	for _, entry := range s.fallback.List(owner) {
		if _, ok := seen[entry.Address]; ok {
			continue
		}
		seen[entry.Address] = struct{}{}
		items = append(items, Item{
			Locator: models.ContentLocator{
				Address:       entry.Address,
				OwnerIdentity: entry.Owner,
				CreatedAt:     entry.CreatedAt,
				Fallback:      true,
			},
			Data: entry.Data,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Locator.CreatedAt.After(items[j].Locator.CreatedAt)
	})
	return items
}

// FetchInbox discovers deliveries addressed to the recipient since the
// given time: network store queries for the cross-party path, merged
// with everything RetrieveAll finds locally.
func (s *Service) FetchInbox(ctx context.Context, recipient string, since time.Time) []Item {
	metricInboxSyncs.Inc()
	items := s.RetrieveAll(ctx, recipient)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item.Locator.Address] = struct{}{}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.RetrieveTimeout)
	envelopes, err := s.net.FetchSince(opCtx, recipient, since, 100)
	cancel()
	if err != nil {
		s.logger.Warn("inbox store query failed", "recipient", recipient, "reason", err.Error())
	}
	for _, env := range envelopes {
		if _, ok := seen[env.Address]; ok {
			continue
		}
		seen[env.Address] = struct{}{}
		items = append(items, Item{
			Locator: models.ContentLocator{
				Address:       env.Address,
				OwnerIdentity: recipient,
				CreatedAt:     env.StoredAt,
			},
			Data: env.Payload,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Locator.CreatedAt.After(items[j].Locator.CreatedAt)
	})

	s.mu.Lock()
	s.lastSync = time.Now().UTC()
	s.mu.Unlock()
	return items
}

// ConnectionStatus reports network participation; higher layers poll it
// before spending a timeout cycle on the network path.
func (s *Service) ConnectionStatus() models.NetworkStatus {
	peers := s.net.PeerCount()
	s.mu.RLock()
	lastSync := s.lastSync
	s.mu.RUnlock()
	return models.NetworkStatus{
		Connected: peers > 0,
		PeerCount: peers,
		LastSync:  lastSync,
	}
}

// Credentials lists the owner's archived credential locators.
func (s *Service) Credentials(owner string) []models.ContentLocator {
	return s.locators.Credentials(owner)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSleepForTest replaces the backoff sleeper.
func (s *Service) SetSleepForTest(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}
