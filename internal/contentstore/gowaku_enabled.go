//go:build real_waku

package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"
)

const (
	contentPubsubTopic  = "/waku/2/default-waku/proto"
	pinnedContentTopic  = "/trustmesh/1/pinned-content/proto"
	storeQueryPageLimit = 100
)

// goWakuNetwork backs the content store with a live go-waku node:
// envelopes are relayed as JSON on the pinned-content topic and
// recovered from peers' history stores when this node was offline.
type goWakuNetwork struct {
	mu             sync.RWMutex
	node           *wakuNode.WakuNode
	cfg            GoWakuConfig
	maintainCancel context.CancelFunc
	maintainWG     sync.WaitGroup
}

func NewGoWakuNetwork(cfg GoWakuConfig) Network {
	return &goWakuNetwork{cfg: normalizeGoWakuConfig(cfg)}
}

func (g *goWakuNetwork) Start(ctx context.Context) error {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts := []wakuNode.WakuNodeOption{wakuNode.WithHostAddress(hostAddr)}
	if cfg.EnableRelay {
		opts = append(opts, wakuNode.WithWakuRelay())
	}
	if cfg.EnableStore {
		provider, err := newContentMessageProvider()
		if err != nil {
			return err
		}
		opts = append(opts, wakuNode.WithMessageProvider(provider), wakuNode.WithWakuStore())
	}

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	for _, addr := range cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	g.mu.Lock()
	g.node = node
	g.mu.Unlock()
	g.startPeerMaintenance()
	return nil
}

func (g *goWakuNetwork) Stop() {
	g.stopPeerMaintenance()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.node != nil {
		g.node.Stop()
		g.node = nil
	}
}

func (g *goWakuNetwork) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return 0
	}
	return g.node.PeerCount()
}

func (g *goWakuNetwork) Publish(ctx context.Context, env Envelope) error {
	g.mu.RLock()
	node := g.node
	g.mu.RUnlock()
	if node == nil {
		return ErrNetworkUnavailable
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{
		Payload:      payload,
		ContentTopic: pinnedContentTopic,
		Timestamp:    &ts,
	}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(contentPubsubTopic))
	return err
}

func (g *goWakuNetwork) Fetch(ctx context.Context, address string) ([]byte, error) {
	envelopes, err := g.queryHistory(ctx, 0, storeQueryPageLimit, func(env Envelope) bool {
		return env.Address == address
	})
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, ErrContentNotFound
	}
	return envelopes[0].Payload, nil
}

func (g *goWakuNetwork) FetchSince(ctx context.Context, recipient string, since time.Time, limit int) ([]Envelope, error) {
	if recipient == "" {
		return nil, errors.New("recipient is required")
	}
	if limit <= 0 {
		limit = storeQueryPageLimit
	}
	recipient = strings.ToLower(recipient)
	return g.queryHistory(ctx, since.UnixNano(), limit, func(env Envelope) bool {
		return strings.ToLower(env.Recipient) == recipient
	})
}

// queryHistory runs a store query against up to StoreQueryFanout
// bootstrap peers before letting go-waku pick a peer itself, and
// returns the envelopes accepted by keep, deduplicated by address.
func (g *goWakuNetwork) queryHistory(ctx context.Context, startNanos int64, limit int, keep func(Envelope) bool) ([]Envelope, error) {
	g.mu.RLock()
	node := g.node
	cfg := g.cfg
	g.mu.RUnlock()
	if node == nil {
		return nil, ErrNetworkUnavailable
	}

	end := time.Now().UnixNano()
	criteria := legacyStore.Query{
		PubsubTopic:   contentPubsubTopic,
		ContentTopics: []string{pinnedContentTopic},
		StartTime:     &startNanos,
		EndTime:       &end,
	}
	baseOpts := []legacyStore.HistoryRequestOption{legacyStore.WithPaging(true, uint64(limit))}

	type candidate struct {
		opts []legacyStore.HistoryRequestOption
		peer string
	}
	candidates := make([]candidate, 0, cfg.StoreQueryFanout+1)
	for _, addr := range cfg.BootstrapNodes {
		if len(candidates) >= cfg.StoreQueryFanout {
			break
		}
		addr = strings.TrimSpace(addr)
		peerAddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		opts := append([]legacyStore.HistoryRequestOption{}, baseOpts...)
		candidates = append(candidates, candidate{opts: append(opts, legacyStore.WithPeerAddr(peerAddr)), peer: addr})
	}
	candidates = append(candidates, candidate{opts: baseOpts, peer: "auto"})

	var (
		result  *legacyStore.Result
		err     error
		lastErr error
	)
	for i, c := range candidates {
		result, err = node.LegacyStore().Query(ctx, criteria, c.opts...)
		if err == nil {
			if i > 0 {
				slog.Info("store query recovered via failover", "attempt", i+1)
			}
			break
		}
		slog.Warn("store query attempt failed", "peer_addr", c.peer, "attempt", i+1, "reason", err.Error())
		lastErr = err
	}
	if err != nil {
		return nil, lastErr
	}

	seen := make(map[string]struct{})
	out := make([]Envelope, 0, limit)
	consume := func() {
		for _, wm := range result.Messages {
			if wm == nil {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(wm.Payload, &env); err != nil {
				continue
			}
			if !keep(env) {
				continue
			}
			if _, ok := seen[env.Address]; ok {
				continue
			}
			seen[env.Address] = struct{}{}
			out = append(out, env)
		}
	}
	consume()
	for !result.IsComplete() && len(out) < limit {
		result, err = node.LegacyStore().Next(ctx, result)
		if err != nil {
			return nil, err
		}
		consume()
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *goWakuNetwork) startPeerMaintenance() {
	g.mu.Lock()
	if g.maintainCancel != nil {
		g.maintainCancel()
		g.maintainCancel = nil
	}
	if len(g.cfg.BootstrapNodes) == 0 || g.node == nil {
		g.mu.Unlock()
		return
	}
	maintainCtx, cancel := context.WithCancel(context.Background())
	g.maintainCancel = cancel
	g.maintainWG.Add(1)
	cfg := g.cfg
	g.mu.Unlock()

	go func() {
		defer g.maintainWG.Done()
		ticker := time.NewTicker(cfg.ReconnectInterval)
		defer ticker.Stop()

		backoff := cfg.ReconnectInterval
		nextAttemptAt := time.Now()
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for {
			select {
			case <-maintainCtx.Done():
				return
			case <-ticker.C:
				if time.Now().Before(nextAttemptAt) {
					continue
				}
				if !g.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}
				if g.redialBootstrapPeers(maintainCtx, rnd) || !g.needMorePeers() {
					backoff = cfg.ReconnectInterval
					nextAttemptAt = time.Now()
					continue
				}
				backoff *= 2
				if backoff > cfg.ReconnectBackoff {
					backoff = cfg.ReconnectBackoff
				}
				jitter := time.Duration(rnd.Int63n(int64(backoff / 2)))
				nextAttemptAt = time.Now().Add(backoff + jitter)
			}
		}
	}()
}

func (g *goWakuNetwork) stopPeerMaintenance() {
	g.mu.Lock()
	cancel := g.maintainCancel
	g.maintainCancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		g.maintainWG.Wait()
	}
}

func (g *goWakuNetwork) needMorePeers() bool {
	g.mu.RLock()
	node := g.node
	target := g.cfg.MinPeers
	bootstrapCount := len(g.cfg.BootstrapNodes)
	g.mu.RUnlock()
	if node == nil {
		return false
	}
	if target <= 0 {
		target = 1
	}
	if bootstrapCount > 0 && target > bootstrapCount {
		target = bootstrapCount
	}
	return node.PeerCount() < target
}

func (g *goWakuNetwork) redialBootstrapPeers(ctx context.Context, rnd *rand.Rand) bool {
	g.mu.RLock()
	node := g.node
	peers := append([]string(nil), g.cfg.BootstrapNodes...)
	g.mu.RUnlock()
	if node == nil || len(peers) == 0 {
		return false
	}

	rnd.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	success := false
	for i, addr := range peers {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := node.DialPeer(ctx, addr); err == nil {
			success = true
			slog.Info("peer redial succeeded", "peer_addr", addr, "attempt", i+1)
		} else {
			slog.Warn("peer redial failed", "peer_addr", addr, "attempt", i+1, "reason", err.Error())
		}
	}
	return success
}

func newContentMessageProvider() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.DefaultRegisterer,
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}
