package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollerConfig tunes the background sync loops.
type PollerConfig struct {
	MailboxInterval time.Duration `yaml:"mailboxInterval"`
	StatusInterval  time.Duration `yaml:"statusInterval"`
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MailboxInterval: 10 * time.Second,
		StatusInterval:  30 * time.Second,
	}
}

func normalizePollerConfig(cfg PollerConfig) PollerConfig {
	def := DefaultPollerConfig()
	if cfg.MailboxInterval <= 0 {
		cfg.MailboxInterval = def.MailboxInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	return cfg
}

// Poller drives the exchange in the background: it syncs every local
// identity's mailbox on one cadence and broadcasts connectivity on a
// slower one. Sync errors are logged and the loop keeps going.
type Poller struct {
	svc    *Service
	cfg    PollerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(svc *Service, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{svc: svc, cfg: normalizePollerConfig(cfg), logger: logger}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(2)
	go p.runMailboxLoop(runCtx)
	go p.runStatusLoop(runCtx)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

func (p *Poller) runMailboxLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MailboxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.syncAll(ctx)
		}
	}
}

// syncAll skips the network round when no peer is reachable; the
// degraded local path is still served by explicit reads.
func (p *Poller) syncAll(ctx context.Context) {
	if !p.svc.ConnectionStatus().Connected {
		p.logger.Debug("mailbox sync skipped while disconnected")
		return
	}
	for _, account := range p.svc.keys.Identities() {
		fresh, err := p.svc.SyncMailbox(ctx, account)
		if err != nil {
			p.logger.Warn("mailbox sync failed", "account", account, "reason", err.Error())
			continue
		}
		if len(fresh) > 0 {
			p.logger.Info("mailbox sync delivered", "account", account, "count", len(fresh))
		}
	}
}

func (p *Poller) runStatusLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	last := p.svc.ConnectionStatus()
	p.svc.publishStatus(last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := p.svc.ConnectionStatus()
			if status.Connected != last.Connected || status.PeerCount != last.PeerCount {
				p.logger.Info("network status changed", "connected", status.Connected, "peers", status.PeerCount)
			}
			last = status
			p.svc.publishStatus(status)
		}
	}
}
