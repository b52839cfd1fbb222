// Package daemon composes the full backend: storage, content network,
// exchange protocol and trust scoring, wired from one Settings value.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"trustmesh/go-backend/internal/bootstrap/netconfig"
	"trustmesh/go-backend/internal/contentstore"
	"trustmesh/go-backend/internal/exchange"
	"trustmesh/go-backend/internal/ledger"
	"trustmesh/go-backend/internal/trust"
	"trustmesh/go-backend/internal/vccrypto"
)

// Daemon owns every long-lived component and their shutdown order.
type Daemon struct {
	settings netconfig.Settings
	logger   *slog.Logger

	network  contentstore.Network
	content  *contentstore.Service
	keystore *vccrypto.KeyStore
	exchange *exchange.Service
	poller   *exchange.Poller
	scorer   *trust.Scorer
}

// New wires the daemon from settings. The storage secret comes from
// TRUSTMESH_STORAGE_SECRET or is derived from a recovery phrase in
// TRUSTMESH_RECOVERY_PHRASE; with neither set, stores stay in memory
// and nothing survives a restart.
func New(settings netconfig.Settings, registry ledger.Registry, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = ledger.NewMemoryRegistry()
	}

	secret, err := storageSecret()
	if err != nil {
		return nil, err
	}
	if secret == "" {
		logger.Warn("no storage secret configured, local state will not persist")
	}
	statePath := func(name string) string {
		if secret == "" {
			return ""
		}
		return filepath.Join(settings.DataDir, name)
	}

	keystore := vccrypto.NewKeyStore()
	keystore.Configure(statePath("keys.bin"), secret)
	if err := keystore.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap keystore: %w", err)
	}

	fallback := contentstore.NewFallbackStore()
	fallback.Configure(statePath("fallback.bin"), secret)
	if err := fallback.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap fallback store: %w", err)
	}
	locators := contentstore.NewLocatorIndex()
	locators.Configure(statePath("locators.bin"), secret)
	if err := locators.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap locator index: %w", err)
	}

	network, err := buildNetwork(settings, logger)
	if err != nil {
		return nil, err
	}
	content := contentstore.New(network, fallback, locators, settings.Content, logger)

	mail := exchange.NewMailboxStore()
	mail.Configure(statePath("mailbox.bin"), secret)
	if err := mail.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap mailbox: %w", err)
	}

	registry = ledger.WithReadRetry(registry)
	svc := exchange.NewService(vccrypto.NewEngine(), keystore, content, mail, registry, logger)

	return &Daemon{
		settings: settings,
		logger:   logger,
		network:  network,
		content:  content,
		keystore: keystore,
		exchange: svc,
		poller:   exchange.NewPoller(svc, settings.Poller, logger),
		scorer:   trust.NewScorer(registry, logger),
	}, nil
}

func buildNetwork(settings netconfig.Settings, logger *slog.Logger) (contentstore.Network, error) {
	switch settings.Transport {
	case contentstore.TransportGoWaku:
		network := contentstore.NewGoWakuNetwork(settings.Network)
		if network == nil {
			logger.Warn("go-waku transport not built in, using in-memory network")
			return contentstore.NewMemoryNetwork(), nil
		}
		return network, nil
	case contentstore.TransportMemory, "":
		return contentstore.NewMemoryNetwork(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", settings.Transport)
	}
}

func storageSecret() (string, error) {
	if secret := strings.TrimSpace(os.Getenv("TRUSTMESH_STORAGE_SECRET")); secret != "" {
		return secret, nil
	}
	phrase := strings.TrimSpace(os.Getenv("TRUSTMESH_RECOVERY_PHRASE"))
	if phrase == "" {
		return "", nil
	}
	secret, err := vccrypto.StoreSecretFromPhrase(phrase)
	if err != nil {
		return "", fmt.Errorf("derive storage secret: %w", err)
	}
	return secret, nil
}

// Run starts the network and background loops and blocks until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.network.Start(ctx); err != nil {
		return fmt.Errorf("start content network: %w", err)
	}
	defer d.network.Stop()

	d.poller.Start(ctx)
	defer d.poller.Stop()

	d.logger.Info("daemon running",
		"transport", d.settings.Transport,
		"data_dir", d.settings.DataDir,
		"identities", len(d.keystore.Identities()))

	<-ctx.Done()
	d.logger.Info("daemon shutting down")
	return nil
}

// Exchange exposes the credential exchange service.
func (d *Daemon) Exchange() *exchange.Service { return d.exchange }

// Content exposes the content delivery store.
func (d *Daemon) Content() *contentstore.Service { return d.content }

// Trust exposes the trust scoring engine.
func (d *Daemon) Trust() *trust.Scorer { return d.scorer }

// Keystore exposes the local identity keys.
func (d *Daemon) Keystore() *vccrypto.KeyStore { return d.keystore }
