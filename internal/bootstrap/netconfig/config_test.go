package netconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"trustmesh/go-backend/internal/contentstore"
)

func TestLoadFromMissingPathUsesDefaults(t *testing.T) {
	settings := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if settings.Transport != contentstore.TransportMemory {
		t.Fatalf("default transport: %s", settings.Transport)
	}
	if settings.Content.StoreTimeout != 10*time.Second {
		t.Fatalf("default store timeout: %s", settings.Content.StoreTimeout)
	}
	if settings.Poller.MailboxInterval != 10*time.Second || settings.Poller.StatusInterval != 30*time.Second {
		t.Fatalf("default poll intervals: %+v", settings.Poller)
	}
}

func TestLoadFromPathMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
transport: go-waku
dataDir: /var/lib/trustmesh
network:
  port: 61000
  minPeers: 4
  bootstrapNodes:
    - /ip4/127.0.0.1/tcp/60000/p2p/16Uiu2HAm3xVDaz6SRJ6kErwC21zBJEZjavVXg7VSkoWzaV1aMA3F
    - not-a-multiaddr
content:
  storeAttempts: 5
  backoffBase: 2s
poller:
  mailboxInterval: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings := LoadFromPath(path)
	if settings.Transport != contentstore.TransportGoWaku {
		t.Fatalf("transport not merged: %s", settings.Transport)
	}
	if settings.DataDir != "/var/lib/trustmesh" {
		t.Fatalf("data dir not merged: %s", settings.DataDir)
	}
	if settings.Network.Port != 61000 || settings.Network.MinPeers != 4 {
		t.Fatalf("network not merged: %+v", settings.Network)
	}
	if len(settings.Network.BootstrapNodes) != 1 {
		t.Fatalf("invalid bootstrap node not dropped: %v", settings.Network.BootstrapNodes)
	}
	if settings.Content.StoreAttempts != 5 || settings.Content.BackoffBase != 2*time.Second {
		t.Fatalf("content tuning not merged: %+v", settings.Content)
	}
	if settings.Poller.MailboxInterval != 5*time.Second {
		t.Fatalf("poller not merged: %+v", settings.Poller)
	}
	// Unset file fields keep their defaults.
	if settings.Poller.StatusInterval != 30*time.Second {
		t.Fatalf("status interval lost its default: %s", settings.Poller.StatusInterval)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transport: go-waku\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRUSTMESH_NETWORK_TRANSPORT", contentstore.TransportMemory)
	t.Setenv("TRUSTMESH_NETWORK_PORT", "62000")

	settings := LoadFromPath(path)
	if settings.Transport != contentstore.TransportMemory {
		t.Fatalf("env transport override lost: %s", settings.Transport)
	}
	if settings.Network.Port != 62000 {
		t.Fatalf("env port override lost: %d", settings.Network.Port)
	}
}

func TestValidBootstrapNodes(t *testing.T) {
	in := []string{
		"/ip4/10.0.0.1/tcp/60000",
		"  /dns4/node.example.org/tcp/60000  ",
		"",
		"definitely broken",
	}
	out := ValidBootstrapNodes(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 valid addrs, got %v", out)
	}
}
