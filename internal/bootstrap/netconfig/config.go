// Package netconfig loads the daemon configuration from YAML and the
// environment. File values override defaults, environment variables
// override the file.
package netconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"

	"trustmesh/go-backend/internal/contentstore"
	"trustmesh/go-backend/internal/exchange"
)

// Settings is the fully resolved daemon configuration.
type Settings struct {
	Transport string
	DataDir   string
	Network   contentstore.GoWakuConfig
	Content   contentstore.Config
	Poller    exchange.PollerConfig
}

func DefaultSettings() Settings {
	return Settings{
		Transport: contentstore.TransportMemory,
		DataDir:   defaultDataDir(),
		Network:   contentstore.DefaultGoWakuConfig(),
		Content:   contentstore.DefaultConfig(),
		Poller:    exchange.DefaultPollerConfig(),
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.trustmesh"
	}
	return ".trustmesh"
}

type DaemonConfig struct {
	Transport string            `yaml:"transport"`
	DataDir   string            `yaml:"dataDir"`
	Network   NetworkSection `yaml:"network"`
	Content   ContentSection `yaml:"content"`
	Poller    PollerSection  `yaml:"poller"`
}

type NetworkSection struct {
	Port              int           `yaml:"port"`
	BootstrapNodes    []string      `yaml:"bootstrapNodes"`
	EnableRelay       *bool         `yaml:"enableRelay"`
	EnableStore       *bool         `yaml:"enableStore"`
	MinPeers          int           `yaml:"minPeers"`
	StoreQueryFanout  int           `yaml:"storeQueryFanout"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoff  time.Duration `yaml:"reconnectBackoffMax"`
}

type ContentSection struct {
	StoreTimeout    time.Duration `yaml:"storeTimeout"`
	RetrieveTimeout time.Duration `yaml:"retrieveTimeout"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	StoreAttempts   int           `yaml:"storeAttempts"`
	PublishRate     float64       `yaml:"publishRate"`
	PublishBurst    int           `yaml:"publishBurst"`
}

type PollerSection struct {
	MailboxInterval time.Duration `yaml:"mailboxInterval"`
	StatusInterval  time.Duration `yaml:"statusInterval"`
}

// LoadFromPath resolves settings from the first readable candidate
// path. A missing or malformed file falls back to defaults; the daemon
// must come up even with no config on disk.
func LoadFromPath(configPath string) Settings {
	settings := DefaultSettings()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&settings, parsed)
		ApplyEnvOverrides(&settings)
		return settings
	}

	ApplyEnvOverrides(&settings)
	return settings
}

func Merge(dst *Settings, src DaemonConfig) {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Network.Port != 0 {
		dst.Network.Port = src.Network.Port
	}
	if src.Network.BootstrapNodes != nil {
		dst.Network.BootstrapNodes = ValidBootstrapNodes(src.Network.BootstrapNodes)
	}
	if src.Network.EnableRelay != nil {
		dst.Network.EnableRelay = *src.Network.EnableRelay
	}
	if src.Network.EnableStore != nil {
		dst.Network.EnableStore = *src.Network.EnableStore
	}
	if src.Network.MinPeers != 0 {
		dst.Network.MinPeers = src.Network.MinPeers
	}
	if src.Network.StoreQueryFanout != 0 {
		dst.Network.StoreQueryFanout = src.Network.StoreQueryFanout
	}
	if src.Network.ReconnectInterval != 0 {
		dst.Network.ReconnectInterval = src.Network.ReconnectInterval
	}
	if src.Network.ReconnectBackoff != 0 {
		dst.Network.ReconnectBackoff = src.Network.ReconnectBackoff
	}
	if src.Content.StoreTimeout != 0 {
		dst.Content.StoreTimeout = src.Content.StoreTimeout
	}
	if src.Content.RetrieveTimeout != 0 {
		dst.Content.RetrieveTimeout = src.Content.RetrieveTimeout
	}
	if src.Content.BackoffBase != 0 {
		dst.Content.BackoffBase = src.Content.BackoffBase
	}
	if src.Content.StoreAttempts != 0 {
		dst.Content.StoreAttempts = src.Content.StoreAttempts
	}
	if src.Content.PublishRate != 0 {
		dst.Content.PublishRate = src.Content.PublishRate
	}
	if src.Content.PublishBurst != 0 {
		dst.Content.PublishBurst = src.Content.PublishBurst
	}
	if src.Poller.MailboxInterval != 0 {
		dst.Poller.MailboxInterval = src.Poller.MailboxInterval
	}
	if src.Poller.StatusInterval != 0 {
		dst.Poller.StatusInterval = src.Poller.StatusInterval
	}
}

func ApplyEnvOverrides(settings *Settings) {
	if transport := strings.TrimSpace(os.Getenv("TRUSTMESH_NETWORK_TRANSPORT")); transport != "" {
		settings.Transport = transport
	}
	if dataDir := strings.TrimSpace(os.Getenv("TRUSTMESH_DATA_DIR")); dataDir != "" {
		settings.DataDir = dataDir
	}
	if raw := strings.TrimSpace(os.Getenv("TRUSTMESH_NETWORK_PORT")); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port <= 65535 {
			settings.Network.Port = port
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TRUSTMESH_BOOTSTRAP_NODES")); raw != "" {
		settings.Network.BootstrapNodes = ValidBootstrapNodes(strings.Split(raw, ","))
	}
}

// ValidBootstrapNodes keeps only well-formed multiaddrs; one typo in
// the peer list must not poison dialing the rest.
func ValidBootstrapNodes(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, err := ma.NewMultiaddr(addr); err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}
