package contentstore

import "time"

// GoWakuConfig tunes the real content network backend. The zero value
// is unusable; call DefaultGoWakuConfig and override fields from the
// daemon config.
type GoWakuConfig struct {
	Port              int           `yaml:"port"`
	BootstrapNodes    []string      `yaml:"bootstrapNodes"`
	EnableRelay       bool          `yaml:"enableRelay"`
	EnableStore       bool          `yaml:"enableStore"`
	MinPeers          int           `yaml:"minPeers"`
	StoreQueryFanout  int           `yaml:"storeQueryFanout"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoff  time.Duration `yaml:"reconnectBackoffMax"`
}

func DefaultGoWakuConfig() GoWakuConfig {
	return GoWakuConfig{
		Port:              60000,
		EnableRelay:       true,
		EnableStore:       true,
		MinPeers:          2,
		StoreQueryFanout:  3,
		ReconnectInterval: 1 * time.Second,
		ReconnectBackoff:  30 * time.Second,
	}
}

func normalizeGoWakuConfig(cfg GoWakuConfig) GoWakuConfig {
	def := DefaultGoWakuConfig()
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	if cfg.StoreQueryFanout <= 0 {
		cfg.StoreQueryFanout = def.StoreQueryFanout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoff < cfg.ReconnectInterval {
		cfg.ReconnectBackoff = cfg.ReconnectInterval
	}
	return cfg
}
