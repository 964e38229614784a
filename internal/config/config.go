// Package config loads the daemon's static YAML configuration, following
// cellorg/internal/config.Load's pattern: yaml.Unmarshal into a struct,
// apply defaults, validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedPeer is a peer to register at startup, in addition to whatever is
// already in the persistent peer store.
type SeedPeer struct {
	Agtuuid string `yaml:"agtuuid"`
	URL     string `yaml:"url"`
	Polling bool   `yaml:"polling"`
}

// Config is the daemon's static configuration file shape.
type Config struct {
	DataDir       string     `yaml:"data_dir"`
	LogDir        string     `yaml:"log_dir"`
	Debug         bool       `yaml:"debug"`
	HTTPTimeout   float64    `yaml:"http_timeout_seconds"`
	MessageTTL    float64    `yaml:"message_ttl_seconds"`
	PeerTimeout   float64    `yaml:"peer_timeout_seconds"`
	PeerRefresh   float64    `yaml:"peer_refresh_seconds"`
	MaxWeight     int        `yaml:"max_route_weight"`
	TicketTimeout float64    `yaml:"ticket_timeout_seconds"`
	AdvertiseMin  float64    `yaml:"advertise_min_seconds"`
	AdvertiseMax  float64    `yaml:"advertise_max_seconds"`
	PollInterval  float64    `yaml:"poll_interval_seconds"`
	ForwardQueue  int        `yaml:"forward_queue_depth"`
	ForwardWorker int        `yaml:"forward_workers"`
	SeedPeers     []SeedPeer `yaml:"seed_peers"`
}

// Defaults mirror the constants scattered across original_source:
// PEER_TIMEOUT=120, PEER_REFRESH=60, MAX_WEIGHT=3600, MESSAGE_TIMEOUT=60,
// ASYNC_TICKET_TIMEOUT=60, HTTP client timeout 5s, advertisement interval
// randomized 0-30s.
func Defaults() Config {
	return Config{
		DataDir:       "./data",
		LogDir:        "./log",
		Debug:         false,
		HTTPTimeout:   5,
		MessageTTL:    60,
		PeerTimeout:   120,
		PeerRefresh:   60,
		MaxWeight:     3600,
		TicketTimeout: 60,
		AdvertiseMin:  0,
		AdvertiseMax:  30,
		PollInterval:  0.5,
		ForwardQueue:  256,
		ForwardWorker: 8,
	}
}

// Load reads filename, merging onto Defaults(). A missing file is not an
// error: the daemon runs on defaults alone.
func Load(filename string) (Config, error) {
	cfg := Defaults()
	if filename == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", filename, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %v", c.HTTPTimeout)
	}
	if c.MaxWeight <= 0 {
		return fmt.Errorf("max_route_weight must be positive, got %v", c.MaxWeight)
	}
	if c.AdvertiseMax < c.AdvertiseMin {
		return fmt.Errorf("advertise_max_seconds (%v) must be >= advertise_min_seconds (%v)", c.AdvertiseMax, c.AdvertiseMin)
	}
	return nil
}
