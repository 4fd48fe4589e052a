// Package conf implements the tracker's layered configuration: a top-level
// YAML document decoded into typed sections, with each pluggable driver
// (storage backend, middleware hook) receiving its own free-form
// sub-document that it decodes itself via MapConfig.
package conf

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// MapConfig is an undecoded configuration fragment, owned by a specific
// driver. Drivers are registered under a name (storage backend, middleware)
// and receive the bytes/map relevant to their own section; they alone know
// the shape of their config struct.
type MapConfig map[string]any

// Unmarshal decodes the fragment into out using mapstructure, matching
// struct fields tagged `cfg:"..."`.
func (m MapConfig) Unmarshal(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(m))
}

// File is the top-level configuration document.
type File struct {
	Tracker Tracker `yaml:"tracker"`
}

// Tracker holds the process-wide tracker configuration.
type Tracker struct {
	// Mode is one of "public", "private", "listed", "private_listed".
	Mode string `yaml:"mode"`

	AnnouncePolicy AnnouncePolicy `yaml:"announce_policy"`
	RetainingPolicy RetainingPolicy `yaml:"retaining_policy"`

	ExternalIP         string `yaml:"external_ip"`
	IsBehindReverseProxy bool `yaml:"is_behind_reverse_proxy"`

	MetricsAddr string `yaml:"metrics_addr"`

	Storage StorageConfig `yaml:"storage"`

	PreHooks  []HookConfig `yaml:"pre_hooks"`
	PostHooks []HookConfig `yaml:"post_hooks"`

	HTTP HTTPConfig `yaml:"http"`
	UDP  UDPConfig  `yaml:"udp"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// HookConfig names a middleware driver and its own configuration fragment.
type HookConfig struct {
	Name    string    `yaml:"name"`
	Options MapConfig `yaml:"options"`
}

// AnnouncePolicy controls values returned to clients on every announce.
type AnnouncePolicy struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	MinIntervalSeconds int `yaml:"min_interval_seconds"`
	MaxNumWant         int `yaml:"max_num_want"`
	DefaultNumWant     int `yaml:"default_num_want"`
}

// RetainingPolicy controls swarm eviction.
type RetainingPolicy struct {
	RemovePeerlessTorrents          bool `yaml:"remove_peerless_torrents"`
	PersistentTorrentCompletedStat  bool `yaml:"persistent_torrent_completed_stat"`
}

// StorageConfig names the persistent-storage driver and its own config.
type StorageConfig struct {
	Name   string    `yaml:"name"`
	Config MapConfig `yaml:"config"`
}

// HTTPConfig configures the HTTP frontend.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
}

// UDPConfig configures the UDP frontend.
type UDPConfig struct {
	Addr                string `yaml:"addr"`
	CookieValiditySec   int    `yaml:"cookie_validity_seconds"`
	MaxScrapeInfoHashes int    `yaml:"max_scrape_info_hashes"`
	RequestTimeoutSec   int    `yaml:"request_timeout_seconds"`
	Workers             int    `yaml:"workers"`
	BanThreshold        int    `yaml:"ban_threshold"`
	BanWindowSeconds    int    `yaml:"ban_window_seconds"`
	BanDurationSeconds  int    `yaml:"ban_duration_seconds"`
}

// MaintenanceConfig controls the periodic sweeps.
type MaintenanceConfig struct {
	InactivePeerIntervalSeconds int `yaml:"inactive_peer_interval_seconds"`
	MaxPeerTimeoutSeconds       int `yaml:"max_peer_timeout_seconds"`
	PeerlessTorrentIntervalSec  int `yaml:"peerless_torrent_interval_seconds"`

	// CompletedStatFlushIntervalSec controls how often each swarm's
	// cumulative Downloaded counter is written through to the "torrents"
	// storage context, per spec.md §6.3's "periodic flush of completed
	// counts".
	CompletedStatFlushIntervalSec int `yaml:"completed_stat_flush_interval_seconds"`
}

// LoadFile reads and parses a YAML configuration file from path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &f, nil
}
