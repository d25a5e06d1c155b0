package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bhagdave/p2pplay/internal/util"
)

// FileName is the unified config file's name within the data directory.
const FileName = "unified_network_config.json"

// legacy file names from the pre-unification config layout. Load falls
// back to these when FileName is absent, defaulting any field the
// legacy shape doesn't carry.
const (
	legacyNetworkFile = "network_config.json"
	legacyPingFile    = "ping_config.json"
)

// legacyNetwork mirrors the fields the old network_config.json carried.
type legacyNetwork struct {
	ConnectionMaintenanceIntervalSeconds int `json:"connection_maintenance_interval_seconds"`
	RequestTimeoutSeconds                int `json:"request_timeout_seconds"`
	MaxConcurrentStreams                 int `json:"max_concurrent_streams"`
	MaxConnectionsPerPeer                int `json:"max_connections_per_peer"`
}

// legacyPing mirrors the fields the old ping_config.json carried.
type legacyPing struct {
	IntervalSeconds int `json:"interval_seconds"`
	TimeoutSeconds  int `json:"timeout_seconds"`
}

// Load reads the unified config from dir, falling back to the legacy
// network_config.json/ping_config.json pair (with missing fields
// defaulted) when the unified file is absent.
func Load(dir string) (Config, error) {
	unified := filepath.Join(dir, FileName)
	if data, err := os.ReadFile(unified); err == nil {
		cfg := Default()
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	return loadLegacy(dir)
}

func loadLegacy(dir string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(filepath.Join(dir, legacyNetworkFile)); err == nil {
		var ln legacyNetwork
		if err := json.Unmarshal(data, &ln); err != nil {
			return Config{}, err
		}
		if ln.ConnectionMaintenanceIntervalSeconds != 0 {
			cfg.Network.ConnectionMaintenanceIntervalSeconds = ln.ConnectionMaintenanceIntervalSeconds
		}
		if ln.RequestTimeoutSeconds != 0 {
			cfg.Network.RequestTimeoutSeconds = ln.RequestTimeoutSeconds
		}
		if ln.MaxConcurrentStreams != 0 {
			cfg.Network.MaxConcurrentStreams = ln.MaxConcurrentStreams
		}
		if ln.MaxConnectionsPerPeer != 0 {
			cfg.Network.MaxConnectionsPerPeer = ln.MaxConnectionsPerPeer
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if data, err := os.ReadFile(filepath.Join(dir, legacyPingFile)); err == nil {
		var lp legacyPing
		if err := json.Unmarshal(data, &lp); err != nil {
			return Config{}, err
		}
		if lp.IntervalSeconds != 0 {
			cfg.Ping.IntervalSeconds = lp.IntervalSeconds
		}
		if lp.TimeoutSeconds != 0 {
			cfg.Ping.TimeoutSeconds = lp.TimeoutSeconds
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes cfg as the unified config file under dir.
func Save(dir string, cfg Config) error {
	return util.WriteJSONFile(filepath.Join(dir, FileName), cfg)
}

// Ensure loads the config at dir, writing and returning Default() if no
// unified or legacy config file exists yet.
func Ensure(dir string) (Config, error) {
	unified := filepath.Join(dir, FileName)
	if _, err := os.Stat(unified); err == nil {
		return Load(dir)
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	legacyN := filepath.Join(dir, legacyNetworkFile)
	legacyP := filepath.Join(dir, legacyPingFile)
	if _, err := os.Stat(legacyN); err == nil {
		return Load(dir)
	}
	if _, err := os.Stat(legacyP); err == nil {
		return Load(dir)
	}

	cfg := Default()
	if err := Save(dir, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
