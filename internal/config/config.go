// Package config implements the unified JSON configuration layer
// (spec.md §4.6/§6): network, ping, bootstrap, circuit-breaker, and relay
// sub-objects, with exhaustive per-field validation and a legacy-shape
// fallback. Grounded on the teacher's config/config.go
// (Default/Load/Save/Ensure shape, "unmarshal over defaults" idiom).
package config

// Config is the top-level unified_network_config.json shape.
type Config struct {
	Identity        Identity        `json:"identity"`
	Network         Network         `json:"network"`
	Ping            Ping            `json:"ping"`
	Bootstrap       Bootstrap       `json:"bootstrap"`
	CircuitBreakers CircuitBreakers `json:"circuit_breakers"`
	Relay           Relay           `json:"relay"`
}

// Identity holds the node's persisted-key location and data directory.
type Identity struct {
	KeyFile string `json:"key_file"`
	DataDir string `json:"data_dir"`
}

// Network carries the connection-manager and protocol-identity settings
// spec.md §4.6 requires validated.
type Network struct {
	ListenAddr                            string `json:"listen_addr"`
	AppName                                string `json:"app_name"`
	AppVersion                             string `json:"app_version"`
	MdnsTag                                string `json:"mdns_tag"`
	GossipTopic                            string `json:"gossip_topic"`
	ConnectionMaintenanceIntervalSeconds   int    `json:"connection_maintenance_interval_seconds"`
	RequestTimeoutSeconds                 int    `json:"request_timeout_seconds"`
	MaxConcurrentStreams                  int    `json:"max_concurrent_streams"`
	MaxConnectionsPerPeer                 int    `json:"max_connections_per_peer"`
	MaxPendingIncoming                    int    `json:"max_pending_incoming"`
	MaxPendingOutgoing                    int    `json:"max_pending_outgoing"`
	MaxEstablishedTotal                   int    `json:"max_established_total"`
	ConnectionEstablishmentTimeoutSeconds int    `json:"connection_establishment_timeout_seconds"`
}

// Ping carries the keep-alive lane's probe interval and timeout.
type Ping struct {
	IntervalSeconds int `json:"interval_seconds"`
	TimeoutSeconds  int `json:"timeout_seconds"`
}

// Bootstrap mirrors bootstrap.Config's JSON shape.
type Bootstrap struct {
	Peers             []string `json:"peers"`
	RetryIntervalSecs int      `json:"retry_interval_secs"`
	MaxRetries        int      `json:"max_retries"`
	InitialDelaySecs  int      `json:"initial_delay_secs"`
	BackoffMultiplier float64  `json:"backoff_multiplier"`
	Enabled           bool     `json:"enabled"`
}

// CircuitBreakers mirrors circuit.Config's JSON shape, applied uniformly
// to every named circuit unless a future per-circuit override is added.
type CircuitBreakers struct {
	FailureThreshold        int  `json:"failure_threshold"`
	SuccessThreshold        int  `json:"success_threshold"`
	TimeoutSeconds          int  `json:"timeout_seconds"`
	OperationTimeoutSeconds int  `json:"operation_timeout_seconds"`
	Enabled                 bool `json:"enabled"`
}

// Relay mirrors relay.Config's JSON shape.
type Relay struct {
	MaxHops          int `json:"max_hops"`
	MaxMessageSize   int `json:"max_message_size_bytes"`
	RelayTimeoutSecs int `json:"relay_timeout_secs"`
	MaxPendingRelays int `json:"max_pending_relays"`
}

// Default returns every field populated with spec.md's stated defaults.
func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
			DataDir: "data",
		},
		Network: Network{
			ListenAddr:                            "/ip4/0.0.0.0/tcp/0",
			AppName:                               "p2p-play",
			AppVersion:                             "1.0.0",
			MdnsTag:                                "p2p-play-mdns",
			GossipTopic:                            "stories",
			ConnectionMaintenanceIntervalSeconds:   10,
			RequestTimeoutSeconds:                  30,
			MaxConcurrentStreams:                   100,
			MaxConnectionsPerPeer:                  3,
			MaxPendingIncoming:                     10,
			MaxPendingOutgoing:                      10,
			MaxEstablishedTotal:                     200,
			ConnectionEstablishmentTimeoutSeconds:   30,
		},
		Ping: Ping{
			IntervalSeconds: 15,
			TimeoutSeconds:  5,
		},
		Bootstrap: Bootstrap{
			Peers:             nil,
			RetryIntervalSecs: 30,
			MaxRetries:        10,
			BackoffMultiplier: 1.5,
			Enabled:           true,
		},
		CircuitBreakers: CircuitBreakers{
			FailureThreshold:        5,
			SuccessThreshold:        2,
			TimeoutSeconds:          5,
			OperationTimeoutSeconds: 10,
			Enabled:                 true,
		},
		Relay: Relay{
			MaxHops:          10,
			MaxMessageSize:   1 << 20,
			RelayTimeoutSecs: 300,
			MaxPendingRelays: 1000,
		},
	}
}
