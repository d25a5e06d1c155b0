package config

import "strings"

// FieldError names one out-of-range or malformed config field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationErrors collects every FieldError found by Validate. Config
// validation is total: every violation is reported together, not just
// the first one encountered (spec.md §4.6 invariant 10), which is why
// this generalizes the teacher's early-return Validate into a collector.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Field + ": " + fe.Reason
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks every field spec.md names as range- or
// relationship-constrained and returns a ValidationErrors aggregating
// every violation found. A nil return means the config is valid.
func (c Config) Validate() error {
	var errs ValidationErrors

	check := func(cond bool, field, reason string) {
		if !cond {
			errs = append(errs, FieldError{Field: field, Reason: reason})
		}
	}

	n := c.Network
	check(n.ConnectionMaintenanceIntervalSeconds >= 10 && n.ConnectionMaintenanceIntervalSeconds <= 3600,
		"network.connection_maintenance_interval_seconds", "must be between 10 and 3600")
	check(n.RequestTimeoutSeconds >= 10 && n.RequestTimeoutSeconds <= 300,
		"network.request_timeout_seconds", "must be between 10 and 300")
	check(n.MaxConcurrentStreams >= 1 && n.MaxConcurrentStreams <= 1000,
		"network.max_concurrent_streams", "must be between 1 and 1000")
	check(n.MaxConnectionsPerPeer >= 1 && n.MaxConnectionsPerPeer <= 10,
		"network.max_connections_per_peer", "must be between 1 and 10")
	check(n.MaxPendingIncoming > 0, "network.max_pending_incoming", "must be positive")
	check(n.MaxPendingOutgoing > 0, "network.max_pending_outgoing", "must be positive")
	check(n.MaxEstablishedTotal > 0, "network.max_established_total", "must be positive")
	check(n.ConnectionEstablishmentTimeoutSeconds >= 5 && n.ConnectionEstablishmentTimeoutSeconds <= 300,
		"network.connection_establishment_timeout_seconds", "must be between 5 and 300")
	check(strings.TrimSpace(n.AppName) != "", "network.app_name", "must not be empty")
	check(strings.TrimSpace(n.GossipTopic) != "", "network.gossip_topic", "must not be empty")

	p := c.Ping
	check(p.TimeoutSeconds > 0, "ping.timeout_seconds", "must be positive")
	check(p.IntervalSeconds > p.TimeoutSeconds, "ping.interval_seconds", "must be greater than ping.timeout_seconds")

	b := c.Bootstrap
	check(b.RetryIntervalSecs > 0, "bootstrap.retry_interval_secs", "must be positive")
	check(b.MaxRetries >= 0, "bootstrap.max_retries", "must not be negative")
	check(b.BackoffMultiplier >= 1.0, "bootstrap.backoff_multiplier", "must be at least 1.0")
	for _, addr := range b.Peers {
		check(strings.TrimSpace(addr) != "", "bootstrap.peers", "entries must not be empty")
	}

	cb := c.CircuitBreakers
	check(cb.FailureThreshold > 0, "circuit_breakers.failure_threshold", "must be positive")
	check(cb.SuccessThreshold > 0, "circuit_breakers.success_threshold", "must be positive")
	check(cb.TimeoutSeconds > 0, "circuit_breakers.timeout_seconds", "must be positive")
	check(cb.OperationTimeoutSeconds > 0, "circuit_breakers.operation_timeout_seconds", "must be positive")

	r := c.Relay
	check(r.MaxHops > 0, "relay.max_hops", "must be positive")
	check(r.MaxMessageSize > 0, "relay.max_message_size_bytes", "must be positive")
	check(r.RelayTimeoutSecs > 0, "relay.relay_timeout_secs", "must be positive")
	check(r.MaxPendingRelays > 0, "relay.max_pending_relays", "must be positive")

	if len(errs) == 0 {
		return nil
	}
	return errs
}
