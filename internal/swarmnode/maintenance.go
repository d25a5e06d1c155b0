package swarmnode

import (
	"time"
)

// runMaintenanceLoop is the periodic sweep spec.md §4.1 requires: throttle
// and registry garbage collection, relay pending/seen-set expiry, and
// driving the bootstrap controller's retry schedule. Grounded on the
// teacher's StartRelayRefresh ticker loop in internal/p2p/node.go.
func (n *Node) runMaintenanceLoop() {
	interval := time.Duration(n.cfg.Network.ConnectionMaintenanceIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.runBootstrapAttempt(n.ctx)

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.runMaintenanceTick()
		}
	}
}

func (n *Node) runMaintenanceTick() {
	now := time.Now()

	n.throttle.GC(now)
	n.peers.EvictStale(now.Add(-time.Hour))

	expired := n.relayEn.GC(now)
	if len(expired) > 0 && n.logs != nil {
		for _, env := range expired {
			n.logs.Network.Logf("RELAY", "pending envelope %s to %s expired undelivered", env.MessageID, env.TargetPeerID)
		}
	}

	n.retryPendingRelays()

	if n.bootCtl.ShouldRetry() {
		n.runBootstrapAttempt(n.ctx)
	}
}

// retryPendingRelays resends every still-pending envelope directly to its
// target, if that target is currently connected. It runs on every
// maintenance tick; the immediate flush when a peer reconnects is done by
// completeHandshakeOnConnect.
func (n *Node) retryPendingRelays() {
	pending := n.relayEn.PendingSnapshot()
	if len(pending) == 0 {
		return
	}
	connected := make(map[string]bool)
	for _, p := range n.host.Network().Peers() {
		connected[p.String()] = true
	}
	for _, env := range pending {
		if !connected[env.TargetPeerID] {
			continue
		}
		if id, err := parsePeerID(env.TargetPeerID); err == nil {
			n.sendRelayEnvelope(n.ctx, id, env)
		}
	}
}
