package swarmnode

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/relay"
	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/wire"
)

// handleRelayStream serves /relay/1.0.0: a single fire-and-forget envelope,
// no response written on the stream itself. An acknowledgment, when one is
// owed, travels back as its own fresh outbound envelope on a later stream —
// the "positive-ack-once" design recorded in DESIGN.md.
func (n *Node) handleRelayStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	var env wire.RelayEnvelope
	if err := wire.ReadFrame(s, &env); err != nil {
		n.emitNetworkError("relay/1 read envelope", err)
		return
	}

	if env.MessageType == wire.MessageTypeRelayAck {
		n.relayEn.AcknowledgePending(env.MessageID)
		return
	}

	outcome, err := n.relayEn.HandleIncoming(remote, &env, n.connectedPeersExcept(remote))
	if err != nil {
		n.emitNetworkError("relay/1 handle envelope", err)
		return
	}

	switch {
	case outcome.Dropped != "":
		if n.logs != nil {
			n.logs.Network.Logf("RELAY", "dropped envelope %s from %s: %s", env.MessageID, remote, outcome.Dropped)
		}

	case outcome.Delivered != nil:
		n.deliverRelayed(remote, outcome.Delivered)
		if outcome.Ack != nil {
			n.sendRelayEnvelope(n.ctx, remote, outcome.Ack)
		}

	case outcome.ForwardTo != nil:
		for _, target := range outcome.Forwarded {
			n.sendRelayEnvelope(n.ctx, target, outcome.ForwardTo)
		}
	}
}

func (n *Node) deliverRelayed(from peer.ID, d *relay.Delivered) {
	if err := n.db.AppendMessage(n.ctx, storage.DirectMessage{
		PeerID:     d.FromPeerID,
		FromPeerID: d.FromPeerID,
		ToPeerID:   n.host.ID().String(),
		Body:       d.Body,
		Timestamp:  d.Timestamp,
		Outgoing:   false,
	}); err != nil {
		n.emitNetworkError("relay/1 persist delivered message", err)
	}
	if d.FromAlias != "" {
		_ = n.db.SetPeerAlias(n.ctx, d.FromPeerID, d.FromAlias)
	}

	n.emit(Event{
		Type:    EventDirectMessageIn,
		Peer:    from,
		Alias:   d.FromAlias,
		Relayed: true,
		DirectMsg: &DirectMessageEvent{
			FromPeerID: d.FromPeerID,
			FromAlias:  d.FromAlias,
			Body:       d.Body,
		},
	})
}

// sendRelayEnvelope best-effort delivers env to target over /relay/1.0.0.
// Failure is logged, not propagated — the seen-set and pending cache
// already guarantee the envelope either reaches its destination on a later
// attempt or expires, so a single hop's dial failure is not fatal.
func (n *Node) sendRelayEnvelope(ctx context.Context, target peer.ID, env *wire.RelayEnvelope) {
	err := n.circuit.Execute(ctx, CircuitDirectMessage, func(ctx context.Context) error {
		s, err := n.host.NewStream(ctx, target, ProtoRelay)
		if err != nil {
			return fmt.Errorf("open relay/1 stream: %w", err)
		}
		defer s.Close()
		return wire.WriteFrame(s, env)
	})
	if err != nil {
		n.emitNetworkError(fmt.Sprintf("relay/1 send to %s", target), err)
	}
}

// forwardRelayEnvelope sends env to every currently connected peer other
// than exclude, used for a freshly-built envelope whose direct send failed.
func (n *Node) forwardRelayEnvelope(ctx context.Context, env *wire.RelayEnvelope, exclude string) error {
	var excludeID peer.ID
	if exclude != "" {
		if id, err := peer.Decode(exclude); err == nil {
			excludeID = id
		}
	}
	targets := n.connectedPeersExcept(excludeID)
	if len(targets) == 0 {
		return fmt.Errorf("swarmnode: no connected peer available to relay envelope %s", env.MessageID)
	}
	for _, t := range targets {
		n.sendRelayEnvelope(ctx, t, env)
	}
	return nil
}

// handleRelayForward resends every pending envelope addressed to
// cmd.TargetPeer directly to that peer. completeHandshakeOnConnect calls it
// as soon as a peer's handshake is accepted; the maintenance tick uses
// retryPendingRelays instead.
func (n *Node) handleRelayForward(ctx context.Context, cmd Command) error {
	for _, env := range n.relayEn.PendingSnapshot() {
		if env.TargetPeerID == cmd.TargetPeer.String() {
			n.sendRelayEnvelope(ctx, cmd.TargetPeer, env)
		}
	}
	return nil
}
