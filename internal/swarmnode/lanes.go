package swarmnode

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/wire"
)

// setupLanes binds the three request/response protocol handlers
// (dm/1, node-desc/1, story-sync/1) and the relay forwarding protocol.
// Grounded on the teacher's chat.Manager.handleStream (request/response
// over a single stream, validate-then-reply).
func (n *Node) setupLanes() error {
	n.host.SetStreamHandler(ProtoDM, n.handleDMStream)
	n.host.SetStreamHandler(ProtoNodeDesc, n.handleNodeDescStream)
	n.host.SetStreamHandler(ProtoStorySync, n.handleStorySyncStream)
	n.host.SetStreamHandler(ProtoRelay, n.handleRelayStream)
	n.host.SetStreamHandler(ProtoKeepAlive, n.handleKeepAliveStream)
	return nil
}

// hasHandshake reports whether peer p has completed the dm/1 handshake.
// Tracked here rather than with a wire-level union type, so a single
// ReadFrame on the stream always knows which concrete type to decode into.
func (n *Node) hasHandshake(p peer.ID) bool {
	n.handshakeMu.Lock()
	defer n.handshakeMu.Unlock()
	return n.handshakeDone[p]
}

func (n *Node) markHandshake(p peer.ID) {
	n.handshakeMu.Lock()
	n.handshakeDone[p] = true
	n.handshakeMu.Unlock()
}

// handleDMStream serves /dm/1.0.0. The first stream ever opened by a given
// remote peer on this protocol carries a Handshake; every subsequent one
// (the handshake having already completed) carries a DMRequest directly,
// per spec.md §6.
func (n *Node) handleDMStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	if !n.hasHandshake(remote) {
		var hs wire.Handshake
		if err := wire.ReadFrame(s, &hs); err != nil {
			n.emitNetworkError("dm/1 read handshake", err)
			return
		}
		accept := hs.AppName == wire.AppName && hs.AppVersion == wire.AppVersion
		if err := wire.WriteFrame(s, &wire.HandshakeResponse{Accepted: accept, AppName: wire.AppName}); err != nil {
			n.emitNetworkError("dm/1 write handshake response", err)
			return
		}
		if !accept {
			return
		}
		n.markHandshake(remote)
		return
	}

	var req wire.DMRequest
	if err := wire.ReadFrame(s, &req); err != nil {
		n.emitNetworkError("dm/1 read request", err)
		return
	}
	if req.FromPeerID != remote.String() {
		n.emitNetworkError("dm/1", fmt.Errorf("sender mismatch: claimed %s, stream is %s", req.FromPeerID, remote))
		return
	}

	if err := n.db.AppendMessage(n.ctx, storage.DirectMessage{
		PeerID:     req.FromPeerID,
		FromPeerID: req.FromPeerID,
		ToPeerID:   req.ToPeerID,
		Body:       req.Body,
		Timestamp:  req.Timestamp,
		Outgoing:   false,
	}); err != nil {
		n.emitNetworkError("dm/1 persist", err)
	}
	if req.FromAlias != "" {
		_ = n.db.SetPeerAlias(n.ctx, req.FromPeerID, req.FromAlias)
	}
	n.peers.Upsert(remote, req.FromAlias, nil)

	_ = wire.WriteFrame(s, &wire.DMResponse{Ack: true})

	n.emit(Event{Type: EventDirectMessageIn, Peer: remote, Alias: req.FromAlias, DirectMsg: &DirectMessageEvent{
		FromPeerID: req.FromPeerID,
		FromAlias:  req.FromAlias,
		Body:       req.Body,
		Timestamp:  time.Unix(req.Timestamp, 0),
	}})
}

// handleNodeDescStream serves /node-desc/1.0.0: an empty request answered
// with this node's alias and key-agreement public key.
func (n *Node) handleNodeDescStream(s network.Stream) {
	defer s.Close()
	var req wire.NodeDescRequest
	if err := wire.ReadFrame(s, &req); err != nil {
		n.emitNetworkError("node-desc/1 read request", err)
		return
	}
	resp := wire.NodeDescResponse{
		PeerID:           n.host.ID().String(),
		Alias:            n.alias,
		X25519PublicKey:  n.crypto.X25519PublicKey(),
		Ed25519PublicKey: n.crypto.Ed25519PublicKey(),
	}
	if err := wire.WriteFrame(s, &resp); err != nil {
		n.emitNetworkError("node-desc/1 write response", err)
	}
}

// sendHandshake performs the dm/1 lane's one-time handshake against peer p
// over an already-open stream, per spec.md §6's "closed if mismatched" rule.
func sendHandshake(s network.Stream, local peer.ID) (bool, error) {
	if err := wire.WriteFrame(s, &wire.Handshake{AppName: wire.AppName, AppVersion: wire.AppVersion, PeerID: local.String()}); err != nil {
		return false, err
	}
	var resp wire.HandshakeResponse
	if err := wire.ReadFrame(s, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// ensureHandshake performs the dm/1 handshake against p over a dedicated
// stream if it hasn't completed yet, and reports whether p accepted it.
// No-op (returns true, nil) once hasHandshake(p) is already true.
func (n *Node) ensureHandshake(ctx context.Context, p peer.ID) (bool, error) {
	if n.hasHandshake(p) {
		return true, nil
	}
	s, err := n.host.NewStream(ctx, p, ProtoDM)
	if err != nil {
		return false, fmt.Errorf("swarmnode: open dm/1 stream: %w", err)
	}
	defer s.Close()

	accepted, err := sendHandshake(s, n.host.ID())
	if err != nil {
		return false, fmt.Errorf("swarmnode: dm/1 handshake: %w", err)
	}
	if accepted {
		n.markHandshake(p)
	}
	return accepted, nil
}

// completeHandshakeOnConnect runs the dm/1 handshake against every newly
// connected peer. The PeerConnected event, the node-desc/1 fetch and the
// flush of pending relay envelopes wait until the handshake is Accepted.
// The other lanes do not check the handshake state: inbound node-desc/1,
// story-sync/1, relay/1 and keep-alive/1 streams are served, and keep-alive
// probes, relay forwarding and gossip reach every connected peer, whether
// or not its handshake has completed. On rejection or failure, the raw connection is torn down immediately and a
// throttle attempt is recorded so the next dial waits the full 30s backoff.
func (n *Node) completeHandshakeOnConnect(p peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, connectTimeout(n.cfg))
	defer cancel()

	accepted, err := n.ensureHandshake(ctx, p)
	if err != nil || !accepted {
		if err != nil {
			n.emitNetworkError(fmt.Sprintf("dm/1 handshake with %s", p), err)
		}
		n.throttle.RecordAttempt(p, time.Now())
		_ = n.host.Network().ClosePeer(p)
		return
	}

	n.emit(Event{Type: EventPeerConnected, Peer: p})
	go n.fetchPeerDescAsync(p)
	if err := n.handleRelayForward(n.ctx, Command{TargetPeer: p}); err != nil {
		n.emitNetworkError(fmt.Sprintf("relay flush to %s", p), err)
	}
}

// handleDirectSend opens (or reuses the handshake state of) a dm/1 stream
// to cmd.TargetPeer and delivers cmd.Body, gated by the direct_message
// circuit. On failure to reach the peer directly, falls back to the relay
// engine's store-and-forward path (spec.md §4.2's "Pending" branch).
func (n *Node) handleDirectSend(ctx context.Context, cmd Command) error {
	sendErr := n.circuit.Execute(ctx, CircuitDirectMessage, func(ctx context.Context) error {
		return n.directSendOnce(ctx, cmd)
	})
	if sendErr == nil {
		return nil
	}

	env, buildErr := n.relayEn.BuildEnvelope(cmd.TargetPeer, cmd.TargetAlias, n.alias, cmd.Body)
	if buildErr != nil {
		return fmt.Errorf("swarmnode: direct send failed (%v) and relay envelope could not be built: %w", sendErr, buildErr)
	}
	n.relayEn.EnqueuePending(env)
	return n.forwardRelayEnvelope(ctx, env, "")
}

func (n *Node) directSendOnce(ctx context.Context, cmd Command) error {
	accepted, err := n.ensureHandshake(ctx, cmd.TargetPeer)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("swarmnode: dm/1 handshake rejected by peer")
	}

	s, err := n.host.NewStream(ctx, cmd.TargetPeer, ProtoDM)
	if err != nil {
		return fmt.Errorf("swarmnode: open dm/1 stream: %w", err)
	}
	defer s.Close()

	req := wire.DMRequest{
		FromPeerID: n.host.ID().String(),
		FromAlias:  n.alias,
		ToPeerID:   cmd.TargetPeer.String(),
		Body:       cmd.Body,
		Timestamp:  time.Now().Unix(),
	}
	if err := wire.WriteFrame(s, &req); err != nil {
		return fmt.Errorf("swarmnode: write dm request: %w", err)
	}
	var resp wire.DMResponse
	if err := wire.ReadFrame(s, &resp); err != nil {
		return fmt.Errorf("swarmnode: read dm response: %w", err)
	}
	if !resp.Ack {
		return fmt.Errorf("swarmnode: peer did not acknowledge direct message")
	}

	return n.db.AppendMessage(ctx, storage.DirectMessage{
		PeerID:     cmd.TargetPeer.String(),
		FromPeerID: req.FromPeerID,
		ToPeerID:   req.ToPeerID,
		Body:       cmd.Body,
		Timestamp:  req.Timestamp,
		Outgoing:   true,
	})
}

// fetchPeerDescAsync runs fetchNodeDesc against a freshly connected peer in
// the background, so the crypto engine has a key to encrypt against before
// the first direct-send or relay build ever needs one.
func (n *Node) fetchPeerDescAsync(p peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, connectTimeout(n.cfg))
	defer cancel()
	if _, err := n.fetchNodeDesc(ctx, p); err != nil {
		n.emitNetworkError(fmt.Sprintf("node-desc/1 fetch from %s", p), err)
	}
}

// fetchNodeDesc queries p's node-desc/1 lane and installs its key-agreement
// key, so Encrypt to that peer subsequently succeeds.
func (n *Node) fetchNodeDesc(ctx context.Context, p peer.ID) (*NodeDescription, error) {
	s, err := n.host.NewStream(ctx, p, ProtoNodeDesc)
	if err != nil {
		return nil, fmt.Errorf("swarmnode: open node-desc/1 stream: %w", err)
	}
	defer s.Close()

	if err := wire.WriteFrame(s, &wire.NodeDescRequest{}); err != nil {
		return nil, fmt.Errorf("swarmnode: write node-desc request: %w", err)
	}
	var resp wire.NodeDescResponse
	if err := wire.ReadFrame(s, &resp); err != nil {
		return nil, fmt.Errorf("swarmnode: read node-desc response: %w", err)
	}

	if err := n.crypto.AddPeerPublicKey(p, resp.X25519PublicKey); err != nil {
		return nil, fmt.Errorf("swarmnode: install peer public key: %w", err)
	}
	n.peers.Upsert(p, resp.Alias, nil)

	desc := &NodeDescription{
		PeerID:           p,
		Alias:            resp.Alias,
		X25519PublicKey:  resp.X25519PublicKey,
		Ed25519PublicKey: resp.Ed25519PublicKey,
	}
	n.emit(Event{Type: EventDescriptionReceived, Peer: p, Alias: resp.Alias, Desc: desc})
	return desc, nil
}

// handleDial opens a connection to cmd.DialAddr (a multiaddr string) for a
// manual "connect to peer" command. The bootstrap dialer adapter in
// bootstrapdht.go connects through the host directly, not through here.
func (n *Node) handleDial(ctx context.Context, cmd Command) error {
	return n.circuit.Execute(ctx, CircuitPeerConnection, func(ctx context.Context) error {
		pi, err := parseDialAddr(cmd.DialAddr)
		if err != nil {
			return err
		}
		if err := n.host.Connect(ctx, *pi); err != nil {
			return err
		}
		n.peers.Upsert(pi.ID, "", nil)
		return nil
	})
}
