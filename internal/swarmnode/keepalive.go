package swarmnode

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// pingByte is keep-alive/1's entire wire protocol: one byte out, one byte
// echoed back. No framing needed for a liveness probe this small.
const pingByte = 0x06

// handleKeepAliveStream answers a remote peer's probe with the same byte.
func (n *Node) handleKeepAliveStream(s network.Stream) {
	defer s.Close()
	buf := make([]byte, 1)
	if _, err := s.Read(buf); err != nil {
		return
	}
	_, _ = s.Write(buf)
}

// runKeepAlive periodically probes every connected peer. Grounded on the
// teacher's entangle.Manager.runLoop: a ticker plus the "lower peer ID
// dials" rule to avoid both sides opening redundant probe streams at once.
func (n *Node) runKeepAlive() {
	interval := time.Duration(n.cfg.Ping.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.probeConnectedPeers()
		}
	}
}

func (n *Node) probeConnectedPeers() {
	local := n.host.ID()
	for _, p := range n.host.Network().Peers() {
		if local.String() >= p.String() {
			// Only the lexicographically lower peer ID initiates the probe;
			// the other side answers via handleKeepAliveStream.
			continue
		}
		go n.probeOne(p)
	}
}

func (n *Node) probeOne(p peer.ID) {
	timeout := time.Duration(n.cfg.Ping.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(n.ctx, timeout)
	defer cancel()

	err := n.circuit.Execute(ctx, CircuitPeerConnection, func(ctx context.Context) error {
		return n.pingOnce(ctx, p)
	})
	if err != nil {
		n.emitNetworkError(fmt.Sprintf("keep-alive probe to %s", p), err)
	}
}

func (n *Node) pingOnce(ctx context.Context, p peer.ID) error {
	s, err := n.host.NewStream(ctx, p, ProtoKeepAlive)
	if err != nil {
		return err
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	if _, err := s.Write([]byte{pingByte}); err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := s.Read(buf); err != nil {
		return err
	}
	if buf[0] != pingByte {
		return fmt.Errorf("swarmnode: unexpected keep-alive echo %x", buf[0])
	}
	return nil
}
