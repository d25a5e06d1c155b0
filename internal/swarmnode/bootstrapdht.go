package swarmnode

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/bhagdave/p2pplay/internal/bootstrap"
)

// hostDialer adapts a libp2p host to bootstrap.Dialer, grounded on the
// teacher's Node.Connect usage in internal/p2p/node.go, generalized from a
// single mDNS-discovered peer to an arbitrary bootstrap multiaddr.
type hostDialer struct {
	n *Node
}

func (d *hostDialer) Dial(ctx context.Context, addr ma.Multiaddr) (peer.ID, error) {
	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("swarmnode: parse bootstrap addr: %w", err)
	}
	d.n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	if err := d.n.host.Connect(ctx, *pi); err != nil {
		return "", err
	}
	d.n.peers.Upsert(pi.ID, "", addrStrings(pi.Addrs))
	return pi.ID, nil
}

// dhtBootstrapper adapts *dht.IpfsDHT to bootstrap.Bootstrapper.
type dhtBootstrapper struct {
	kdht *dht.IpfsDHT
}

func (b *dhtBootstrapper) Bootstrap(ctx context.Context) error {
	return b.kdht.Bootstrap(ctx)
}

func (b *dhtBootstrapper) RoutingTableSize() int {
	return b.kdht.RoutingTable().Size()
}

var _ bootstrap.Dialer = (*hostDialer)(nil)
var _ bootstrap.Bootstrapper = (*dhtBootstrapper)(nil)

func addrStrings(addrs []ma.Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// runBootstrapAttempt drives one join attempt through the bootstrap
// controller and translates its outcome into swarm events
// (bootstrap-completed / bootstrap-failed), per spec.md §4.5.
func (n *Node) runBootstrapAttempt(ctx context.Context) {
	err := n.circuit.Execute(ctx, CircuitDHTBootstrap, func(ctx context.Context) error {
		return n.bootCtl.AttemptBootstrap(ctx, &hostDialer{n: n}, &dhtBootstrapper{kdht: n.kdht})
	})
	if err != nil {
		n.emit(Event{Type: EventBootstrapFailed, Err: err})
		if n.logs != nil {
			n.logs.Bootstrap.Logf("ATTEMPT", "failed: %v", err)
		}
		return
	}
	peers := n.bootCtl.ConnectedPeers()
	n.emit(Event{Type: EventBootstrapCompleted, Peers: peers})
	if n.logs != nil {
		n.logs.Bootstrap.Logf("STATUS", "connected to %d bootstrap peer(s), advertising %v", len(peers), n.wanAddrs())
	}

	targets, err := discoverRendezvous(ctx, n)
	if err != nil && n.logs != nil {
		n.logs.Bootstrap.Logf("STATUS", "rendezvous advertise/discovery: %v", err)
	}
	for _, p := range targets {
		if p != n.host.ID() {
			n.peers.Upsert(p, "", nil)
		}
	}
}
