package swarmnode

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	ma "github.com/multiformats/go-multiaddr"
)

// rendezvousPoint is the DHT advertising string peers use to find each
// other once bootstrapped, grounded on shurlinet-shurli's home-node
// drouting.NewRoutingDiscovery/Advertise pattern.
const rendezvousPoint = "p2p-play/rendezvous/v1"

// discoverRendezvous advertises the local node under rendezvousPoint and
// does one round of peer discovery through it, returning whatever peers
// were found.
func discoverRendezvous(ctx context.Context, n *Node) ([]peer.ID, error) {
	if n.kdht == nil {
		return nil, fmt.Errorf("swarmnode: dht not initialized")
	}
	disc := drouting.NewRoutingDiscovery(n.kdht)
	if _, err := disc.Advertise(ctx, rendezvousPoint); err != nil {
		return nil, fmt.Errorf("swarmnode: advertise rendezvous: %w", err)
	}

	peerChan, err := disc.FindPeers(ctx, rendezvousPoint)
	if err != nil {
		return nil, fmt.Errorf("swarmnode: find peers via rendezvous: %w", err)
	}

	var found []peer.ID
	for pi := range peerChan {
		found = append(found, pi.ID)
	}
	return found, nil
}

// parsePeerID decodes a string-form Peer Identifier, as stored in
// wire.RelayEnvelope.TargetPeerID.
func parsePeerID(s string) (peer.ID, error) {
	return peer.Decode(s)
}

// parseDialAddr parses a bare multiaddr string (as accepted from a
// "connect to peer" command) into an AddrInfo.
func parseDialAddr(raw string) (*peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return nil, fmt.Errorf("swarmnode: parse dial address: %w", err)
	}
	return peer.AddrInfoFromP2pAddr(addr)
}
