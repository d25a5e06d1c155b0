package swarmnode

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/storage"
)

// EventType discriminates the swarm event loop's output events, per
// spec.md §4.1's contract ("emits events: peer-connected, peer-disconnected,
// peer-discovered, message-received on topic, direct-message-in,
// description-received, bootstrap-completed, bootstrap-failed,
// generic-network-error").
type EventType int

const (
	EventPeerConnected EventType = iota
	EventPeerDisconnected
	EventPeerDiscovered
	EventStoryReceived
	EventDirectMessageIn
	EventDescriptionReceived
	EventBootstrapCompleted
	EventBootstrapFailed
	EventNetworkError
)

// Event is the loop's single output type; only the field matching Type is
// populated. Consumers (the UI, in the out-of-scope terminal front end)
// read these off Node.Events().
type Event struct {
	Type EventType

	Peer      peer.ID
	Alias     string
	Addrs     []string
	Story     *storage.Story
	DirectMsg *DirectMessageEvent
	Desc      *NodeDescription
	Peers     []peer.ID // bootstrap-completed's connected set
	Err       error
	Relayed   bool // set on a direct-message-in that arrived via the relay engine
}

// DirectMessageEvent is the direct-message-in event payload.
type DirectMessageEvent struct {
	FromPeerID string
	FromAlias  string
	Body       string
	Timestamp  time.Time
}

// NodeDescription is what node-desc/1 answers with.
type NodeDescription struct {
	PeerID           peer.ID
	Alias            string
	X25519PublicKey  []byte
	Ed25519PublicKey []byte
}

// CommandType discriminates inbound commands, per spec.md §4.1's contract
// ("exposes commands: topic-publish, direct-send, sync-request, dial,
// handshake-send, relay-forward"). Every command is first checked against
// the circuit fabric (spec.md §4.1); a denial is reported immediately
// without touching the network.
type CommandType int

const (
	CommandPublishStory CommandType = iota
	CommandDirectSend
	CommandSyncRequest
	CommandDial
	CommandRelayForward
	CommandSubscribe
	CommandUnsubscribe
)

// Command is the loop's single input type, submitted via Node.Submit.
// Result, if non-nil, receives exactly one error (nil on success) and is
// closed afterward.
type Command struct {
	Type CommandType

	Story       *storage.Story
	TargetPeer  peer.ID
	TargetAlias string
	Body        string
	DialAddr    string
	Channel     string

	Result chan error
}

func newResult() chan error { return make(chan error, 1) }
