// Package swarmnode implements the swarm event loop (spec.md §4.1): one
// libp2p host multiplexing local discovery, a DHT, a gossip topic, and
// three request/response lanes, gated end-to-end by the circuit fabric and
// fed by the relay engine and crypto service.
//
// Grounded on the teacher's internal/p2p/node.go (host construction, mDNS
// notifee, GossipSub join/subscribe, address filtering), internal/p2p/relay.go
// (recovery-loop shape, adapted into the maintenance tick), and
// internal/entangle/manager.go (persistent stream pattern, generalized into
// the keep-alive lane).
package swarmnode

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/bhagdave/p2pplay/internal/applog"
	"github.com/bhagdave/p2pplay/internal/bootstrap"
	"github.com/bhagdave/p2pplay/internal/circuit"
	"github.com/bhagdave/p2pplay/internal/config"
	"github.com/bhagdave/p2pplay/internal/cryptoengine"
	"github.com/bhagdave/p2pplay/internal/identity"
	"github.com/bhagdave/p2pplay/internal/relay"
	"github.com/bhagdave/p2pplay/internal/state"
	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/util"
)

// recentEventsCapacity bounds how many past events a newly attached UI can
// replay via RecentEvents.
const recentEventsCapacity = 128

func init() {
	// Silence noisy libp2p subsystems, exactly as the teacher's
	// internal/p2p/node.go init() does.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("relay", "info")
	logging.SetLogLevel("autorelay", "info")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("dht", "warn")
}

// Named circuits, per spec.md §4.4's "at least" list.
const (
	CircuitPeerConnection   = "peer_connection"
	CircuitMessageBroadcast = "message_broadcast"
	CircuitDirectMessage    = "direct_message"
	CircuitStoryPublish     = "story_publish"
	CircuitDHTBootstrap     = "dht_bootstrap"
)

// Node owns the single composed libp2p host and every protocol bound to
// it. Exactly one goroutine (runCommandLoop) drives the event loop; all mutation of
// network state happens there or inside libp2p's own internally-locked
// data structures. Other goroutines communicate only via Submit/Events.
type Node struct {
	host  host.Host
	alias string

	cfg     config.Config
	crypto  *cryptoengine.Engine
	circuit *circuit.Fabric
	relayEn *relay.Engine
	bootCtl *bootstrap.Controller
	db      *storage.DB
	logs    *applog.Set

	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	kdht  *dht.IpfsDHT

	gater *connGater

	peers    *state.Registry
	throttle *state.ThrottleCache

	cmds         chan Command
	events       chan Event
	recentEvents *util.RingBuffer[Event]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time

	subsMu        sync.Mutex
	subscriptions map[string]bool

	handshakeMu   sync.Mutex
	handshakeDone map[peer.ID]bool
}

// Deps bundles the leaf components the event loop composes, constructed by
// cmd/p2pplay/main.go in leaf-first order and passed in by reference
// (spec.md §9 "Global mutable singletons" — no package-level state here).
type Deps struct {
	Identity *identity.Identity
	Alias    string
	Config   config.Config
	Crypto   *cryptoengine.Engine
	Circuit  *circuit.Fabric
	Relay    *relay.Engine
	Bootctl  *bootstrap.Controller
	DB       *storage.DB
	Logs     *applog.Set
}

// New constructs the host and every bound protocol, but does not start the
// event loop — call Run for that.
func New(ctx context.Context, deps Deps) (*Node, error) {
	nodeCtx, cancel := context.WithCancel(ctx)

	opts := []libp2p.Option{
		libp2p.Identity(deps.Identity.Priv),
		libp2p.ListenAddrStrings(deps.Config.Network.ListenAddr),
	}

	n := &Node{
		alias:         deps.Alias,
		cfg:           deps.Config,
		crypto:        deps.Crypto,
		circuit:       deps.Circuit,
		relayEn:       deps.Relay,
		bootCtl:       deps.Bootctl,
		db:            deps.DB,
		logs:          deps.Logs,
		peers:         state.NewRegistry(),
		throttle:      state.NewThrottleCache(),
		cmds:          make(chan Command, 64),
		events:        make(chan Event, 256),
		recentEvents:  util.NewRingBuffer[Event](recentEventsCapacity),
		ctx:           nodeCtx,
		cancel:        cancel,
		startTime:     time.Now(),
		subscriptions: make(map[string]bool),
		handshakeDone: make(map[peer.ID]bool),
	}

	if subs, err := deps.DB.ListSubscriptions(nodeCtx); err == nil {
		for _, ch := range subs {
			n.subscriptions[ch] = true
		}
	}

	n.gater = newConnGater(n)
	opts = append(opts, libp2p.ConnectionGater(n.gater))

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("swarmnode: create host: %w", err)
	}
	n.host = h

	h.Network().Notify(n.gater.notifiee())

	if err := n.setupLanes(); err != nil {
		_ = h.Close()
		cancel()
		return nil, err
	}

	if err := n.setupGossip(nodeCtx); err != nil {
		_ = h.Close()
		cancel()
		return nil, err
	}

	if err := n.setupDiscovery(nodeCtx); err != nil {
		_ = h.Close()
		cancel()
		return nil, err
	}

	if err := n.setupDHT(nodeCtx); err != nil {
		_ = h.Close()
		cancel()
		return nil, err
	}

	return n, nil
}

// ID returns the node's Peer Identifier.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Host exposes the underlying libp2p host for components (keep-alive,
// bootstrap dialer adapter) that need direct access.
func (n *Node) Host() host.Host { return n.host }

// Uptime reports how long the node has been running.
func (n *Node) Uptime() time.Duration { return time.Since(n.startTime) }

// Events returns the channel the UI (or any consumer) reads loop output
// from. Never closed while the node is running; closed after Close.
func (n *Node) Events() <-chan Event { return n.events }

// Submit enqueues a command for the event loop. Blocks if the command
// queue is full (bounded-channel backpressure, per spec.md §5).
func (n *Node) Submit(ctx context.Context, cmd Command) error {
	select {
	case n.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.ctx.Done():
		return fmt.Errorf("swarmnode: node shut down")
	}
}

// Do submits cmd and blocks for its result, filling in a Result channel if
// the caller didn't supply one. Convenience wrapper over Submit for callers
// that want a synchronous call/response.
func (n *Node) Do(ctx context.Context, cmd Command) error {
	if cmd.Result == nil {
		cmd.Result = newResult()
	}
	if err := n.Submit(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.Result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the event loop and every background task (gossip receive,
// maintenance tick, bootstrap). Blocks until ctx is cancelled or Close is
// called.
func (n *Node) Run(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runGossipLoop()
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runMaintenanceLoop()
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runKeepAlive()
	}()

	n.runCommandLoop(ctx)
}

// runCommandLoop is the single task that owns outbound network actions:
// it never blocks on the network without a deadline, and every command is
// gated by the circuit fabric before anything is dialed or written.
func (n *Node) runCommandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.ctx.Done():
			return
		case cmd := <-n.cmds:
			n.dispatch(ctx, cmd)
		}
	}
}

func (n *Node) dispatch(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Type {
	case CommandPublishStory:
		err = n.handlePublishStory(ctx, cmd)
	case CommandDirectSend:
		err = n.handleDirectSend(ctx, cmd)
	case CommandSyncRequest:
		err = n.handleSyncRequest(ctx, cmd)
	case CommandDial:
		err = n.handleDial(ctx, cmd)
	case CommandRelayForward:
		err = n.handleRelayForward(ctx, cmd)
	case CommandSubscribe:
		if err = n.db.UpsertSubscription(ctx, cmd.Channel); err == nil {
			n.subsMu.Lock()
			n.subscriptions[cmd.Channel] = true
			n.subsMu.Unlock()
		}
	case CommandUnsubscribe:
		if err = n.db.RemoveSubscription(ctx, cmd.Channel); err == nil {
			n.subsMu.Lock()
			delete(n.subscriptions, cmd.Channel)
			n.subsMu.Unlock()
		}
	default:
		err = fmt.Errorf("swarmnode: unknown command type %v", cmd.Type)
	}
	if cmd.Result != nil {
		cmd.Result <- err
		close(cmd.Result)
	}
}

// emit delivers an event to consumers, dropping it rather than blocking
// the event loop if the consumer has fallen behind — the same
// "best-effort, bounded" policy the teacher's chat.Manager applies to its
// SSE listener channels.
func (n *Node) emit(evt Event) {
	n.recentEvents.Push(evt)
	select {
	case n.events <- evt:
	default:
		log.Printf("swarmnode: event channel full, dropping %v", evt.Type)
	}
}

// RecentEvents returns the last events the loop emitted, oldest first —
// a replay buffer for a UI that attaches after the loop has already been
// running for a while.
func (n *Node) RecentEvents() []Event { return n.recentEvents.Snapshot() }

// emitNetworkError is the translation point spec.md §7 requires: subsystem
// errors become a user-visible NetworkError event, logged to the dedicated
// network log file rather than stdout.
func (n *Node) emitNetworkError(where string, err error) {
	if n.logs != nil {
		n.logs.Network.Logf("ERROR", "%s: %v", where, err)
	}
	n.emit(Event{Type: EventNetworkError, Err: fmt.Errorf("%s: %w", where, err)})
}

// Close shuts down every background task and the libp2p host. Shutdown
// propagates from here: subtasks observe ctx.Done() at their next
// suspension point (spec.md §5).
func (n *Node) Close() error {
	n.cancel()
	n.wg.Wait()
	close(n.events)
	if n.kdht != nil {
		_ = n.kdht.Close()
	}
	return n.host.Close()
}

// connectedPeersExcept returns every currently-connected peer other than
// except, used as relay forward candidates (spec.md §4.2 step 5).
func (n *Node) connectedPeersExcept(except peer.ID) []peer.ID {
	all := n.host.Network().Peers()
	out := make([]peer.ID, 0, len(all))
	for _, p := range all {
		if p != except {
			out = append(out, p)
		}
	}
	return out
}

// wanAddrs returns the host's non-loopback, non-link-local multiaddresses,
// the set reported in the bootstrap log — grounded on the teacher's
// Node.wanAddrs in internal/p2p/node.go.
func (n *Node) wanAddrs() []string {
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		if ip, err := manet.ToIP(a); err == nil && (ip.IsLoopback() || ip.IsLinkLocalUnicast()) {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// mdnsNotifee bridges mDNS peer-found callbacks into the event loop,
// grounded on the teacher's identical mdnsNotifee in internal/p2p/node.go.
type mdnsNotifee struct {
	n *Node
}

func (mn *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	addrs := make([]string, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		addrs = append(addrs, a.String())
	}
	mn.n.peers.Upsert(pi.ID, "", addrs)
	mn.n.emit(Event{Type: EventPeerDiscovered, Peer: pi.ID, Addrs: addrs})

	if !mn.n.circuit.CanExecute(CircuitPeerConnection) {
		return
	}
	if !mn.n.throttle.Allow(pi.ID, time.Now()) {
		return
	}
	mn.n.throttle.RecordAttempt(pi.ID, time.Now())

	dialCtx, cancel := context.WithTimeout(mn.n.ctx, connectTimeout(mn.n.cfg))
	defer cancel()
	err := mn.n.circuit.Execute(dialCtx, CircuitPeerConnection, func(ctx context.Context) error {
		return mn.n.host.Connect(ctx, pi)
	})
	if err != nil {
		mn.n.emitNetworkError("mdns connect", err)
		return
	}
	mn.n.throttle.RecordSuccess(pi.ID, time.Now())
}

func (n *Node) setupDiscovery(ctx context.Context) error {
	svc := mdns.NewMdnsService(n.host, n.cfg.Network.MdnsTag, &mdnsNotifee{n: n})
	return svc.Start()
}

func (n *Node) setupDHT(ctx context.Context) error {
	kdht, err := dht.New(ctx, n.host, dht.Mode(dht.ModeServer))
	if err != nil {
		return fmt.Errorf("swarmnode: create dht: %w", err)
	}
	n.kdht = kdht
	return nil
}

func connectTimeout(cfg config.Config) time.Duration {
	secs := cfg.Network.ConnectionEstablishmentTimeoutSeconds
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// Protocol IDs: the three exact strings spec.md §6 names (dm, node-desc,
// story-sync), plus relay and keep-alive, which spec.md §6 doesn't assign a
// wire identifier of their own — see DESIGN.md.
const (
	ProtoDM        = protocol.ID("/dm/1.0.0")
	ProtoNodeDesc  = protocol.ID("/node-desc/1.0.0")
	ProtoStorySync = protocol.ID("/story-sync/1.0.0")
	ProtoRelay     = protocol.ID("/relay/1.0.0")
	ProtoKeepAlive = protocol.ID("/keep-alive/1.0.0")
)

var _ network.Notifiee = (*connNotifiee)(nil)
