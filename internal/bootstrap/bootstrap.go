// Package bootstrap drives the DHT from NotStarted to Connected: dialing a
// user-supplied list of bootstrap multi-addresses and issuing the DHT's
// bootstrap procedure, with retry and exponential back-off (spec.md §4.5).
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// State is the controller's position in its join state machine.
type State int

const (
	NotStarted State = iota
	InProgress
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case InProgress:
		return "in-progress"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the controller's tunables, spec.md §4.5 defaults in
// parentheses.
type Config struct {
	Peers             []string // multiaddr strings
	RetryInterval     time.Duration // retry_interval_secs (30s)
	MaxRetries        int           // max_retries (10)
	InitialDelay      time.Duration // initial_delay_secs
	BackoffMultiplier float64       // backoff_multiplier (1.5)
	Enabled           bool
}

// DefaultConfig returns spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval:     30 * time.Second,
		MaxRetries:        10,
		BackoffMultiplier: 1.5,
		Enabled:           true,
	}
}

// NoBootstrapPeersError is returned (and recorded as the failure reason)
// when Config.Peers is empty.
type NoBootstrapPeersError struct{}

func (e *NoBootstrapPeersError) Error() string { return "No bootstrap peers configured" }

// MalformedPeerError is returned when a configured bootstrap address fails
// to parse as a multiaddr.
type MalformedPeerError struct {
	Raw    string
	Reason string
}

func (e *MalformedPeerError) Error() string {
	return fmt.Sprintf("malformed bootstrap peer %q: %s", e.Raw, e.Reason)
}

// Dialer connects to a parsed bootstrap multiaddr and reports the peer it
// reached. Implemented by swarmnode over a libp2p host.
type Dialer interface {
	Dial(ctx context.Context, addr multiaddr.Multiaddr) (peer.ID, error)
}

// Bootstrapper is the subset of a kad-dht instance the controller drives.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
	RoutingTableSize() int
}

// Controller owns the bootstrap state machine. Safe for concurrent use.
type Controller struct {
	cfg Config

	mu          sync.Mutex
	state       State
	attempts    int
	lastAttempt time.Time
	failReason  string
	connected   []peer.ID
}

// New constructs a controller in state NotStarted.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, state: NotStarted}
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts reports how many bootstrap attempts have been made since the
// last Reset.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// FailReason reports the reason for the most recent Failed transition, or
// "" if the controller has never failed.
func (c *Controller) FailReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failReason
}

// ConnectedPeers returns the peers reached by the most recent successful
// bootstrap.
func (c *Controller) ConnectedPeers() []peer.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]peer.ID, len(c.connected))
	copy(out, c.connected)
	return out
}

// Reset returns the controller to NotStarted, clearing attempt history.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = NotStarted
	c.attempts = 0
	c.failReason = ""
	c.connected = nil
}

// ShouldRetry reports whether a Failed controller is still eligible for
// another attempt.
func (c *Controller) ShouldRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Failed && c.attempts < c.cfg.MaxRetries
}

// NextBackoff computes retry_interval × multiplier^attempts for the
// current attempt count.
func (c *Controller) NextBackoff() time.Duration {
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	factor := math.Pow(c.cfg.BackoffMultiplier, float64(attempts))
	return time.Duration(float64(c.cfg.RetryInterval) * factor)
}

// AttemptBootstrap runs one join attempt: parses the configured peers,
// dials them with a small fan-out, and on at least one successful dial
// issues the DHT's bootstrap procedure. Transitions to Connected only once
// the DHT reports routing-table progress; otherwise Failed.
func (c *Controller) AttemptBootstrap(ctx context.Context, dialer Dialer, dht Bootstrapper) error {
	if !c.cfg.Enabled {
		return nil
	}

	if len(c.cfg.Peers) == 0 {
		c.recordFailure("No bootstrap peers configured")
		return &NoBootstrapPeersError{}
	}

	addrs := make([]multiaddr.Multiaddr, 0, len(c.cfg.Peers))
	for _, raw := range c.cfg.Peers {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			c.recordFailure(fmt.Sprintf("malformed bootstrap peer %q", raw))
			return &MalformedPeerError{Raw: raw, Reason: err.Error()}
		}
		addrs = append(addrs, addr)
	}

	c.mu.Lock()
	c.state = InProgress
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	deadline := c.NextBackoff()
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	succeeded := dialAll(attemptCtx, dialer, addrs)
	if len(succeeded) == 0 {
		c.recordFailure("no bootstrap peer could be dialed")
		return fmt.Errorf("bootstrap: no bootstrap peer could be dialed")
	}

	if err := dht.Bootstrap(attemptCtx); err != nil {
		c.recordFailure(fmt.Sprintf("dht bootstrap: %v", err))
		return fmt.Errorf("bootstrap: dht bootstrap procedure failed: %w", err)
	}

	if dht.RoutingTableSize() <= 0 {
		c.recordFailure("no routing table progress")
		return fmt.Errorf("bootstrap: no routing table progress after dial")
	}

	c.mu.Lock()
	c.state = Connected
	c.connected = succeeded
	c.attempts++
	c.failReason = ""
	c.mu.Unlock()
	return nil
}

func (c *Controller) recordFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Failed
	c.attempts++
	c.failReason = reason
}

// dialAll dials every addr concurrently, up to a small fan-out, and
// returns the peers successfully reached.
func dialAll(ctx context.Context, dialer Dialer, addrs []multiaddr.Multiaddr) []peer.ID {
	const fanout = 4

	type result struct {
		id  peer.ID
		err error
	}
	results := make(chan result, len(addrs))
	sem := make(chan struct{}, fanout)

	var wg sync.WaitGroup
	for _, addr := range addrs {
		addr := addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			id, err := dialer.Dial(ctx, addr)
			results <- result{id: id, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var succeeded []peer.ID
	for r := range results {
		if r.err == nil {
			succeeded = append(succeeded, r.id)
		}
	}
	return succeeded
}
