package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

type fakeDialer struct {
	fail map[string]bool
}

func (d *fakeDialer) Dial(ctx context.Context, addr multiaddr.Multiaddr) (peer.ID, error) {
	if d.fail[addr.String()] {
		return "", errors.New("dial refused")
	}
	return peer.ID("peer-" + addr.String()), nil
}

type fakeDHT struct {
	bootstrapErr error
	tableSize    int
}

func (d *fakeDHT) Bootstrap(ctx context.Context) error { return d.bootstrapErr }
func (d *fakeDHT) RoutingTableSize() int                { return d.tableSize }

func TestNoBootstrapPeersFailsFast(t *testing.T) {
	c := New(DefaultConfig())
	err := c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{tableSize: 1})

	var noPeers *NoBootstrapPeersError
	if !errors.As(err, &noPeers) {
		t.Fatalf("err = %v, want *NoBootstrapPeersError", err)
	}
	if c.State() != Failed {
		t.Fatalf("state = %v, want Failed", c.State())
	}
	if c.Attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", c.Attempts())
	}
}

func TestMalformedPeerReturnsStructuredError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"not-a-multiaddr"}
	c := New(cfg)

	err := c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{tableSize: 1})
	var malformed *MalformedPeerError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedPeerError", err)
	}
}

func TestSuccessfulBootstrapTransitionsToConnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"}
	c := New(cfg)

	err := c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{tableSize: 3})
	if err != nil {
		t.Fatalf("AttemptBootstrap: %v", err)
	}
	if c.State() != Connected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	if len(c.ConnectedPeers()) != 1 {
		t.Fatalf("connected peers = %d, want 1", len(c.ConnectedPeers()))
	}
}

func TestNoRoutingProgressFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"}
	c := New(cfg)

	err := c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{tableSize: 0})
	if err == nil {
		t.Fatal("expected error when routing table shows no progress")
	}
	if c.State() != Failed {
		t.Fatalf("state = %v, want Failed", c.State())
	}
}

func TestShouldRetryRespectsMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Peers = []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"}
	c := New(cfg)
	dht := &fakeDHT{tableSize: 0}

	for i := 0; i < 2; i++ {
		_ = c.AttemptBootstrap(context.Background(), &fakeDialer{}, dht)
	}
	if c.ShouldRetry() {
		t.Fatal("ShouldRetry = true after reaching max_retries, want false")
	}
}

func TestResetReturnsToNotStarted(t *testing.T) {
	c := New(DefaultConfig())
	_ = c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{tableSize: 1})
	c.Reset()
	if c.State() != NotStarted {
		t.Fatalf("state after Reset = %v, want NotStarted", c.State())
	}
	if c.Attempts() != 0 {
		t.Fatalf("attempts after Reset = %d, want 0", c.Attempts())
	}
}

func TestNextBackoffGrowsWithAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Second
	cfg.BackoffMultiplier = 2
	cfg.Peers = []string{"bad"}
	c := New(cfg)

	first := c.NextBackoff()
	_ = c.AttemptBootstrap(context.Background(), &fakeDialer{}, &fakeDHT{})
	second := c.NextBackoff()
	if second <= first {
		t.Fatalf("backoff did not grow: first=%v second=%v", first, second)
	}
}
