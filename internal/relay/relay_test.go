package relay

import (
	"testing"
	"time"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/cryptoengine"
	"github.com/bhagdave/p2pplay/internal/identity"
	"github.com/bhagdave/p2pplay/internal/wire"
)

type node struct {
	id     peer.ID
	crypto *cryptoengine.Engine
}

func newNode(t *testing.T) node {
	t.Helper()
	priv, pub, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	eng, err := cryptoengine.New(&identity.Identity{Priv: priv, Pub: pub, ID: pid})
	if err != nil {
		t.Fatalf("cryptoengine.New: %v", err)
	}
	return node{id: pid, crypto: eng}
}

func exchangeKeys(t *testing.T, a, b node) {
	t.Helper()
	if err := a.crypto.AddPeerPublicKey(b.id, b.crypto.X25519PublicKey()); err != nil {
		t.Fatalf("AddPeerPublicKey: %v", err)
	}
	if err := b.crypto.AddPeerPublicKey(a.id, a.crypto.X25519PublicKey()); err != nil {
		t.Fatalf("AddPeerPublicKey: %v", err)
	}
}

func TestForwardIncrementsHopCountAndStaysBounded(t *testing.T) {
	sender := newNode(t)
	target := newNode(t)
	exchangeKeys(t, sender, target)

	senderEngine := New(DefaultConfig(), sender.crypto, sender.id)
	env, err := senderEngine.BuildEnvelope(target.id, "target", "sender", "hello")
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}
	env.MaxHops = 2

	relayNode := newNode(t)
	relayEngine := New(DefaultConfig(), relayNode.crypto, relayNode.id)

	other := peer.ID("peer-q")
	outcome, err := relayEngine.HandleIncoming(sender.id, env, []peer.ID{other})
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if outcome.Dropped != "" {
		t.Fatalf("dropped: %v", outcome.Dropped)
	}
	if outcome.ForwardTo == nil {
		t.Fatal("expected a forwarded envelope")
	}
	if outcome.ForwardTo.HopCount != env.HopCount+1 {
		t.Fatalf("HopCount = %d, want %d", outcome.ForwardTo.HopCount, env.HopCount+1)
	}
	if outcome.ForwardTo.HopCount > outcome.ForwardTo.MaxHops {
		t.Fatalf("HopCount %d exceeds MaxHops %d", outcome.ForwardTo.HopCount, outcome.ForwardTo.MaxHops)
	}
	found := false
	for _, p := range outcome.Forwarded {
		if p == other {
			found = true
		}
	}
	if !found {
		t.Fatalf("Forwarded = %v, want to include %v", outcome.Forwarded, other)
	}
}

func TestHopLimitDropsEnvelope(t *testing.T) {
	sender := newNode(t)
	target := newNode(t)
	exchangeKeys(t, sender, target)

	senderEngine := New(DefaultConfig(), sender.crypto, sender.id)
	env, err := senderEngine.BuildEnvelope(target.id, "target", "sender", "hello")
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}
	env.MaxHops = 2
	env.HopCount = 2

	relayNode := newNode(t)
	relayEngine := New(DefaultConfig(), relayNode.crypto, relayNode.id)

	outcome, err := relayEngine.HandleIncoming(sender.id, env, []peer.ID{"peer-q"})
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if outcome.Dropped != DropHopLimit {
		t.Fatalf("Dropped = %q, want %q", outcome.Dropped, DropHopLimit)
	}
}

func TestLocalDeliveryDecryptsAndAcks(t *testing.T) {
	sender := newNode(t)
	target := newNode(t)
	exchangeKeys(t, sender, target)

	senderEngine := New(DefaultConfig(), sender.crypto, sender.id)
	env, err := senderEngine.BuildEnvelope(target.id, "target", "sender", "hello target")
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}

	targetEngine := New(DefaultConfig(), target.crypto, target.id)
	outcome, err := targetEngine.HandleIncoming(sender.id, env, nil)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if outcome.Delivered == nil {
		t.Fatal("expected delivery")
	}
	if outcome.Delivered.Body != "hello target" {
		t.Fatalf("Body = %q, want %q", outcome.Delivered.Body, "hello target")
	}
	if outcome.Ack == nil || outcome.Ack.MessageID != env.MessageID {
		t.Fatal("expected an ack envelope referencing the original message id")
	}
}

func TestReplayIsDroppedWithoutDuplicateDelivery(t *testing.T) {
	sender := newNode(t)
	target := newNode(t)
	exchangeKeys(t, sender, target)

	senderEngine := New(DefaultConfig(), sender.crypto, sender.id)
	env, err := senderEngine.BuildEnvelope(target.id, "target", "sender", "hello")
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}

	targetEngine := New(DefaultConfig(), target.crypto, target.id)
	first, err := targetEngine.HandleIncoming(sender.id, env, nil)
	if err != nil {
		t.Fatalf("first HandleIncoming: %v", err)
	}
	if first.Delivered == nil {
		t.Fatal("first delivery expected")
	}

	second, err := targetEngine.HandleIncoming(sender.id, env, nil)
	if err != nil {
		t.Fatalf("second HandleIncoming: %v", err)
	}
	if second.Dropped != DropReplay {
		t.Fatalf("second Dropped = %q, want %q", second.Dropped, DropReplay)
	}
	if second.Delivered != nil {
		t.Fatal("replay produced a second delivery event")
	}
}

func TestPendingCacheFIFOEviction(t *testing.T) {
	c := newPendingCache(2)
	c.add(&wire.RelayEnvelope{MessageID: "1"}, time.Now().Add(time.Minute))
	c.add(&wire.RelayEnvelope{MessageID: "2"}, time.Now().Add(time.Minute))
	c.add(&wire.RelayEnvelope{MessageID: "3"}, time.Now().Add(time.Minute))

	snap := c.snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}
	for _, e := range snap {
		if e.MessageID == "1" {
			t.Fatal("oldest entry should have been evicted under capacity 2")
		}
	}
}

func TestAcknowledgePendingRemovesEntry(t *testing.T) {
	sender := newNode(t)
	target := newNode(t)
	exchangeKeys(t, sender, target)

	senderEngine := New(DefaultConfig(), sender.crypto, sender.id)
	env, err := senderEngine.BuildEnvelope(target.id, "target", "sender", "hello")
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}
	senderEngine.EnqueuePending(env)
	if got := len(senderEngine.PendingSnapshot()); got != 1 {
		t.Fatalf("pending count = %d, want 1", got)
	}
	if !senderEngine.AcknowledgePending(env.MessageID) {
		t.Fatal("AcknowledgePending returned false for a known message id")
	}
	if got := len(senderEngine.PendingSnapshot()); got != 0 {
		t.Fatalf("pending count after ack = %d, want 0", got)
	}
}
