package cryptoengine

import (
	"bytes"
	"testing"
	"time"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/identity"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	priv, pub, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	eng, err := New(&identity.Identity{Priv: priv, Pub: pub, ID: pid})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestSignVerifyRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	msgs := [][]byte{
		[]byte(""),
		[]byte("hello swarm"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, m := range msgs {
		sig, err := eng.Sign(m)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		ok, err := eng.Verify(m, sig)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !ok {
			t.Fatalf("Verify(%q) = false, want true", m)
		}
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	eng := newTestEngine(t)
	sig, err := eng.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, _ := eng.Verify([]byte("tampered"), sig)
	if ok {
		t.Fatal("Verify on tampered message = true, want false")
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	eng := newTestEngine(t)
	sig, err := eng.Sign([]byte("m"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig.Timestamp = time.Now().Add(time.Hour).Unix()
	ok, err := eng.Verify([]byte("m"), sig)
	if ok || err == nil {
		t.Fatalf("Verify with future timestamp = (%v, %v), want (false, non-nil)", ok, err)
	}
}

func TestVerifyWithExpiryRejectsStaleSignature(t *testing.T) {
	eng := newTestEngine(t)
	sig, err := eng.Sign([]byte("m"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig.Timestamp = time.Now().Add(-time.Hour).Unix()
	ok, err := eng.VerifyWithExpiry([]byte("m"), sig, 5*time.Minute)
	if ok || err == nil {
		t.Fatalf("VerifyWithExpiry on stale signature = (%v, %v), want (false, non-nil)", ok, err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := newTestEngine(t)
	bob := newTestEngine(t)

	alicePeer := peer.ID("alice-peer-id")
	bobPeer := peer.ID("bob-peer-id")

	if err := alice.AddPeerPublicKey(bobPeer, bob.X25519PublicKey()); err != nil {
		t.Fatalf("AddPeerPublicKey: %v", err)
	}
	if err := bob.AddPeerPublicKey(alicePeer, alice.X25519PublicKey()); err != nil {
		t.Fatalf("AddPeerPublicKey: %v", err)
	}

	plaintext := []byte("the mill is spinning")
	env, err := alice.Encrypt(plaintext, bobPeer)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(env.Ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := bob.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	alice := newTestEngine(t)
	bob := newTestEngine(t)
	bobPeer := peer.ID("bob-peer-id")

	if err := alice.AddPeerPublicKey(bobPeer, bob.X25519PublicKey()); err != nil {
		t.Fatalf("AddPeerPublicKey: %v", err)
	}

	env, err := alice.Encrypt([]byte("secret"), bobPeer)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	if _, err := bob.Decrypt(env); err == nil {
		t.Fatal("Decrypt on tampered ciphertext succeeded, want error")
	}
}

func TestEncryptWithoutPeerKeyReturnsPublicKeyNotFound(t *testing.T) {
	alice := newTestEngine(t)
	unknown := peer.ID("stranger")

	_, err := alice.Encrypt([]byte("hi"), unknown)
	if err == nil {
		t.Fatal("Encrypt to unknown peer succeeded, want error")
	}
	if !IsPublicKeyNotFound(err) {
		t.Fatalf("IsPublicKeyNotFound(%v) = false, want true", err)
	}

	msg := FriendlyUnreachable("bob")
	if !bytes.Contains([]byte(msg), []byte("Cannot send secure message to offline peer 'bob'")) {
		t.Fatalf("FriendlyUnreachable missing expected first line: %q", msg)
	}
}

func TestAddPeerPublicKeyRejectsWrongLength(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.AddPeerPublicKey(peer.ID("x"), []byte{1, 2, 3})
	if err == nil {
		t.Fatal("AddPeerPublicKey with short key succeeded, want error")
	}
}
