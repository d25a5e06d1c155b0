// Package relay implements the message relay engine: envelope
// construction, replay-protected forwarding, and store-and-forward for
// peers that are temporarily unreachable (spec.md §4.2).
package relay

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/cryptoengine"
	"github.com/bhagdave/p2pplay/internal/wire"
)

// Config holds the relay engine's tunables, spec.md §4.2 defaults in
// parentheses.
type Config struct {
	MaxHops          uint32        // max_ttl (10)
	MaxMessageSize   int           // max_message_size (1 MiB)
	RelayTimeout     time.Duration // relay_timeout_secs (300 s) — seen-set entry lifetime
	MaxPendingRelays int           // max_pending_relays (1000)
	ForwardFanout    int           // how many connected peers (other than sender) to forward to
}

// DefaultConfig returns spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxHops:          10,
		MaxMessageSize:    1 << 20,
		RelayTimeout:      300 * time.Second,
		MaxPendingRelays:  1000,
		ForwardFanout:     3,
	}
}

// DropReason names why an envelope was discarded rather than forwarded or
// delivered, matching the state machine in spec.md §4.2
// ("Created → Signed → {Local-Deliver | Forwarded | Dropped(reason)}").
type DropReason string

const (
	DropReplay         DropReason = "replay"
	DropOversized      DropReason = "oversized"
	DropBadSignature   DropReason = "bad signature"
	DropHopLimit       DropReason = "hop limit"
)

// Delivered is returned by HandleIncoming when an envelope's target is the
// local identity and it decrypted cleanly.
type Delivered struct {
	FromPeerID string
	FromAlias  string
	Body       string
	Timestamp  int64
}

// RelayedMessage is the plaintext sealed inside an envelope's
// EncryptedPayload.
type RelayedMessage struct {
	FromPeerID string
	FromAlias  string
	Body       string
	Timestamp  int64
}

// Outcome is the result of processing one inbound envelope, for callers
// that want to log or test against the exact disposition.
type Outcome struct {
	Delivered *Delivered
	Forwarded []peer.ID
	ForwardTo *wire.RelayEnvelope // the envelope to send on, already hop-incremented
	Dropped   DropReason          // empty if not dropped
	Ack       *wire.RelayEnvelope // set when Delivered != nil: send this back to the sender
}

// Engine turns plaintext into signed, encrypted relay envelopes and
// processes incoming ones. Crypto is the only dependency beyond configuration and the
// local peer id.
type Engine struct {
	cfg    Config
	crypto *cryptoengine.Engine
	local  peer.ID

	seen    *seenSet
	pending *pendingCache
}

// New constructs a relay engine for the local identity.
func New(cfg Config, crypto *cryptoengine.Engine, local peer.ID) *Engine {
	return &Engine{
		cfg:     cfg,
		crypto:  crypto,
		local:   local,
		seen:    newSeenSet(),
		pending: newPendingCache(cfg.MaxPendingRelays),
	}
}

// BuildEnvelope signs and encrypts body for delivery to target, producing a
// fresh envelope at hop_count=0. This is the "Created → Signed" portion of
// the per-envelope state machine; the caller decides whether to attempt a
// direct send first or go straight to relay.
func (e *Engine) BuildEnvelope(target peer.ID, targetName, fromAlias, body string) (*wire.RelayEnvelope, error) {
	now := time.Now()
	msg := RelayedMessage{
		FromPeerID: e.local.String(),
		FromAlias:  fromAlias,
		Body:       body,
		Timestamp:  now.Unix(),
	}
	var plain bytes.Buffer
	if err := gob.NewEncoder(&plain).Encode(msg); err != nil {
		return nil, fmt.Errorf("relay: encode message: %w", err)
	}

	enc, err := e.crypto.Encrypt(plain.Bytes(), target)
	if err != nil {
		return nil, err // callers must check cryptoengine.IsPublicKeyNotFound
	}

	env := &wire.RelayEnvelope{
		MessageType:  wire.MessageTypeRelay,
		RelayTTL:     e.cfg.MaxHops,
		MessageID:    uuid.NewString(),
		TargetPeerID: target.String(),
		TargetName:   targetName,
		EncryptedPayload: wire.EncryptedPayload{
			Ciphertext:      enc.Ciphertext,
			Nonce:           enc.Nonce,
			SenderPublicKey: enc.SenderPublicKey,
		},
		HopCount:  0,
		MaxHops:   e.cfg.MaxHops,
		Timestamp: now.Unix(),
	}

	sig, err := e.crypto.Sign(env.SignedBytes())
	if err != nil {
		return nil, err
	}
	env.SenderSignature = wire.SenderSignature{
		Signature: sig.Signature,
		PublicKey: sig.PublicKey,
		Timestamp: sig.Timestamp,
	}
	return env, nil
}

// EnqueuePending stores a locally-originated envelope whose direct send
// failed, for retry when a new peer connects. This is the "Pending" branch
// of the per-envelope state machine.
func (e *Engine) EnqueuePending(env *wire.RelayEnvelope) {
	e.pending.add(env, time.Unix(env.Timestamp, 0).Add(e.cfg.RelayTimeout))
}

// PendingSnapshot returns every envelope still awaiting delivery, for the
// caller to retry against a newly-connected peer.
func (e *Engine) PendingSnapshot() []*wire.RelayEnvelope {
	return e.pending.snapshot()
}

// AcknowledgePending removes messageID from the pending cache because an
// acknowledgment envelope arrived for it.
func (e *Engine) AcknowledgePending(messageID string) bool {
	return e.pending.remove(messageID)
}

// GC sweeps both the seen set and the pending cache for expired entries.
// Called from the swarm's maintenance tick.
func (e *Engine) GC(now time.Time) (expiredPending []*wire.RelayEnvelope) {
	e.seen.gc(now)
	return e.pending.evictExpired(now)
}

// HandleIncoming implements the forwarding contract of spec.md §4.2 for an
// envelope received from peer from. connected lists currently connected
// peers other than from, used as forward candidates.
func (e *Engine) HandleIncoming(from peer.ID, env *wire.RelayEnvelope, connected []peer.ID) (*Outcome, error) {
	expiresAt := time.Unix(env.Timestamp, 0).Add(e.cfg.RelayTimeout)
	if !e.seen.checkAndAdd(env.MessageID, expiresAt) {
		return &Outcome{Dropped: DropReplay}, nil
	}

	if len(env.EncryptedPayload.Ciphertext) > e.cfg.MaxMessageSize {
		return &Outcome{Dropped: DropOversized}, nil
	}

	sig := cryptoengine.Signature{
		Signature: env.SenderSignature.Signature,
		PublicKey: env.SenderSignature.PublicKey,
		Timestamp: env.SenderSignature.Timestamp,
	}
	ok, err := e.crypto.VerifyWithExpiry(env.SignedBytes(), sig, e.cfg.RelayTimeout)
	if err != nil || !ok {
		return &Outcome{Dropped: DropBadSignature}, nil
	}

	if env.TargetPeerID == e.local.String() {
		plain, err := e.crypto.Decrypt(&cryptoengine.EncryptedPayload{
			Ciphertext:      env.EncryptedPayload.Ciphertext,
			Nonce:           env.EncryptedPayload.Nonce,
			SenderPublicKey: env.EncryptedPayload.SenderPublicKey,
		})
		if err != nil {
			return &Outcome{Dropped: DropBadSignature}, nil
		}
		var msg RelayedMessage
		if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&msg); err != nil {
			return &Outcome{Dropped: DropBadSignature}, nil
		}

		ack := &wire.RelayEnvelope{
			MessageType:  wire.MessageTypeRelayAck,
			MessageID:    env.MessageID,
			TargetPeerID: from.String(),
			Timestamp:    time.Now().Unix(),
		}
		return &Outcome{
			Delivered: &Delivered{
				FromPeerID: msg.FromPeerID,
				FromAlias:  msg.FromAlias,
				Body:       msg.Body,
				Timestamp:  msg.Timestamp,
			},
			Ack: ack,
		}, nil
	}

	if env.HopCount >= env.MaxHops {
		return &Outcome{Dropped: DropHopLimit}, nil
	}

	forwardEnv := *env
	forwardEnv.HopCount = env.HopCount + 1

	targets := selectForwardTargets(connected, e.cfg.ForwardFanout)
	return &Outcome{Forwarded: targets, ForwardTo: &forwardEnv}, nil
}

// selectForwardTargets picks up to fanout peers from connected (which must
// already exclude the envelope's sender).
func selectForwardTargets(connected []peer.ID, fanout int) []peer.ID {
	if fanout <= 0 || fanout >= len(connected) {
		out := make([]peer.ID, len(connected))
		copy(out, connected)
		return out
	}
	out := make([]peer.ID, fanout)
	copy(out, connected[:fanout])
	return out
}
