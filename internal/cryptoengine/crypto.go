// Package cryptoengine implements the node's signing and encryption
// primitives: detached Ed25519 signatures bound to a timestamp, and an
// authenticated ECDH-derived channel for direct-message envelopes.
//
// Identity keys are Ed25519 (shared with libp2p's peer identity). Key
// agreement uses a *dedicated* X25519 keypair deterministically derived
// from the Ed25519 seed via HKDF, rather than the Ed25519→X25519 birational
// point conversion — see DESIGN.md "Open Question decisions" for why.
package cryptoengine

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/bhagdave/p2pplay/internal/identity"
)

// x25519KDFInfo domain-separates the X25519 key-agreement keypair derived
// from the Ed25519 identity seed from any other use of that seed.
const x25519KDFInfo = "p2p-play/x25519-v1"

// dmKeyInfo domain-separates the symmetric key derived per ECDH exchange
// from any other use of the shared secret.
const dmKeyInfo = "p2p-play/dm-v1"

// defaultMaxFutureSkew bounds how far a signature's timestamp may sit in
// the future before Verify rejects it as a replay/clock-skew attack.
const defaultMaxFutureSkew = 5 * time.Minute

// Signature is a detached signature covering message||be64(timestamp).
type Signature struct {
	Signature []byte
	PublicKey []byte // raw 32-byte Ed25519 public key
	Timestamp int64  // unix seconds
}

// EncryptedPayload is the result of Encrypt: an AEAD-sealed message plus
// enough metadata for the recipient to derive the same symmetric key.
type EncryptedPayload struct {
	Ciphertext      []byte
	Nonce           []byte
	SenderPublicKey []byte // raw 32-byte X25519 public key
}

// Engine signs, verifies, encrypts, and decrypts on behalf of one local
// identity. Safe for concurrent use.
type Engine struct {
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey

	x25519Priv [32]byte
	x25519Pub  [32]byte

	maxFutureSkew time.Duration

	mu       sync.RWMutex
	peerKeys map[peer.ID][32]byte // x25519 public keys, by peer
}

// New derives an Engine from a node identity's Ed25519 seed.
func New(id *identity.Identity) (*Engine, error) {
	seed, err := id.Seed()
	if err != nil {
		return nil, newErr(KeyConversionFailed, err.Error())
	}

	signPriv := ed25519.NewKeyFromSeed(seed)
	signPub := signPriv.Public().(ed25519.PublicKey)

	x25519Priv, err := deriveX25519Scalar(seed)
	if err != nil {
		return nil, newErr(KeyConversionFailed, err.Error())
	}
	var x25519Pub [32]byte
	xp, err := curve25519.X25519(x25519Priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, newErr(KeyConversionFailed, fmt.Sprintf("derive x25519 public key: %v", err))
	}
	copy(x25519Pub[:], xp)

	return &Engine{
		signPriv:      signPriv,
		signPub:       signPub,
		x25519Priv:    x25519Priv,
		x25519Pub:     x25519Pub,
		maxFutureSkew: defaultMaxFutureSkew,
		peerKeys:      make(map[peer.ID][32]byte),
	}, nil
}

// deriveX25519Scalar derives a clamped X25519 scalar from the Ed25519 seed
// via HKDF-SHA256. Deterministic: the same identity key always yields the
// same key-agreement keypair, so it survives restarts without separate
// persistence.
func deriveX25519Scalar(seed []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, seed, nil, []byte(x25519KDFInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("hkdf expand: %w", err)
	}
	// Standard X25519 clamping (RFC 7748 §5).
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out, nil
}

// X25519PublicKey returns this node's key-agreement public key, to be
// exchanged via the node-desc/1 lane.
func (e *Engine) X25519PublicKey() []byte {
	out := make([]byte, 32)
	copy(out, e.x25519Pub[:])
	return out
}

// Ed25519PublicKey returns this node's raw signing public key.
func (e *Engine) Ed25519PublicKey() []byte {
	out := make([]byte, len(e.signPub))
	copy(out, e.signPub)
	return out
}

// AddPeerPublicKey installs a peer's X25519 key-agreement public key.
// Subsequent Encrypt calls to that peer succeed.
func (e *Engine) AddPeerPublicKey(p peer.ID, x25519Pub []byte) error {
	if len(x25519Pub) != 32 {
		return newErr(InvalidInput, fmt.Sprintf("x25519 public key must be 32 bytes, got %d", len(x25519Pub)))
	}
	var k [32]byte
	copy(k[:], x25519Pub)
	e.mu.Lock()
	e.peerKeys[p] = k
	e.mu.Unlock()
	return nil
}

// HasPeerPublicKey reports whether a key-agreement key is cached for p.
func (e *Engine) HasPeerPublicKey(p peer.ID) bool {
	e.mu.RLock()
	_, ok := e.peerKeys[p]
	e.mu.RUnlock()
	return ok
}

// Sign returns a detached signature over m||be64(timestamp) using the
// current time.
func (e *Engine) Sign(m []byte) (Signature, error) {
	ts := time.Now().Unix()
	signed := appendTimestamp(m, ts)
	sig := ed25519.Sign(e.signPriv, signed)
	return Signature{
		Signature: sig,
		PublicKey: e.Ed25519PublicKey(),
		Timestamp: ts,
	}, nil
}

// Verify recomputes m||be64(sig.Timestamp) and checks it against
// sig.PublicKey. Rejects signatures timestamped too far in the future
// (replay/clock-skew protection); does not enforce a maximum age — callers
// needing an expiry bound (e.g. the relay engine) use VerifyWithExpiry.
func (e *Engine) Verify(m []byte, sig Signature) (bool, error) {
	if len(sig.PublicKey) != ed25519.PublicKeySize {
		return false, newErr(VerificationFailed, "invalid public key length")
	}
	if time.Unix(sig.Timestamp, 0).After(time.Now().Add(e.maxFutureSkew)) {
		return false, newErr(VerificationFailed, "timestamp too far in the future")
	}
	signed := appendTimestamp(m, sig.Timestamp)
	return ed25519.Verify(ed25519.PublicKey(sig.PublicKey), signed, sig.Signature), nil
}

// VerifyWithExpiry is Verify plus an upper bound on signature age.
func (e *Engine) VerifyWithExpiry(m []byte, sig Signature, maxAge time.Duration) (bool, error) {
	if time.Since(time.Unix(sig.Timestamp, 0)) > maxAge {
		return false, newErr(VerificationFailed, "signature expired")
	}
	return e.Verify(m, sig)
}

// Encrypt seals m for recipient using ECDH(local X25519 priv, recipient
// X25519 pub) followed by HKDF-SHA256 key derivation and
// ChaCha20-Poly1305 AEAD sealing with a fresh random nonce.
//
// If recipient's public key has not been installed via AddPeerPublicKey,
// returns EncryptionFailed("Public key not found") — callers MUST translate
// this into the friendly multi-line message from spec.md §7, never surface
// it raw.
func (e *Engine) Encrypt(m []byte, recipient peer.ID) (*EncryptedPayload, error) {
	e.mu.RLock()
	recipientPub, ok := e.peerKeys[recipient]
	e.mu.RUnlock()
	if !ok {
		return nil, newErr(EncryptionFailed, ErrPublicKeyNotFound)
	}

	key, err := e.deriveSymmetricKey(recipientPub)
	if err != nil {
		return nil, newErr(EncryptionFailed, err.Error())
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, newErr(EncryptionFailed, fmt.Sprintf("init aead: %v", err))
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newErr(EncryptionFailed, fmt.Sprintf("generate nonce: %v", err))
	}

	ciphertext := aead.Seal(nil, nonce, m, nil)
	return &EncryptedPayload{
		Ciphertext:      ciphertext,
		Nonce:           nonce,
		SenderPublicKey: e.X25519PublicKey(),
	}, nil
}

// Decrypt opens an envelope addressed to the local identity. Symmetric with
// Encrypt: derives the same key via ECDH with the sender's embedded public
// key. Fails closed on tag mismatch.
func (e *Engine) Decrypt(env *EncryptedPayload) ([]byte, error) {
	if env == nil || len(env.SenderPublicKey) != 32 {
		return nil, newErr(InvalidInput, "malformed envelope")
	}

	var senderPub [32]byte
	copy(senderPub[:], env.SenderPublicKey)

	key, err := e.deriveSymmetricKey(senderPub)
	if err != nil {
		return nil, newErr(DecryptionFailed, err.Error())
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, newErr(DecryptionFailed, fmt.Sprintf("init aead: %v", err))
	}

	plain, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, newErr(DecryptionFailed, "authentication tag mismatch")
	}
	return plain, nil
}

func (e *Engine) deriveSymmetricKey(peerX25519Pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(e.x25519Priv[:], peerX25519Pub[:])
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared, nil, []byte(dmKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

func appendTimestamp(m []byte, ts int64) []byte {
	out := make([]byte, len(m)+8)
	copy(out, m)
	out[len(m)+0] = byte(ts >> 56)
	out[len(m)+1] = byte(ts >> 48)
	out[len(m)+2] = byte(ts >> 40)
	out[len(m)+3] = byte(ts >> 32)
	out[len(m)+4] = byte(ts >> 24)
	out[len(m)+5] = byte(ts >> 16)
	out[len(m)+6] = byte(ts >> 8)
	out[len(m)+7] = byte(ts)
	return out
}

// FriendlyUnreachable renders the three-line friendly message spec.md §7
// requires when Encrypt fails with EncryptionFailed("Public key not found").
// No raw crypto text ever reaches the UI through this path.
func FriendlyUnreachable(peerName string) string {
	return fmt.Sprintf(
		"Cannot send secure message to offline peer '%s'\n"+
			"Message queued - will be delivered when %s comes online and security keys are exchanged\n"+
			"Tip: both peers must be online simultaneously for secure messaging setup",
		peerName, peerName,
	)
}
