// Package identity owns the node's persisted keypair and the Peer
// Identifier derived from it.
//
// The Peer Identifier is a deterministic function of the public key (a
// multihash, via libp2p's peer.ID) and is never reassigned once the keypair
// is loaded or generated.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is the node's signing keypair and derived Peer Identifier.
// Constructed once in main and threaded through by reference; it is never
// stored as a package-level global.
type Identity struct {
	Priv p2pcrypto.PrivKey
	Pub  p2pcrypto.PubKey
	ID   peer.ID
}

// LoadOrCreate loads a persisted Ed25519 identity key from keyFile, or
// generates a new one and saves it on first run. Returns the identity and
// whether a new key was generated.
func LoadOrCreate(keyFile string) (*Identity, bool, error) {
	priv, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, false, err
	}
	pub := priv.GetPublic()
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, false, fmt.Errorf("derive peer id: %w", err)
	}
	return &Identity{Priv: priv, Pub: pub, ID: pid}, isNew, nil
}

func loadOrCreateKey(keyFile string) (p2pcrypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := p2pcrypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		// Corrupt key file — fall through and regenerate.
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, fmt.Errorf("generate identity key: %w", err)
	}

	raw, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0o600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// Seed returns the 32-byte Ed25519 private seed backing this identity. Used
// only to derive the node's X25519 key-agreement keypair (see
// internal/cryptoengine); never transmitted.
func (id *Identity) Seed() ([]byte, error) {
	raw, err := id.Priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("extract raw private key: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("unexpected ed25519 key length %d", len(raw))
	}
	// libp2p's Ed25519 PrivKey.Raw() returns the 64-byte "seed||public"
	// form used by crypto/ed25519; the first 32 bytes are the seed.
	seed := make([]byte, 32)
	copy(seed, raw[:32])
	return seed, nil
}
