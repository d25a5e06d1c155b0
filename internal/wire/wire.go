// Package wire implements the node's on-the-wire framing: a length-prefixed
// binary envelope around field-tagged payloads for the three request/response
// lanes (dm/1, node-desc/1, story-sync/1) and the relay envelope.
//
// Encoding is encoding/gob under a uint32 big-endian length prefix. Neither
// protobuf nor capnp is hand-authored anywhere in the retrieval pack — both
// appear only as transitive dependencies pulled in by libp2p internals — so
// gob, the standard library's own field-tagged binary codec, is used here
// instead of fabricating a generated-looking wire format we have no
// generator for. See DESIGN.md.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame, independent of any application-level
// max_message_size on the decrypted payload it may carry. Guards against a
// malicious or buggy peer claiming a huge length prefix.
const MaxFrameSize = 8 << 20 // 8 MiB

// WriteFrame gob-encodes v and writes it to w behind a uint32 big-endian
// length prefix.
func WriteFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if buf.Len() > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", buf.Len(), MaxFrameSize)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed frame from r and gob-decodes it into v,
// which must be a pointer.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return fmt.Errorf("wire: claimed frame length %d exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read frame body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}

// Handshake is the dm/1 lane's first exchange. Per spec.md §6 it MUST match
// {app_name="p2p-play", app_version="1.0.0"} or the connection is closed.
type Handshake struct {
	AppName    string
	AppVersion string
	PeerID     string
}

const (
	AppName    = "p2p-play"
	AppVersion = "1.0.0"
)

// HandshakeResponse answers a Handshake.
type HandshakeResponse struct {
	Accepted bool
	AppName  string
}

// DMRequest is the dm/1 lane's request: deliver one direct message.
type DMRequest struct {
	FromPeerID string
	FromAlias  string
	ToPeerID   string
	Body       string
	Timestamp  int64
}

// DMResponse is the dm/1 lane's acknowledgment.
type DMResponse struct {
	Ack bool
}

// NodeDescRequest is the node-desc/1 lane's (empty) query.
type NodeDescRequest struct{}

// NodeDescResponse answers a NodeDescRequest with the responder's
// human-readable description and key-agreement public key, so the caller
// can install it via cryptoengine.AddPeerPublicKey.
type NodeDescResponse struct {
	PeerID           string
	Alias            string
	X25519PublicKey  []byte
	Ed25519PublicKey []byte
}

// WireStory is the story-sync/1 lane's wire shape for a Story.
type WireStory struct {
	ID        uint64
	Name      string
	Header    string
	Body      string
	Public    bool
	Channel   string
	CreatedAt int64
}

// WireChannel is the story-sync/1 lane's wire shape for a Channel.
type WireChannel struct {
	Name        string
	Description string
	Creator     string
	CreatedAt   int64
}

// StorySyncRequest asks the peer for everything known since SinceID.
type StorySyncRequest struct {
	SinceID uint64
}

// StorySyncResponse answers a StorySyncRequest.
type StorySyncResponse struct {
	Stories  []WireStory
	Channels []WireChannel
}

// MessageType distinguishes a fresh relay envelope from its acknowledgment,
// both carried in the same wire shape per spec.md §6.
type MessageType uint8

const (
	MessageTypeRelay MessageType = iota
	MessageTypeRelayAck
)

// EncryptedPayload is the relay envelope's ciphertext bundle.
type EncryptedPayload struct {
	Ciphertext      []byte
	Nonce           []byte
	SenderPublicKey []byte
}

// SenderSignature is the relay envelope's detached signature bundle.
type SenderSignature struct {
	Signature []byte
	PublicKey []byte
	Timestamp int64
}

// RelayEnvelope is the exact wire shape from spec.md §6, field order
// preserved as documentation even though gob encodes by name, not position.
//
// RelayTTL carries the max_hops ceiling the envelope was created with
// (config.max_ttl at construction time); MaxHops is the same value.
// The wire contract names both fields separately, so both are kept rather
// than collapsed into one.
type RelayEnvelope struct {
	MessageType      MessageType
	RelayTTL         uint32
	MessageID        string
	TargetPeerID     string
	TargetName       string
	EncryptedPayload EncryptedPayload
	SenderSignature  SenderSignature
	HopCount         uint32
	MaxHops          uint32
	Timestamp        int64
	RelayAttempt     bool
}

// SignedBytes returns the exact byte sequence the sender's signature covers:
// encrypted_payload's ciphertext || be64(timestamp), per spec.md §4.2's
// "detached signature over (encrypted_payload || timestamp)".
func (e *RelayEnvelope) SignedBytes() []byte {
	out := make([]byte, 0, len(e.EncryptedPayload.Ciphertext)+8)
	out = append(out, e.EncryptedPayload.Ciphertext...)
	ts := e.Timestamp
	out = append(out,
		byte(ts>>56), byte(ts>>48), byte(ts>>40), byte(ts>>32),
		byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts),
	)
	return out
}
