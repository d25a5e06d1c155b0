package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := DMRequest{
		FromPeerID: "peer-a",
		FromAlias:  "alice",
		ToPeerID:   "peer-b",
		Body:       "hello",
		Timestamp:  1234,
	}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got DMRequest
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != req {
		t.Fatalf("ReadFrame = %+v, want %+v", got, req)
	}
}

func TestFrameRoundTripRelayEnvelope(t *testing.T) {
	var buf bytes.Buffer
	env := RelayEnvelope{
		MessageType:  MessageTypeRelay,
		RelayTTL:     10,
		MessageID:    "msg-1",
		TargetPeerID: "peer-b",
		TargetName:   "bob",
		EncryptedPayload: EncryptedPayload{
			Ciphertext:      []byte{1, 2, 3},
			Nonce:           []byte{4, 5, 6},
			SenderPublicKey: bytes.Repeat([]byte{0xAA}, 32),
		},
		SenderSignature: SenderSignature{
			Signature: bytes.Repeat([]byte{0xBB}, 64),
			PublicKey: bytes.Repeat([]byte{0xCC}, 32),
			Timestamp: 1700000000,
		},
		HopCount:  0,
		MaxHops:   10,
		Timestamp: 1700000000,
	}
	if err := WriteFrame(&buf, env); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got RelayEnvelope
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.MessageID != env.MessageID || !bytes.Equal(got.EncryptedPayload.Ciphertext, env.EncryptedPayload.Ciphertext) {
		t.Fatalf("ReadFrame = %+v, want %+v", got, env)
	}
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // claims ~4GiB
	var out DMRequest
	if err := ReadFrame(&buf, &out); err == nil {
		t.Fatal("ReadFrame with oversized length prefix succeeded, want error")
	}
}

func TestSignedBytesIncludesCiphertextAndTimestamp(t *testing.T) {
	env := RelayEnvelope{
		EncryptedPayload: EncryptedPayload{Ciphertext: []byte("payload")},
		Timestamp:        42,
	}
	got := env.SignedBytes()
	want := append([]byte("payload"), 0, 0, 0, 0, 0, 0, 0, 42)
	if !bytes.Equal(got, want) {
		t.Fatalf("SignedBytes = %v, want %v", got, want)
	}
}
