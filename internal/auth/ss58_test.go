package auth

import (
	"bytes"
	"testing"
)

// knownPeerID is the well-known Alice test account address used throughout
// the Substrate ecosystem; it exercises the decode path against a real,
// independently-generated SS58 string rather than only round-tripping our
// own encoder.
const knownPeerID = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

func TestPublicKeyFromPeerID_KnownVector(t *testing.T) {
	pub, err := PublicKeyFromPeerID(knownPeerID)
	if err != nil {
		t.Fatalf("decode known peer id: %v", err)
	}
	if len(pub) != 32 {
		t.Fatalf("expected 32-byte public key, got %d", len(pub))
	}
}

func TestSS58_RoundTrip(t *testing.T) {
	pub := bytes.Repeat([]byte{0x42}, 32)

	encoded, err := EncodeSS58(42, pub)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := PublicKeyFromPeerID(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(pub, decoded) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, pub)
	}
}

func TestSS58_ChecksumBitFlipFailsDecode(t *testing.T) {
	pub := bytes.Repeat([]byte{0x07}, 32)
	encoded, err := EncodeSS58(42, pub)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Corrupt the encoded string by replacing the last character, which
	// lands in the checksum bytes, and confirm decode now fails.
	corrupted := []byte(encoded)
	last := corrupted[len(corrupted)-1]
	replacement := byte('1')
	if last == replacement {
		replacement = '2'
	}
	corrupted[len(corrupted)-1] = replacement

	if _, err := PublicKeyFromPeerID(string(corrupted)); err == nil {
		t.Fatalf("expected checksum mismatch to fail decode")
	}
}

func TestPublicKeyFromPeerID_RejectsBadPrefix(t *testing.T) {
	if _, err := PublicKeyFromPeerID("4notvalid"); err == nil {
		t.Fatalf("expected error for peer id not starting with '5'")
	}
}

func TestPublicKeyFromPeerID_RejectsShortString(t *testing.T) {
	if _, err := PublicKeyFromPeerID("5"); err == nil {
		t.Fatalf("expected error for too-short peer id")
	}
}

func TestPublicKeyFromPeerID_RejectsWrongLengthPayload(t *testing.T) {
	// A syntactically valid base58 string that does not decode to 35/36
	// bytes must be rejected.
	if _, err := PublicKeyFromPeerID("5" + "1111111111111111111111111111111111111111111111111111111111111111111111111"); err == nil {
		t.Fatalf("expected error for wrong-length payload")
	}
}
