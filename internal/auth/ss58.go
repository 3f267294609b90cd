package auth

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidPeerID is returned when a string fails SS58 structural
// validation: wrong alphabet, wrong length, or a checksum mismatch.
var ErrInvalidPeerID = errors.New("invalid peer id")

const ss58ChecksumPrefix = "SS58PRE"

// PublicKeyFromPeerID decodes a printable PeerId (SS58 address) into its
// embedded 32-byte public key, validating the structural rules in §3: the
// string must start with '5', be at least 2 characters, decode from the
// base58 alphabet to a 35- or 36-byte payload, and its trailing 2 bytes
// must match the Blake2b-512 checksum over "SS58PRE" || prefix || pubkey.
func PublicKeyFromPeerID(peerID string) ([]byte, error) {
	if len(peerID) < 2 || peerID[0] != '5' {
		return nil, ErrInvalidPeerID
	}

	raw, err := base58.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}

	var prefixLen int
	switch len(raw) {
	case 35:
		prefixLen = 1
	case 36:
		prefixLen = 2
	default:
		return nil, ErrInvalidPeerID
	}

	prefix := raw[:prefixLen]
	pubKey := raw[prefixLen : prefixLen+32]
	checksum := raw[prefixLen+32:]

	want, err := ss58Checksum(prefix, pubKey)
	if err != nil {
		return nil, err
	}
	if checksum[0] != want[0] || checksum[1] != want[1] {
		return nil, ErrInvalidPeerID
	}

	out := make([]byte, 32)
	copy(out, pubKey)
	return out, nil
}

// EncodeSS58 renders a 32-byte public key as an SS58 address under the
// given network prefix (42 is the generic Substrate prefix).
func EncodeSS58(prefix byte, pubKey []byte) (string, error) {
	if len(pubKey) != 32 {
		return "", fmt.Errorf("public key must be 32 bytes, got %d", len(pubKey))
	}
	prefixBytes := []byte{prefix}
	checksum, err := ss58Checksum(prefixBytes, pubKey)
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, 1+32+2)
	payload = append(payload, prefixBytes...)
	payload = append(payload, pubKey...)
	payload = append(payload, checksum[:2]...)
	return base58.Encode(payload), nil
}

func ss58Checksum(prefix, pubKey []byte) ([2]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return [2]byte{}, fmt.Errorf("blake2b: %w", err)
	}
	h.Write([]byte(ss58ChecksumPrefix))
	h.Write(prefix)
	h.Write(pubKey)
	digest := h.Sum(nil)
	var out [2]byte
	copy(out[:], digest[:2])
	return out, nil
}
