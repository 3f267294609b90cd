package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ChainSafe/go-schnorrkel"
)

// ErrInvalidSignature covers every way a signature fails to verify: bad hex,
// wrong length, or a genuine cryptographic mismatch. Callers must not
// distinguish these cases in logs at info level (§4.3) to avoid leaking
// signature material.
var ErrInvalidSignature = errors.New("invalid signature")

const signingContext = "substrate"

// VerifySignature checks a hex-encoded (optionally 0x-prefixed) sr25519
// Schnorrkel signature over message, produced by the holder of pubKey under
// the fixed signing context "substrate".
func VerifySignature(pubKey []byte, message []byte, sigHex string) error {
	sigHex = strings.TrimPrefix(sigHex, "0x")
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("%w: signature must be 64 bytes, got %d", ErrInvalidSignature, len(sigBytes))
	}
	if len(pubKey) != 32 {
		return fmt.Errorf("%w: public key must be 32 bytes, got %d", ErrInvalidSignature, len(pubKey))
	}

	var sigArr [64]byte
	copy(sigArr[:], sigBytes)
	var sig schnorrkel.Signature
	if err := sig.Decode(sigArr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var pubArr [32]byte
	copy(pubArr[:], pubKey)
	var pub schnorrkel.PublicKey
	if err := pub.Decode(pubArr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	transcript := schnorrkel.NewSigningContext([]byte(signingContext), message)
	ok, err := pub.Verify(&sig, transcript)
	if err != nil || !ok {
		return ErrInvalidSignature
	}
	return nil
}
