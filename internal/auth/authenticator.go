package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode is one of the closed set of auth failure codes from §7, each
// mapping to HTTP 401.
type ErrCode string

const (
	CodeMissingAuth       ErrCode = "missing_auth"
	CodeUnauthorizedHotkey ErrCode = "unauthorized_hotkey"
	CodeInvalidHotkey     ErrCode = "invalid_hotkey"
	CodeNonceReused       ErrCode = "nonce_reused"
	CodeInvalidSignature  ErrCode = "invalid_signature"
)

// AuthError is a typed authentication failure with a stable code and a
// human-readable message, used to build the {"error","message"} JSON body.
type AuthError struct {
	Code    ErrCode
	Message string
}

func (e *AuthError) Error() string { return string(e.Code) + ": " + e.Message }

func newAuthError(code ErrCode, msg string) *AuthError {
	return &AuthError{Code: code, Message: msg}
}

const (
	maxHotkeyLen    = 128
	maxNonceLen     = 256
	maxSignatureLen = 256
)

// AuthTriple is the (hotkey, nonce, signature) extracted from request
// headers.
type AuthTriple struct {
	Hotkey    string
	Nonce     string
	Signature string
}

// ExtractAuthTriple reads X-Hotkey, X-Nonce, X-Signature (case-insensitive,
// net/http normalizes header names already) and enforces the length caps
// from §4.3. A missing header of any of the three yields CodeMissingAuth.
func ExtractAuthTriple(h http.Header) (AuthTriple, error) {
	hotkey := h.Get("X-Hotkey")
	nonce := h.Get("X-Nonce")
	sig := h.Get("X-Signature")

	if hotkey == "" || nonce == "" || sig == "" {
		return AuthTriple{}, newAuthError(CodeMissingAuth, "X-Hotkey, X-Nonce and X-Signature headers are required")
	}
	if len(hotkey) > maxHotkeyLen {
		return AuthTriple{}, newAuthError(CodeMissingAuth, "X-Hotkey exceeds maximum length")
	}
	if len(nonce) > maxNonceLen {
		return AuthTriple{}, newAuthError(CodeMissingAuth, "X-Nonce exceeds maximum length")
	}
	if len(sig) > maxSignatureLen {
		return AuthTriple{}, newAuthError(CodeMissingAuth, "X-Signature exceeds maximum length")
	}

	return AuthTriple{Hotkey: hotkey, Nonce: nonce, Signature: sig}, nil
}

// Authenticator wires the whitelist and nonce store together with
// signature verification (C3).
type Authenticator struct {
	whitelist  *Whitelist
	nonceStore *NonceStore
}

// NewAuthenticator constructs an Authenticator over the given whitelist and
// nonce store.
func NewAuthenticator(w *Whitelist, n *NonceStore) *Authenticator {
	return &Authenticator{whitelist: w, nonceStore: n}
}

// Verify runs the four-step check from §4.3 in order: whitelist membership,
// PeerId structural validity, signature verification, then nonce
// consumption. Steps 1-3 always precede step 4 so a verification failure
// never consumes a nonce (invariant §3.4).
func (a *Authenticator) Verify(triple AuthTriple) error {
	if !a.whitelist.Contains(triple.Hotkey) {
		return newAuthError(CodeUnauthorizedHotkey, "hotkey is not in the current whitelist")
	}

	pubKey, err := PublicKeyFromPeerID(triple.Hotkey)
	if err != nil {
		return newAuthError(CodeInvalidHotkey, "hotkey failed SS58 structural validation")
	}

	message := []byte(triple.Hotkey + triple.Nonce)
	if err := VerifySignature(pubKey, message, triple.Signature); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return newAuthError(CodeInvalidSignature, "signature verification failed")
		}
		return newAuthError(CodeInvalidSignature, fmt.Sprintf("signature verification error: %v", err))
	}

	if !a.nonceStore.TryInsert(triple.Nonce) {
		return newAuthError(CodeNonceReused, "nonce has already been used")
	}

	return nil
}
