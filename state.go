package passport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Actions carried in the OAuth state payload.
const (
	ActionLogin = "login"
	ActionLink  = "link"
)

// State rides through a provider round trip in the OAuth state parameter.
// It never carries a passport ID. Linking flows carry the opaque session
// token instead, which only the server can resolve.
type State struct {
	Action       string `json:"action"`
	RedirectTo   string `json:"redirect_to,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	Nonce        string `json:"nonce"`
}

// EncodeState signs and serializes a state payload as
// base64url(json) + "." + base64url(hmac-sha256). A missing nonce is
// filled in so every encoded state is unique.
func EncodeState(s *State, secret []byte) string {
	if s.Nonce == "" {
		s.Nonce = GenerateSecureToken(8)
	}
	payload, _ := json.Marshal(s)
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return encoded + "." + sig
}

// DecodeState verifies the signature and unpacks the payload. Tampered,
// forged and malformed values all fail the same way.
func DecodeState(raw string, secret []byte) (*State, error) {
	encoded, sigPart, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, fmt.Errorf("state missing signature")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || !hmac.Equal(mac.Sum(nil), sig) {
		return nil, fmt.Errorf("state signature mismatch")
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("state payload corrupt: %w", err)
	}
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("state payload corrupt: %w", err)
	}
	if s.Action != ActionLogin && s.Action != ActionLink {
		return nil, fmt.Errorf("unknown state action %q", s.Action)
	}
	return &s, nil
}
