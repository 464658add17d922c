package passport

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Passport is the canonical account. A person holds exactly one passport no
// matter how many providers they sign in with.
type Passport struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"` // unique handle, see username.go
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProviderIdentity binds one external account to a passport. The
// (Provider, ProviderUserID) pair is unique across the whole store.
type ProviderIdentity struct {
	Provider       string         `json:"provider"`         // "github", "discord", "google"
	ProviderUserID string         `json:"provider_user_id"` // the provider's stable user id
	PassportID     string         `json:"passport_id"`
	Email          string         `json:"email"`
	Profile        map[string]any `json:"profile"` // raw profile data from the provider
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IdentityKey creates a consistent identity key from provider and external id
func IdentityKey(provider, providerUserID string) string {
	return provider + ":" + providerUserID
}

// ExternalUser is the normalized profile a provider adapter hands to the
// federation engine after a successful callback.
type ExternalUser struct {
	ID        string // provider's user id, already stringified
	Email     string
	Username  string // preferred handle, may be empty
	Name      string
	AvatarURL string
	Raw       map[string]any
}

// LinkingSession carries "who is linking" through a provider round trip.
// A session exists from Create until it is taken or purged; redemption
// deletes it, so being absent and being expired look the same to callers.
type LinkingSession struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"secret_hash"` // bcrypt hash of the token secret
	PassportID string    `json:"passport_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired returns true if the session's deadline has passed
func (s *LinkingSession) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// GenerateSecureToken returns a hex-encoded token with nbytes of entropy
func GenerateSecureToken(nbytes int) string {
	b := make([]byte, nbytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewPassportID generates a cryptographically secure passport ID
func NewPassportID() string {
	return GenerateSecureToken(16)
}
