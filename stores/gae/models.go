//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"
	oa "github.com/federate-dev/passport"
)

// PassportEntity is the Datastore entity for passports
type PassportEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	Username    string         `datastore:"username"`
	Email       string         `datastore:"email"`
	DisplayName string         `datastore:"display_name,noindex"`
	AvatarURL   string         `datastore:"avatar_url,noindex"`
	CreatedAt   time.Time      `datastore:"created_at"`
	UpdatedAt   time.Time      `datastore:"updated_at"`
}

func (e *PassportEntity) ToPassport() *oa.Passport {
	return &oa.Passport{
		ID:          e.Key.Name,
		Username:    e.Username,
		Email:       e.Email,
		DisplayName: e.DisplayName,
		AvatarURL:   e.AvatarURL,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func PassportToEntity(p *oa.Passport, key *datastore.Key) *PassportEntity {
	return &PassportEntity{
		Key:         key,
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// IdentityEntity is the Datastore entity for provider identities.
// Key format: Provider + ":" + ProviderUserID, so the key itself enforces
// the one-passport-per-external-account rule.
type IdentityEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	Provider       string         `datastore:"provider"`
	ProviderUserID string         `datastore:"provider_user_id"`
	PassportID     string         `datastore:"passport_id"`
	Email          string         `datastore:"email"`
	Profile        []byte         `datastore:"profile,noindex"` // JSON encoded
	CreatedAt      time.Time      `datastore:"created_at"`
	UpdatedAt      time.Time      `datastore:"updated_at"`
}

func (e *IdentityEntity) ToIdentity() *oa.ProviderIdentity {
	var profile map[string]any
	if e.Profile != nil {
		json.Unmarshal(e.Profile, &profile)
	}
	return &oa.ProviderIdentity{
		Provider:       e.Provider,
		ProviderUserID: e.ProviderUserID,
		PassportID:     e.PassportID,
		Email:          e.Email,
		Profile:        profile,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func IdentityToEntity(i *oa.ProviderIdentity, key *datastore.Key) *IdentityEntity {
	var profileBytes []byte
	if i.Profile != nil {
		profileBytes, _ = json.Marshal(i.Profile)
	}
	return &IdentityEntity{
		Key:            key,
		Provider:       i.Provider,
		ProviderUserID: i.ProviderUserID,
		PassportID:     i.PassportID,
		Email:          i.Email,
		Profile:        profileBytes,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// UsernameEntity is the Datastore entity reserving a username.
// Key is the username, reservation is won by whoever commits the key first.
type UsernameEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	PassportID string         `datastore:"passport_id"`
	CreatedAt  time.Time      `datastore:"created_at"`
}

// LinkingSessionEntity is the Datastore entity for linking sessions.
// Key is the session ID.
type LinkingSessionEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	SecretHash string         `datastore:"secret_hash,noindex"`
	PassportID string         `datastore:"passport_id"`
	CreatedAt  time.Time      `datastore:"created_at"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
}

func (e *LinkingSessionEntity) ToLinkingSession() *oa.LinkingSession {
	return &oa.LinkingSession{
		ID:         e.Key.Name,
		SecretHash: e.SecretHash,
		PassportID: e.PassportID,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
	}
}
