//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	oa "github.com/federate-dev/passport"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// PassportModel is the GORM model for passports
type PassportModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Username    string    `gorm:"size:64;uniqueIndex"`
	Email       string    `gorm:"size:255;index"`
	DisplayName string    `gorm:"size:255"`
	AvatarURL   string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (PassportModel) TableName() string {
	return "passports"
}

func (m *PassportModel) ToPassport() *oa.Passport {
	return &oa.Passport{
		ID:          m.ID,
		Username:    m.Username,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func PassportToModel(p *oa.Passport) *PassportModel {
	return &PassportModel{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// IdentityModel is the GORM model for provider identities. The composite
// unique index carries the "one passport per external account" rule.
type IdentityModel struct {
	Provider       string    `gorm:"primaryKey;size:32;uniqueIndex:idx_provider_uid"`
	ProviderUserID string    `gorm:"primaryKey;size:255;uniqueIndex:idx_provider_uid"`
	PassportID     string    `gorm:"size:64;index"`
	Email          string    `gorm:"size:255"`
	Profile        JSONMap   `gorm:"type:jsonb"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (IdentityModel) TableName() string {
	return "provider_identities"
}

func (m *IdentityModel) ToIdentity() *oa.ProviderIdentity {
	return &oa.ProviderIdentity{
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		PassportID:     m.PassportID,
		Email:          m.Email,
		Profile:        m.Profile,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func IdentityToModel(i *oa.ProviderIdentity) *IdentityModel {
	return &IdentityModel{
		Provider:       i.Provider,
		ProviderUserID: i.ProviderUserID,
		PassportID:     i.PassportID,
		Email:          i.Email,
		Profile:        JSONMap(i.Profile),
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// LinkingSessionModel is the GORM model for linking sessions
type LinkingSessionModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	SecretHash string    `gorm:"size:128"`
	PassportID string    `gorm:"size:64;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (LinkingSessionModel) TableName() string {
	return "linking_sessions"
}

func (m *LinkingSessionModel) ToLinkingSession() *oa.LinkingSession {
	return &oa.LinkingSession{
		ID:         m.ID,
		SecretHash: m.SecretHash,
		PassportID: m.PassportID,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}

func LinkingSessionToModel(s *oa.LinkingSession) *LinkingSessionModel {
	return &LinkingSessionModel{
		ID:         s.ID,
		SecretHash: s.SecretHash,
		PassportID: s.PassportID,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
	}
}
