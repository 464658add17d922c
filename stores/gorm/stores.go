//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	oa "github.com/federate-dev/passport"
)

// AutoMigrate runs database migrations for all passport tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PassportModel{},
		&IdentityModel{},
		&LinkingSessionModel{},
	)
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements oa.IdentityStore using GORM. Open the DB with
// TranslateError enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey.
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) GetPassport(ctx context.Context, passportID string) (*oa.Passport, error) {
	var model PassportModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", passportID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrPassportNotFound
		}
		return nil, err
	}
	return model.ToPassport(), nil
}

func (s *IdentityStore) GetPassportByUsername(ctx context.Context, username string) (*oa.Passport, error) {
	var model PassportModel
	if err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrPassportNotFound
		}
		return nil, err
	}
	return model.ToPassport(), nil
}

func (s *IdentityStore) GetIdentity(ctx context.Context, provider, providerUserID string) (*oa.ProviderIdentity, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND provider_user_id = ?", provider, providerUserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrIdentityNotFound
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) GetPassportIdentities(ctx context.Context, passportID string) ([]*oa.ProviderIdentity, error) {
	var models []IdentityModel
	if err := s.db.WithContext(ctx).Where("passport_id = ?", passportID).Find(&models).Error; err != nil {
		return nil, err
	}
	identities := make([]*oa.ProviderIdentity, len(models))
	for i, m := range models {
		identities[i] = m.ToIdentity()
	}
	return identities, nil
}

// CreatePassportWithIdentity inserts the passport and its first identity
// in one transaction. The unique indexes decide the winner of any race: a
// username collision rolls everything back as ErrUsernameTaken, an
// identity collision as ErrIdentityConflict.
func (s *IdentityStore) CreatePassportWithIdentity(ctx context.Context, p *oa.Passport, identity *oa.ProviderIdentity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(PassportToModel(p)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return oa.ErrUsernameTaken
			}
			return err
		}
		if err := tx.Create(IdentityToModel(identity)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return oa.ErrIdentityConflict
			}
			return err
		}
		return nil
	})
}

// SaveIdentity upserts the identity. The conflict target is the composite
// unique index, so a concurrent insert for the same external account can
// never produce two rows; an update only happens when the row already
// belongs to the same passport.
func (s *IdentityStore) SaveIdentity(ctx context.Context, identity *oa.ProviderIdentity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var passport PassportModel
		if err := tx.First(&passport, "id = ?", identity.PassportID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return oa.ErrPassportNotFound
			}
			return err
		}

		var existing IdentityModel
		err := tx.First(&existing, "provider = ? AND provider_user_id = ?",
			identity.Provider, identity.ProviderUserID).Error
		if err == nil && existing.PassportID != identity.PassportID {
			return oa.ErrIdentityConflict
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		model := IdentityToModel(identity)
		model.UpdatedAt = time.Now()
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_user_id"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: "provider_identities.passport_id", Value: identity.PassportID},
			}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "profile", "updated_at"}),
		}).Create(model).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return oa.ErrIdentityConflict
		}
		return err
	})
}

// DeleteIdentityIfNotLast issues a single conditional DELETE so the
// "keep at least one identity" rule cannot be raced past. Zero rows
// affected is then classified after the fact.
func (s *IdentityStore) DeleteIdentityIfNotLast(ctx context.Context, passportID, provider string) error {
	res := s.db.WithContext(ctx).Exec(`
		DELETE FROM provider_identities
		WHERE passport_id = ? AND provider = ?
		  AND (SELECT COUNT(*) FROM provider_identities i WHERE i.passport_id = ?) > 1`,
		passportID, provider, passportID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&IdentityModel{}).
		Where("passport_id = ? AND provider = ?", passportID, provider).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return oa.ErrIdentityNotFound
	}
	return oa.ErrLastAuthMethod
}

// =============================================================================
// LinkingSessionStore
// =============================================================================

// LinkingSessionStore implements oa.LinkingSessionStore using GORM
type LinkingSessionStore struct {
	db *gorm.DB
}

func NewLinkingSessionStore(db *gorm.DB) *LinkingSessionStore {
	return &LinkingSessionStore{db: db}
}

func (s *LinkingSessionStore) CreateLinkingSession(ctx context.Context, session *oa.LinkingSession) error {
	return s.db.WithContext(ctx).Create(LinkingSessionToModel(session)).Error
}

// TakeLinkingSession locks, reads and deletes the row in one transaction.
// Two concurrent takes of the same token cannot both win.
func (s *LinkingSessionStore) TakeLinkingSession(ctx context.Context, sessionID string) (*oa.LinkingSession, error) {
	var session *oa.LinkingSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LinkingSessionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", sessionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return oa.ErrSessionNotFound
			}
			return err
		}
		if err := tx.Delete(&LinkingSessionModel{}, "id = ?", sessionID).Error; err != nil {
			return err
		}
		session = model.ToLinkingSession()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CleanupExpiredSessions removes sessions whose deadline has passed. The
// redeem path never needs this, absence and expiry read the same, it just
// keeps the table from growing.
func (s *LinkingSessionStore) CleanupExpiredSessions(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Delete(&LinkingSessionModel{}, "expires_at < ?", time.Now()).Error
}
