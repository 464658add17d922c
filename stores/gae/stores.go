//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/federate-dev/passport"
)

// Kind constants for Datastore entities
const (
	KindPassport       = "Passport"
	KindIdentity       = "Identity"
	KindUsername       = "Username"
	KindLinkingSession = "LinkingSession"
)

// ============================================================================
// IdentityStore
// ============================================================================

// IdentityStore implements oa.IdentityStore using Google Cloud Datastore.
// Uniqueness comes from entity keys: identities are keyed by
// provider:provider_user_id and username reservations by the username, so
// a transaction that gets-then-puts a key can never double-allocate.
type IdentityStore struct {
	client    *datastore.Client
	namespace string
}

// NewIdentityStore creates a new Datastore-backed IdentityStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{client: client, namespace: namespace}
}

func (s *IdentityStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) GetPassport(ctx context.Context, passportID string) (*oa.Passport, error) {
	key := s.namespacedKey(KindPassport, passportID)
	var entity PassportEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, oa.ErrPassportNotFound
		}
		return nil, err
	}
	entity.Key = key
	return entity.ToPassport(), nil
}

func (s *IdentityStore) GetPassportByUsername(ctx context.Context, username string) (*oa.Passport, error) {
	key := s.namespacedKey(KindUsername, username)
	var reservation UsernameEntity
	if err := s.client.Get(ctx, key, &reservation); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, oa.ErrPassportNotFound
		}
		return nil, err
	}
	return s.GetPassport(ctx, reservation.PassportID)
}

func (s *IdentityStore) GetIdentity(ctx context.Context, provider, providerUserID string) (*oa.ProviderIdentity, error) {
	key := s.namespacedKey(KindIdentity, oa.IdentityKey(provider, providerUserID))
	var entity IdentityEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, oa.ErrIdentityNotFound
		}
		return nil, err
	}
	entity.Key = key
	return entity.ToIdentity(), nil
}

func (s *IdentityStore) GetPassportIdentities(ctx context.Context, passportID string) ([]*oa.ProviderIdentity, error) {
	query := datastore.NewQuery(KindIdentity).
		FilterField("passport_id", "=", passportID)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var identities []*oa.ProviderIdentity
	it := s.client.Run(ctx, query)
	for {
		var entity IdentityEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		entity.Key = key
		identities = append(identities, entity.ToIdentity())
	}
	return identities, nil
}

// CreatePassportWithIdentity puts the passport, its username reservation
// and its first identity in one Datastore transaction. An existing
// username or identity key aborts the whole commit.
func (s *IdentityStore) CreatePassportWithIdentity(ctx context.Context, p *oa.Passport, identity *oa.ProviderIdentity) error {
	passportKey := s.namespacedKey(KindPassport, p.ID)
	usernameKey := s.namespacedKey(KindUsername, p.Username)
	identityKey := s.namespacedKey(KindIdentity, oa.IdentityKey(identity.Provider, identity.ProviderUserID))

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UsernameEntity
		if err := tx.Get(usernameKey, &existing); err == nil {
			return oa.ErrUsernameTaken
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		var existingIdentity IdentityEntity
		if err := tx.Get(identityKey, &existingIdentity); err == nil {
			return oa.ErrIdentityConflict
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		if _, err := tx.Put(passportKey, PassportToEntity(p, passportKey)); err != nil {
			return err
		}
		reservation := &UsernameEntity{Key: usernameKey, PassportID: p.ID, CreatedAt: p.CreatedAt}
		if _, err := tx.Put(usernameKey, reservation); err != nil {
			return err
		}
		_, err := tx.Put(identityKey, IdentityToEntity(identity, identityKey))
		return err
	})
	return err
}

func (s *IdentityStore) SaveIdentity(ctx context.Context, identity *oa.ProviderIdentity) error {
	passportKey := s.namespacedKey(KindPassport, identity.PassportID)
	identityKey := s.namespacedKey(KindIdentity, oa.IdentityKey(identity.Provider, identity.ProviderUserID))

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var passport PassportEntity
		if err := tx.Get(passportKey, &passport); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return oa.ErrPassportNotFound
			}
			return err
		}

		var existing IdentityEntity
		err := tx.Get(identityKey, &existing)
		if err == nil {
			if existing.PassportID != identity.PassportID {
				return oa.ErrIdentityConflict
			}
			// idempotent re-link: keep the original creation time
			identity.CreatedAt = existing.CreatedAt
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		identity.UpdatedAt = time.Now()
		_, err = tx.Put(identityKey, IdentityToEntity(identity, identityKey))
		return err
	})
	return err
}

// DeleteIdentityIfNotLast removes the identity inside a transaction pinned
// on the passport's identity keys. Non-ancestor queries cannot run in a
// Datastore transaction, so the keys are queried first and re-verified by
// key inside the transaction.
func (s *IdentityStore) DeleteIdentityIfNotLast(ctx context.Context, passportID, provider string) error {
	query := datastore.NewQuery(KindIdentity).
		FilterField("passport_id", "=", passportID).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return err
	}

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var target *datastore.Key
		live := 0
		for _, key := range keys {
			var entity IdentityEntity
			if err := tx.Get(key, &entity); err != nil {
				if err == datastore.ErrNoSuchEntity {
					continue // deleted since the query ran
				}
				return err
			}
			if entity.PassportID != passportID {
				continue
			}
			live++
			if entity.Provider == provider {
				target = key
			}
		}
		if target == nil {
			return oa.ErrIdentityNotFound
		}
		if live <= 1 {
			return oa.ErrLastAuthMethod
		}
		return tx.Delete(target)
	})
	return err
}

// ============================================================================
// LinkingSessionStore
// ============================================================================

// LinkingSessionStore implements oa.LinkingSessionStore using Datastore
type LinkingSessionStore struct {
	client    *datastore.Client
	namespace string
}

// NewLinkingSessionStore creates a new Datastore-backed LinkingSessionStore
func NewLinkingSessionStore(client *datastore.Client, namespace string) *LinkingSessionStore {
	return &LinkingSessionStore{client: client, namespace: namespace}
}

func (s *LinkingSessionStore) namespacedKey(sessionID string) *datastore.Key {
	key := datastore.NameKey(KindLinkingSession, sessionID, nil)
	key.Namespace = s.namespace
	return key
}

func (s *LinkingSessionStore) CreateLinkingSession(ctx context.Context, session *oa.LinkingSession) error {
	key := s.namespacedKey(session.ID)
	entity := &LinkingSessionEntity{
		Key:        key,
		SecretHash: session.SecretHash,
		PassportID: session.PassportID,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
	}
	_, err := s.client.Put(ctx, key, entity)
	return err
}

// TakeLinkingSession gets and deletes the session in one transaction so
// only one redeemer can win.
func (s *LinkingSessionStore) TakeLinkingSession(ctx context.Context, sessionID string) (*oa.LinkingSession, error) {
	key := s.namespacedKey(sessionID)
	var session *oa.LinkingSession

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity LinkingSessionEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return oa.ErrSessionNotFound
			}
			return err
		}
		entity.Key = key
		session = entity.ToLinkingSession()
		return tx.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CleanupExpiredSessions removes sessions past their deadline
func (s *LinkingSessionStore) CleanupExpiredSessions(ctx context.Context) error {
	query := datastore.NewQuery(KindLinkingSession).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}
