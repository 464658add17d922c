package fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	oa "github.com/federate-dev/passport"
)

// FSIdentityStore keeps passports, provider identities and username
// reservations as JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── passports/<passportId>.json
//	├── identities/<provider>:<providerUserId>.json
//	└── usernames/<username>.json
//
// # Concurrency Model
//
// A single in-process mutex serializes every mutation, which gives this
// store the same atomicity the SQL backend gets from constraints and
// transactions. That makes it fine for tests and single-process
// deployments and wrong for anything running more than one process.
type FSIdentityStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

type usernameRecord struct {
	Username   string    `json:"username"`
	PassportID string    `json:"passport_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *FSIdentityStore) passportPath(passportID string) string {
	return filepath.Join(s.StoragePath, "passports", filepath.Base(passportID)+".json")
}

func (s *FSIdentityStore) identityPath(provider, providerUserID string) string {
	key := oa.IdentityKey(provider, providerUserID)
	// filepath.Base prevents path traversal via a hostile provider user id
	return filepath.Join(s.StoragePath, "identities", filepath.Base(key)+".json")
}

func (s *FSIdentityStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", filepath.Base(username)+".json")
}

func readJSON[T any](path string, notFound error) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound
		}
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *FSIdentityStore) GetPassport(ctx context.Context, passportID string) (*oa.Passport, error) {
	return readJSON[oa.Passport](s.passportPath(passportID), oa.ErrPassportNotFound)
}

func (s *FSIdentityStore) GetPassportByUsername(ctx context.Context, username string) (*oa.Passport, error) {
	record, err := readJSON[usernameRecord](s.usernamePath(username), oa.ErrPassportNotFound)
	if err != nil {
		return nil, err
	}
	return s.GetPassport(ctx, record.PassportID)
}

func (s *FSIdentityStore) GetIdentity(ctx context.Context, provider, providerUserID string) (*oa.ProviderIdentity, error) {
	return readJSON[oa.ProviderIdentity](s.identityPath(provider, providerUserID), oa.ErrIdentityNotFound)
}

func (s *FSIdentityStore) GetPassportIdentities(ctx context.Context, passportID string) ([]*oa.ProviderIdentity, error) {
	identitiesDir := filepath.Join(s.StoragePath, "identities")
	entries, err := os.ReadDir(identitiesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*oa.ProviderIdentity{}, nil
		}
		return nil, err
	}

	var identities []*oa.ProviderIdentity
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(identitiesDir, entry.Name()))
		if err != nil {
			continue
		}
		var identity oa.ProviderIdentity
		if err := json.Unmarshal(data, &identity); err != nil {
			continue
		}
		if identity.PassportID == passportID {
			identities = append(identities, &identity)
		}
	}
	return identities, nil
}

// CreatePassportWithIdentity creates the passport, its username
// reservation and its first identity under one lock. A failure midway
// rolls the earlier files back so nothing orphaned stays visible.
func (s *FSIdentityStore) CreatePassportWithIdentity(ctx context.Context, p *oa.Passport, identity *oa.ProviderIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := readJSON[usernameRecord](s.usernamePath(p.Username), oa.ErrPassportNotFound); err == nil {
		return oa.ErrUsernameTaken
	}
	if _, err := readJSON[oa.ProviderIdentity](s.identityPath(identity.Provider, identity.ProviderUserID), oa.ErrIdentityNotFound); err == nil {
		return oa.ErrIdentityConflict
	}

	if err := writeJSON(s.passportPath(p.ID), p); err != nil {
		return err
	}
	record := &usernameRecord{Username: p.Username, PassportID: p.ID, CreatedAt: p.CreatedAt}
	if err := writeJSON(s.usernamePath(p.Username), record); err != nil {
		os.Remove(s.passportPath(p.ID))
		return err
	}
	if err := writeJSON(s.identityPath(identity.Provider, identity.ProviderUserID), identity); err != nil {
		os.Remove(s.usernamePath(p.Username))
		os.Remove(s.passportPath(p.ID))
		return err
	}
	return nil
}

func (s *FSIdentityStore) SaveIdentity(ctx context.Context, identity *oa.ProviderIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := readJSON[oa.Passport](s.passportPath(identity.PassportID), oa.ErrPassportNotFound); err != nil {
		return err
	}

	path := s.identityPath(identity.Provider, identity.ProviderUserID)
	existing, err := readJSON[oa.ProviderIdentity](path, oa.ErrIdentityNotFound)
	if err == nil {
		if existing.PassportID != identity.PassportID {
			return oa.ErrIdentityConflict
		}
		// idempotent re-link: keep the original creation time
		identity.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, oa.ErrIdentityNotFound) {
		return err
	}
	identity.UpdatedAt = time.Now()
	return writeJSON(path, identity)
}

func (s *FSIdentityStore) DeleteIdentityIfNotLast(ctx context.Context, passportID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := s.GetPassportIdentities(ctx, passportID)
	if err != nil {
		return err
	}
	var target *oa.ProviderIdentity
	for _, identity := range identities {
		if identity.Provider == provider {
			target = identity
			break
		}
	}
	if target == nil {
		return oa.ErrIdentityNotFound
	}
	if len(identities) <= 1 {
		return oa.ErrLastAuthMethod
	}
	return os.Remove(s.identityPath(target.Provider, target.ProviderUserID))
}
