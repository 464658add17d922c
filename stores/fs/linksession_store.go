package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	oa "github.com/federate-dev/passport"
)

// FSLinkingSessionStore stores linking sessions as JSON files under
// {StoragePath}/linksessions/. The mutex makes take-and-delete atomic
// within the process.
type FSLinkingSessionStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSLinkingSessionStore(storagePath string) *FSLinkingSessionStore {
	return &FSLinkingSessionStore{StoragePath: storagePath}
}

func (s *FSLinkingSessionStore) sessionPath(sessionID string) string {
	return filepath.Join(s.StoragePath, "linksessions", filepath.Base(sessionID)+".json")
}

func (s *FSLinkingSessionStore) CreateLinkingSession(ctx context.Context, session *oa.LinkingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.sessionPath(session.ID), session)
}

// TakeLinkingSession reads and deletes the session in one step. A second
// take of the same ID finds nothing.
func (s *FSLinkingSessionStore) TakeLinkingSession(ctx context.Context, sessionID string) (*oa.LinkingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(sessionID)
	session, err := readJSON[oa.LinkingSession](path, oa.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return session, nil
}
