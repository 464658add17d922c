package passport

import "context"

// IdentityStore is the single shared resource behind the federation engine.
// Implementations own atomicity: uniqueness of (provider, provider_user_id),
// uniqueness of usernames and the "a passport keeps at least one identity"
// rule are enforced here, not by callers checking first.
type IdentityStore interface {
	// GetPassport retrieves a passport by ID. Returns ErrPassportNotFound.
	GetPassport(ctx context.Context, passportID string) (*Passport, error)

	// GetPassportByUsername looks a passport up by its unique handle.
	// Returns ErrPassportNotFound. Used by the username allocator.
	GetPassportByUsername(ctx context.Context, username string) (*Passport, error)

	// GetIdentity looks up the identity bound to (provider, providerUserID).
	// Returns ErrIdentityNotFound.
	GetIdentity(ctx context.Context, provider, providerUserID string) (*ProviderIdentity, error)

	// GetPassportIdentities returns all identities bound to a passport.
	GetPassportIdentities(ctx context.Context, passportID string) ([]*ProviderIdentity, error)

	// CreatePassportWithIdentity creates the passport and its first identity
	// as one atomic unit. Neither is visible unless both land. Returns
	// ErrUsernameTaken or ErrIdentityConflict with no side effects.
	CreatePassportWithIdentity(ctx context.Context, p *Passport, identity *ProviderIdentity) error

	// SaveIdentity upserts an identity for its passport. Re-saving the same
	// binding refreshes email and profile. Returns ErrIdentityConflict if
	// (provider, provider_user_id) is bound to a different passport, and
	// ErrPassportNotFound if the target passport does not exist.
	SaveIdentity(ctx context.Context, identity *ProviderIdentity) error

	// DeleteIdentityIfNotLast removes the passport's identity for provider
	// only when at least one other identity remains afterwards. Returns
	// ErrLastAuthMethod (nothing deleted) otherwise, or ErrIdentityNotFound
	// when the passport has no identity for that provider.
	DeleteIdentityIfNotLast(ctx context.Context, passportID, provider string) error
}

// LinkingSessionStore persists single-use linking sessions.
type LinkingSessionStore interface {
	// CreateLinkingSession persists a new session.
	CreateLinkingSession(ctx context.Context, session *LinkingSession) error

	// TakeLinkingSession retrieves and deletes a session in one step so a
	// token can never be redeemed twice. Returns ErrSessionNotFound when
	// the session is absent: never created, already taken, or purged.
	TakeLinkingSession(ctx context.Context, sessionID string) (*LinkingSession, error)
}
