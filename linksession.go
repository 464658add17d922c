package passport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LinkTokenPrefix marks linking session tokens: lnk_<sessionID>_<secret>
const LinkTokenPrefix = "lnk"

// DefaultLinkingSessionTTL bounds how long a user has to complete the
// provider round trip when linking a new account.
const DefaultLinkingSessionTTL = 10 * time.Minute

// LinkSessions mints and redeems the single-use tokens that identify who
// is linking across a provider round trip. The token format is
// lnk_<sessionID>_<secret>. Only a bcrypt hash of the secret is stored, a
// store dump alone cannot be replayed into a link.
type LinkSessions struct {
	Store LinkingSessionStore

	// TTL for new sessions. Defaults to DefaultLinkingSessionTTL.
	TTL time.Duration
}

func NewLinkSessions(store LinkingSessionStore) *LinkSessions {
	return &LinkSessions{Store: store, TTL: DefaultLinkingSessionTTL}
}

// Create mints a session token for the passport.
func (l *LinkSessions) Create(ctx context.Context, passportID string) (token string, expiresAt time.Time, err error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultLinkingSessionTTL
	}
	sessionID := GenerateSecureToken(8)
	secret := GenerateSecureToken(16)
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to hash session secret: %w", err)
	}

	now := time.Now()
	session := &LinkingSession{
		ID:         sessionID,
		SecretHash: string(secretHash),
		PassportID: passportID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := l.Store.CreateLinkingSession(ctx, session); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create linking session: %w", err)
	}
	return LinkTokenPrefix + "_" + sessionID + "_" + secret, session.ExpiresAt, nil
}

// Redeem consumes a token and returns the passport it was minted for.
// Redemption is strictly single use: the session is deleted on first
// contact, valid or not. Expired, already redeemed, malformed and forged
// tokens are indistinguishable to the caller. All return ErrSessionLost.
func (l *LinkSessions) Redeem(ctx context.Context, token string) (string, error) {
	parts := strings.Split(token, "_")
	if len(parts) != 3 || parts[0] != LinkTokenPrefix {
		return "", ErrSessionLost
	}
	session, err := l.Store.TakeLinkingSession(ctx, parts[1])
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("failed to take linking session", "err", err)
		}
		return "", ErrSessionLost
	}
	if session.IsExpired() {
		return "", ErrSessionLost
	}
	if bcrypt.CompareHashAndPassword([]byte(session.SecretHash), []byte(parts[2])) != nil {
		return "", ErrSessionLost
	}
	return session.PassportID, nil
}
