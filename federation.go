package passport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Engine resolves authenticated external users into passports. It holds no
// state of its own. All shared data lives behind the IdentityStore, so any
// number of handlers can share one engine.
type Engine struct {
	Store IdentityStore

	// Notifier, when set, is told about new passports and new links.
	// Failures are logged and ignored.
	Notifier Notifier
}

func NewEngine(store IdentityStore) *Engine {
	return &Engine{Store: store}
}

// Federate resolves an external user to a passport, creating one when this
// is the first time the (provider, id) pair has been seen. The passport and
// its first identity are created as one unit. A failure leaves nothing
// behind.
func (e *Engine) Federate(ctx context.Context, provider string, user *ExternalUser) (passportID string, isNew bool, err error) {
	identity, err := e.Store.GetIdentity(ctx, provider, user.ID)
	if err == nil {
		return identity.PassportID, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return "", false, fmt.Errorf("identity lookup failed: %w", err)
	}

	// First contact. Username allocation can race with a concurrent signup,
	// so retry on the store's uniqueness verdict.
	for attempt := 0; attempt < 3; attempt++ {
		username, err := AllocateUsername(ctx, e.Store, preferredUsername(user))
		if err != nil {
			return "", false, fmt.Errorf("username allocation failed: %w", err)
		}
		now := time.Now()
		p := &Passport{
			ID:          NewPassportID(),
			Username:    username,
			Email:       user.Email,
			DisplayName: user.Name,
			AvatarURL:   user.AvatarURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		ident := &ProviderIdentity{
			Provider:       provider,
			ProviderUserID: user.ID,
			PassportID:     p.ID,
			Email:          user.Email,
			Profile:        user.Raw,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = e.Store.CreatePassportWithIdentity(ctx, p, ident)
		if err == nil {
			slog.Info("created passport", "passport", p.ID, "provider", provider, "username", username)
			e.notifyLinked(ctx, p.ID, provider)
			return p.ID, true, nil
		}
		if errors.Is(err, ErrUsernameTaken) {
			continue
		}
		if errors.Is(err, ErrIdentityConflict) {
			// Someone finished the same provider login concurrently. Their
			// passport is ours too.
			if existing, gerr := e.Store.GetIdentity(ctx, provider, user.ID); gerr == nil {
				return existing.PassportID, false, nil
			}
		}
		return "", false, fmt.Errorf("passport creation failed: %w", err)
	}
	return "", false, fmt.Errorf("passport creation failed: %w", ErrUsernameTaken)
}

// Link binds the external user to an existing passport. Linking the same
// binding again is idempotent and refreshes the stored profile. An identity
// already bound to a different passport stays where it is and the call
// fails with ErrIdentityConflict.
func (e *Engine) Link(ctx context.Context, passportID, provider string, user *ExternalUser) error {
	if _, err := e.Store.GetPassport(ctx, passportID); err != nil {
		return fmt.Errorf("link target lookup failed: %w", err)
	}
	now := time.Now()
	ident := &ProviderIdentity{
		Provider:       provider,
		ProviderUserID: user.ID,
		PassportID:     passportID,
		Email:          user.Email,
		Profile:        user.Raw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Store.SaveIdentity(ctx, ident); err != nil {
		return fmt.Errorf("link failed: %w", err)
	}
	slog.Info("linked identity", "passport", passportID, "provider", provider)
	e.notifyLinked(ctx, passportID, provider)
	return nil
}

// Unlink removes the passport's identity for provider. The store refuses to
// remove the last one, a passport must keep at least one way to sign in.
func (e *Engine) Unlink(ctx context.Context, passportID, provider string) error {
	if err := e.Store.DeleteIdentityIfNotLast(ctx, passportID, provider); err != nil {
		return err
	}
	slog.Info("unlinked identity", "passport", passportID, "provider", provider)
	return nil
}

// Lookup returns the passport ID bound to (provider, providerUserID)
// without mutating anything. Returns ErrIdentityNotFound.
func (e *Engine) Lookup(ctx context.Context, provider, providerUserID string) (string, error) {
	identity, err := e.Store.GetIdentity(ctx, provider, providerUserID)
	if err != nil {
		return "", err
	}
	return identity.PassportID, nil
}

func (e *Engine) notifyLinked(ctx context.Context, passportID, provider string) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.PassportLinked(ctx, passportID, provider); err != nil {
		slog.Warn("link notification failed", "passport", passportID, "provider", provider, "err", err)
	}
}

func preferredUsername(user *ExternalUser) string {
	if user.Username != "" {
		return user.Username
	}
	if user.Name != "" {
		return user.Name
	}
	if at := strings.Index(user.Email, "@"); at > 0 {
		return user.Email[:at]
	}
	return ""
}
