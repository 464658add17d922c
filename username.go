package passport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	minUsernameLen      = 3
	usernameAttempts    = 10
	placeholderUsername = "user"
)

var usernameInvalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeUsername lowercases the preferred handle and strips everything
// outside [a-z0-9_-]. Handles that come out shorter than 3 characters are
// replaced with a random placeholder.
func NormalizeUsername(preferred string) string {
	out := usernameInvalidChars.ReplaceAllString(strings.ToLower(preferred), "")
	if len(out) < minUsernameLen {
		out = placeholderUsername + "-" + GenerateSecureToken(2)
	}
	return out
}

// AllocateUsername picks a username near the preferred handle: the
// normalized handle first, then up to 9 random-suffixed variants, then a
// fully random handle. The result is only a candidate. The store's
// uniqueness constraint is the final arbiter, so callers must be ready for
// ErrUsernameTaken on create and retry.
func AllocateUsername(ctx context.Context, store IdentityStore, preferred string) (string, error) {
	base := NormalizeUsername(preferred)
	candidate := base
	for i := 0; i < usernameAttempts; i++ {
		_, err := store.GetPassportByUsername(ctx, candidate)
		if errors.Is(err, ErrPassportNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("username lookup failed: %w", err)
		}
		candidate = base + "-" + GenerateSecureToken(2)
	}
	// every attempt collided, hand out a random handle
	return placeholderUsername + "-" + GenerateSecureToken(4), nil
}
