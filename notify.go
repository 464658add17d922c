package passport

import (
	"context"
	"log"
)

// Notifier lets applications react when a passport gains a sign-in method,
// at first signup or through an explicit link. Delivery is best effort.
type Notifier interface {
	PassportLinked(ctx context.Context, passportID, provider string) error
}

// ConsoleNotifier is a development implementation that logs to console
type ConsoleNotifier struct{}

func (c *ConsoleNotifier) PassportLinked(ctx context.Context, passportID, provider string) error {
	log.Printf("\n=== NOTIFY: Sign-in method added ===")
	log.Printf("Passport: %s", passportID)
	log.Printf("Provider: %s", provider)
	log.Printf("====================================\n")
	return nil
}
