// Package grpc provides authentication context utilities for passing the
// authenticated passport between HTTP handlers and gRPC services via
// metadata, plus server interceptors that verify bearer auth tokens.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys for authentication context.
// These can be customized via Config if needed.
const (
	// DefaultMetadataKeyPassportID is the default gRPC metadata key for the authenticated passport ID
	DefaultMetadataKeyPassportID = "x-passport-id"

	// DefaultMetadataKeySwitchPassport is the default gRPC metadata key for switching to a different passport (testing only)
	DefaultMetadataKeySwitchPassport = "x-switch-passport"

	// DefaultMetadataKeyAuthorization carries a bearer auth token
	DefaultMetadataKeyAuthorization = "authorization"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyPassportID is the gRPC metadata key for the authenticated passport ID.
	// Defaults to "x-passport-id".
	MetadataKeyPassportID string

	// MetadataKeySwitchPassport is the gRPC metadata key for switching to a different passport.
	// Only used when switch auth is enabled. Defaults to "x-switch-passport".
	MetadataKeySwitchPassport string

	// EnableSwitchAuth when true allows the switch-passport header to override the passport ID.
	// Should only be enabled in development/testing environments.
	EnableSwitchAuth bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyPassportID:     DefaultMetadataKeyPassportID,
		MetadataKeySwitchPassport: DefaultMetadataKeySwitchPassport,
		EnableSwitchAuth:          false,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyPassportID == "" {
		c.MetadataKeyPassportID = DefaultMetadataKeyPassportID
	}
	if c.MetadataKeySwitchPassport == "" {
		c.MetadataKeySwitchPassport = DefaultMetadataKeySwitchPassport
	}
}

// PassportIDFromContext extracts the authenticated passport ID from the
// gRPC context metadata. Returns empty string if nobody is authenticated.
func PassportIDFromContext(ctx context.Context) string {
	return PassportIDFromContextWithConfig(ctx, nil)
}

// PassportIDFromContextWithConfig extracts the authenticated passport ID using the specified config.
func PassportIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	// Check for switch passport first (only if enabled)
	if config.EnableSwitchAuth {
		if values := md.Get(config.MetadataKeySwitchPassport); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}

	if values := md.Get(config.MetadataKeyPassportID); len(values) > 0 {
		return values[0]
	}

	return ""
}

// PassportIDToOutgoingContext adds the passport ID to outgoing gRPC context metadata.
func PassportIDToOutgoingContext(ctx context.Context, passportID string) context.Context {
	return PassportIDToOutgoingContextWithKey(ctx, passportID, DefaultMetadataKeyPassportID)
}

// PassportIDToOutgoingContextWithKey adds the passport ID to outgoing gRPC context metadata with a custom key.
func PassportIDToOutgoingContextWithKey(ctx context.Context, passportID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, passportID)
}

// SwitchPassportToOutgoingContext adds a switch-passport header to outgoing gRPC context metadata.
// This is only effective when EnableSwitchAuth is set on the server.
func SwitchPassportToOutgoingContext(ctx context.Context, switchToPassportID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySwitchPassport, switchToPassportID)
}

// IsAuthenticated returns true if there is an authenticated passport in the context.
func IsAuthenticated(ctx context.Context) bool {
	return PassportIDFromContext(ctx) != ""
}

// IsAuthenticatedWithConfig returns true if there is an authenticated passport using the specified config.
func IsAuthenticatedWithConfig(ctx context.Context, config *Config) bool {
	return PassportIDFromContextWithConfig(ctx, config) != ""
}
