package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// VerifyToken resolves a bearer auth token (the JWT minted at login)
	// to a passport ID. When set, an authorization header is verified and
	// the resulting passport ID is injected into the request metadata.
	VerifyToken func(tokenString string) (passportID string, token any, err error)

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but PassportIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   false,
		PublicMethods: make(map[string]bool),
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that processes
// auth metadata: a bearer token is verified via VerifyToken, a
// pre-resolved passport ID header from a trusted gateway passes through.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, passportID := resolvePassport(ctx, config)

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if passportID == "" {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that processes auth metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, passportID := resolvePassport(ss.Context(), config)

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if passportID == "" {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedStream overrides the stream context so handlers see the passport
// ID resolved from the bearer token.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// resolvePassport extracts the passport ID from the request metadata,
// verifying a bearer token when one is present, and returns a context
// whose metadata carries the resolved ID.
func resolvePassport(ctx context.Context, config *InterceptorConfig) (context.Context, string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, ""
	}

	// Check for switch passport first (only if enabled)
	if config.Config.EnableSwitchAuth {
		if values := md.Get(config.Config.MetadataKeySwitchPassport); len(values) > 0 && values[0] != "" {
			return ctx, values[0]
		}
	}

	if values := md.Get(config.Config.MetadataKeyPassportID); len(values) > 0 && values[0] != "" {
		return ctx, values[0]
	}

	if config.VerifyToken != nil {
		for _, auth := range md.Get(DefaultMetadataKeyAuthorization) {
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			passportID, _, err := config.VerifyToken(tokenString)
			if err == nil && passportID != "" {
				md = md.Copy()
				md.Set(config.Config.MetadataKeyPassportID, passportID)
				return metadata.NewIncomingContext(ctx, md), passportID
			}
		}
	}

	return ctx, ""
}
