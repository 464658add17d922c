// Package passport federates OAuth and SAML logins into canonical accounts.
//
// A passport is the one account a person holds no matter how many providers
// they sign in with. Each provider login is a provider identity, a binding
// from the provider's stable user id to a passport. The first login through
// a provider creates a passport, every later login through the same provider
// account resolves to it, and additional providers can be linked to or
// unlinked from an existing passport.
//
// # Architecture
//
// Passport: The canonical account, with a unique username allocated from the
// provider profile at first login.
//
// ProviderIdentity: One external account bound to a passport. The
// (provider, provider user id) pair is unique across the whole store, so an
// external account can never belong to two passports.
//
// LinkingSession: A short-lived single-use session that carries "who is
// linking" through a provider round trip as an opaque token. The browser
// only ever sees the token, never a passport id.
//
// # Basic Usage
//
// Set up a store and the federation engine:
//
//	import (
//	    "github.com/federate-dev/passport"
//	    "github.com/federate-dev/passport/oauth2"
//	    "github.com/federate-dev/passport/stores/fs"
//	)
//
//	storagePath := "/path/to/storage"
//	engine := passport.NewEngine(fs.NewFSIdentityStore(storagePath))
//	sessions := passport.NewLinkSessions(fs.NewFSLinkingSessionStore(storagePath))
//
// Mount the auth routes and register providers:
//
//	auth := passport.New("MyApp", engine, sessions)
//	flow := &oauth2.Flow{
//	    Engine:        engine,
//	    Sessions:      sessions,
//	    StateSecret:   auth.StateSecret,
//	    CompleteLogin: auth.CompleteLogin,
//	}
//	auth.AddProvider(oauth2.NewGoogleOAuth2(flow, clientId, clientSecret, callbackUrl))
//	auth.AddProvider(oauth2.NewGithubOAuth2(flow, clientId, clientSecret, callbackUrl))
//	auth.AddProvider(oauth2.NewDiscordOAuth2(flow, clientId, clientSecret, callbackUrl))
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/", http.StripPrefix("/auth", auth.Handler()))
//
// This mounts /auth/{provider}/oauth/login, /auth/{provider}/oauth/callback,
// /auth/link/start, /auth/unlink and /auth/logout.
//
// # Store Implementations
//
// The stores/fs package keeps everything as JSON files and is suitable for
// development and single-process deployments. stores/gorm targets SQL
// databases through GORM, and stores/gae targets Google Cloud Datastore.
// All three uphold the same guarantees: passports are created atomically
// with their first identity, an external account binds to at most one
// passport, and the last identity on a passport cannot be unlinked.
//
// # Security
//
// OAuth state is an HMAC-SHA256 signed payload, so callbacks cannot be
// forged or replayed across flows. Linking sessions are single use, expire
// after ten minutes and store only a bcrypt hash of the token secret.
// Logged-in browsers carry an HS256 JWT whose subject is the passport id.
//
// # Failure Reporting
//
// Callback failures never surface raw errors to the browser. Every failure
// exits through a redirect carrying error=<code>&message=<text>, with codes
// like token_exchange, no_email, session_lost and link_failed. See errors.go
// for the full taxonomy.
package passport
