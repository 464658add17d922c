//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of passport
// store interfaces. It is designed for deployment on Google Cloud Platform
// and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Passport: Canonical accounts
//   - Identity: Provider identities, keyed by provider:provider_user_id
//   - Username: Username reservations, keyed by the username itself
//   - LinkingSession: Single-use account linking sessions
//
// Keying identities and usernames by name gives the same uniqueness the
// SQL backend gets from unique indexes: a transaction that finds the key
// occupied aborts.
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications.
// Pass a namespace when creating stores to isolate data between tenants:
//
//	identityStore := gae.NewIdentityStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	identityStore := gae.NewIdentityStore(client, "") // default namespace
//	sessionStore := gae.NewLinkingSessionStore(client, "")
package gae
