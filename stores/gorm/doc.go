//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of passport store
// interfaces. It supports any database that GORM supports (PostgreSQL,
// MySQL, SQLite, etc.) and is the backend of choice for production
// deployments: the unique indexes and transactions here are what make the
// federation invariants hold under concurrency.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - passports: Canonical accounts with a unique username
//   - provider_identities: (provider, provider_user_id) bindings, unique
//   - linking_sessions: Single-use account linking sessions
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	identityStore := gormstore.NewIdentityStore(db)
//	sessionStore := gormstore.NewLinkingSessionStore(db)
package gorm
