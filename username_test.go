package passport_test

import (
	"context"
	"strings"
	"testing"

	"github.com/federate-dev/passport"
	"github.com/federate-dev/passport/stores/fs"
)

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"alice", "alice"},
		{"Alice", "alice"},
		{"Test User", "testuser"},
		{"user.name+tag@host", "usernametaghost"},
		{"under_score-dash", "under_score-dash"},
		{"ALL CAPS 99", "allcaps99"},
	}
	for _, c := range cases {
		if got := passport.NormalizeUsername(c.in); got != c.expected {
			t.Errorf("NormalizeUsername(%q) = %q, expected %q", c.in, got, c.expected)
		}
	}
}

func TestNormalizeUsernameTooShort(t *testing.T) {
	for _, in := range []string{"", "a", "!!", "@#"} {
		got := passport.NormalizeUsername(in)
		if !strings.HasPrefix(got, "user-") {
			t.Errorf("NormalizeUsername(%q) = %q, expected a random placeholder", in, got)
		}
		if len(got) < 3 {
			t.Errorf("NormalizeUsername(%q) = %q, still too short", in, got)
		}
	}
}

func TestAllocateUsernameFree(t *testing.T) {
	store := fs.NewFSIdentityStore(t.TempDir())
	got, err := passport.AllocateUsername(context.Background(), store, "Fresh Handle")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if got != "freshhandle" {
		t.Errorf("expected 'freshhandle', got %q", got)
	}
}

func TestAllocateUsernameCollision(t *testing.T) {
	store := fs.NewFSIdentityStore(t.TempDir())
	ctx := context.Background()
	engine := passport.NewEngine(store)

	if _, _, err := engine.Federate(ctx, "github", &passport.ExternalUser{ID: "g1", Username: "taken", Email: "t@example.com"}); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	got, err := passport.AllocateUsername(ctx, store, "taken")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if got == "taken" {
		t.Fatal("allocated an already reserved username")
	}
	if !strings.HasPrefix(got, "taken-") {
		t.Errorf("expected a suffixed variant, got %q", got)
	}
}
