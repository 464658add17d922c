package passport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/federate-dev/passport"
	"github.com/federate-dev/passport/stores/fs"
)

func newTestAuth(t *testing.T) (*passport.Auth, *passport.Engine) {
	t.Helper()
	dir := t.TempDir()
	engine := passport.NewEngine(fs.NewFSIdentityStore(dir))
	sessions := passport.NewLinkSessions(fs.NewFSLinkingSessionStore(dir))
	return passport.New("TestApp", engine, sessions), engine
}

// stubProvider satisfies passport.Provider without a real OAuth server
type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) AuthorizeURL(state string) string {
	return "https://stub.example.com/auth?state=" + url.QueryEscape(state)
}
func (p *stubProvider) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, p.AuthorizeURL("x"), http.StatusFound)
}
func (p *stubProvider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestSignInSetsVerifiableToken(t *testing.T) {
	auth, _ := newTestAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	tokenString := auth.SignInPassport("passport-1", rr, req)
	if tokenString == "" {
		t.Fatal("expected a signed token")
	}

	var passportCookie, tokenCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case "loggedInPassportId":
			passportCookie = c
		case auth.AuthTokenSessionVar:
			tokenCookie = c
		}
	}
	if passportCookie == nil || passportCookie.Value != "passport-1" {
		t.Errorf("expected loggedInPassportId cookie, got %v", passportCookie)
	}
	if tokenCookie == nil || tokenCookie.Value != tokenString {
		t.Error("expected the auth token cookie to carry the JWT")
	}

	// The middleware's verifier must accept what SignInPassport minted
	passportID, _, err := auth.Middleware.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if passportID != "passport-1" {
		t.Errorf("expected subject 'passport-1', got %q", passportID)
	}
}

func TestVerifyTokenRejectsForgery(t *testing.T) {
	auth, _ := newTestAuth(t)
	if _, _, err := auth.Middleware.VerifyToken("not.a.jwt"); err == nil {
		t.Error("expected a forged token to be rejected")
	}
}

func TestMiddlewareTokenSources(t *testing.T) {
	auth, _ := newTestAuth(t)
	auth.Middleware.EnsureReasonableDefaults()

	tokenString := auth.SignInPassport("passport-1", httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		if got := auth.Middleware.GetLoggedInPassportId(req); got != "passport-1" {
			t.Errorf("expected passport-1 from header, got %q", got)
		}
	})

	t.Run("auth cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: auth.AuthTokenSessionVar, Value: tokenString})
		if got := auth.Middleware.GetLoggedInPassportId(req); got != "passport-1" {
			t.Errorf("expected passport-1 from cookie, got %q", got)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if got := auth.Middleware.GetLoggedInPassportId(req); got != "" {
			t.Errorf("expected no passport, got %q", got)
		}
	})
}

func TestEnsurePassport(t *testing.T) {
	auth, _ := newTestAuth(t)

	handler := auth.Middleware.EnsurePassport(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous gets 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/protected", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("anonymous is redirected when a login url is set", func(t *testing.T) {
		auth.Middleware.GetRedirURL = func(r *http.Request) string { return "/login" }
		defer func() { auth.Middleware.GetRedirURL = nil }()

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/protected", nil))
		if rr.Code != http.StatusFound {
			t.Fatalf("expected redirect, got %d", rr.Code)
		}
		location := rr.Header().Get("Location")
		if !strings.HasPrefix(location, "/login?callbackURL=") {
			t.Errorf("expected a login redirect with callbackURL, got %q", location)
		}
	})

	t.Run("logged in passes through", func(t *testing.T) {
		tokenString := auth.SignInPassport("passport-1", httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(&http.Cookie{Name: auth.AuthTokenSessionVar, Value: tokenString})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})
}

func TestUnlinkRoute(t *testing.T) {
	auth, engine := newTestAuth(t)
	handler := auth.Handler()
	ctx := context.Background()

	passportID, _, err := engine.Federate(ctx, "github", githubUser("g1", "alice", "alice@example.com"))
	if err != nil {
		t.Fatalf("federate failed: %v", err)
	}
	if err := engine.Link(ctx, passportID, "discord", &passport.ExternalUser{ID: "d1"}); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	tokenString := auth.SignInPassport(passportID, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	signedIn := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.AddCookie(&http.Cookie{Name: auth.AuthTokenSessionVar, Value: tokenString})
		return req
	}

	t.Run("requires login", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/unlink?provider=github", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("unlinks and redirects to the dashboard", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, signedIn("/unlink?provider=github"))
		if rr.Code != http.StatusFound {
			t.Fatalf("expected redirect, got %d", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != auth.DashboardURL {
			t.Errorf("expected redirect to %q, got %q", auth.DashboardURL, loc)
		}
		if _, err := engine.Lookup(ctx, "github", "g1"); !errors.Is(err, passport.ErrIdentityNotFound) {
			t.Errorf("expected the github identity to be removed, got %v", err)
		}
	})

	t.Run("last method is refused with an error redirect", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, signedIn("/unlink?provider=discord"))
		if rr.Code != http.StatusFound {
			t.Fatalf("expected redirect, got %d", rr.Code)
		}
		loc, err := url.Parse(rr.Header().Get("Location"))
		if err != nil {
			t.Fatalf("bad redirect: %v", err)
		}
		if loc.Query().Get("error") != passport.CodeLinkFailed {
			t.Errorf("expected error %q, got %q", passport.CodeLinkFailed, loc.Query().Get("error"))
		}
		if _, err := engine.Lookup(ctx, "discord", "d1"); err != nil {
			t.Errorf("the last identity must survive: %v", err)
		}
	})
}

func TestStartLinkRoute(t *testing.T) {
	auth, engine := newTestAuth(t)
	auth.AddProvider(&stubProvider{name: "stub"})
	handler := auth.Handler()
	ctx := context.Background()

	passportID, _, err := engine.Federate(ctx, "github", githubUser("g1", "alice", "alice@example.com"))
	if err != nil {
		t.Fatalf("federate failed: %v", err)
	}
	tokenString := auth.SignInPassport(passportID, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/link/start?provider=stub&redirectTo=/settings", nil)
	req.AddCookie(&http.Cookie{Name: auth.AuthTokenSessionVar, Value: tokenString})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect to the provider, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect: %v", err)
	}
	if loc.Host != "stub.example.com" {
		t.Fatalf("expected redirect to the stub provider, got %q", loc.Host)
	}

	state, err := passport.DecodeState(loc.Query().Get("state"), auth.StateSecret)
	if err != nil {
		t.Fatalf("state did not verify: %v", err)
	}
	if state.Action != passport.ActionLink {
		t.Errorf("expected link action, got %q", state.Action)
	}
	if state.RedirectTo != "/settings" {
		t.Errorf("expected redirectTo '/settings', got %q", state.RedirectTo)
	}
	if state.SessionToken == "" || !strings.HasPrefix(state.SessionToken, "lnk_") {
		t.Fatalf("expected an opaque session token in the state, got %q", state.SessionToken)
	}

	// The minted token resolves back to the logged-in passport, exactly once
	got, err := auth.Sessions.Redeem(ctx, state.SessionToken)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if got != passportID {
		t.Errorf("session resolves to %q, expected %q", got, passportID)
	}
}

func TestCallbackRouteUnknownProvider(t *testing.T) {
	auth, _ := newTestAuth(t)
	handler := auth.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nosuch/oauth/callback", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown provider, got %d", rr.Code)
	}
}

func TestLogoutRoute(t *testing.T) {
	auth, _ := newTestAuth(t)
	handler := auth.Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logout?to=/bye", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/bye" {
		t.Errorf("expected redirect to '/bye', got %q", loc)
	}

	// Cookies are cleared on logout
	for _, c := range rr.Result().Cookies() {
		if c.Name == "loggedInPassportId" && c.MaxAge >= 0 {
			t.Error("expected the passport cookie to be expired")
		}
	}
}
