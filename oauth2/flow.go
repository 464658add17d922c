package oauth2

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/federate-dev/passport"
)

// Federator is the slice of the federation engine the adapters need.
type Federator interface {
	Federate(ctx context.Context, provider string, user *passport.ExternalUser) (passportID string, isNew bool, err error)
	Link(ctx context.Context, passportID, provider string, user *passport.ExternalUser) error
}

// SessionRedeemer resolves a linking session token to a passport ID.
type SessionRedeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

// Flow holds the collaborators shared by every provider adapter: the
// federation engine, the linking session manager and the state signing
// key. One Flow is wired per app and handed to each provider constructor.
type Flow struct {
	Engine   Federator
	Sessions SessionRedeemer

	// StateSecret signs the OAuth state payload
	StateSecret []byte

	// LoginURL is where login failures land. Defaults to /login
	LoginURL string

	// DashboardURL is where link results land. Defaults to /dashboard
	DashboardURL string

	// CompleteLogin installs the app's session after a successful login,
	// typically (*passport.Auth).CompleteLogin. When nil the adapter just
	// redirects.
	CompleteLogin func(passportID string, isNew bool, redirectTo string, w http.ResponseWriter, r *http.Request)
}

func (f *Flow) EnsureDefaults() *Flow {
	if f.LoginURL == "" {
		f.LoginURL = "/login"
	}
	if f.DashboardURL == "" {
		f.DashboardURL = "/dashboard"
	}
	if f.CompleteLogin == nil {
		f.CompleteLogin = func(passportID string, isNew bool, redirectTo string, w http.ResponseWriter, r *http.Request) {
			if redirectTo == "" {
				redirectTo = "/"
			}
			http.Redirect(w, r, redirectTo, http.StatusFound)
		}
	}
	return f
}

// redirectError sends a failed callback back to the browser as
// error=<code>&message=<text> query params. Login failures land on the
// login page, link failures back on the page that started the link.
func (f *Flow) redirectError(w http.ResponseWriter, r *http.Request, action, redirectTo string, fe *passport.FlowError) {
	target := f.LoginURL
	if action == passport.ActionLink {
		target = f.DashboardURL
		if redirectTo != "" {
			target = redirectTo
		}
	}
	q := url.Values{}
	q.Set("error", fe.Code)
	q.Set("message", fe.Message)
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	slog.Info("auth flow failed", "code", fe.Code, "err", fe.Err)
	http.Redirect(w, r, target+sep+q.Encode(), http.StatusFound)
}
