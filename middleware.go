package passport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type passportParamKey string

// Middleware extracts the logged-in passport ID from a request: first the
// request context, then the server session, then the JWT auth token in the
// Authorization header or the auth cookie.
type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	PassportParamName   string
	CallbackURLParam    string
	SessionGetter       func(r *http.Request, param string) any
	GetRedirURL         func(r *http.Request) string
	VerifyToken         func(tokenString string) (passportID string, token any, err error)
}

func (m *Middleware) EnsureReasonableDefaults() {
	if m.PassportParamName == "" {
		m.PassportParamName = "loggedInPassportId"
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
}

// GetLoggedInPassportId returns the passport ID on the request, or "".
func (m *Middleware) GetLoggedInPassportId(r *http.Request) string {
	if v := r.Context().Value(passportParamKey(m.PassportParamName)); v != nil {
		if passportID, ok := v.(string); ok && passportID != "" {
			return passportID
		}
	}

	if m.SessionGetter != nil {
		if v := m.SessionGetter(r, m.PassportParamName); v != nil && v != "" {
			return v.(string)
		}
	}

	if m.VerifyToken == nil {
		slog.Warn("No auth token verifier found.  Please set one")
		return ""
	}

	// Fall back to the auth token, header first then cookie
	authTokens := r.Header.Values(m.AuthTokenHeaderName)
	for _, cookie := range r.Cookies() {
		// r.CookiesNamed requires Go 1.23; filter by name for older toolchains.
		if m.AuthTokenCookieName == "" || cookie.Name != m.AuthTokenCookieName {
			continue
		}
		if len(cookie.Value) > 0 {
			authTokens = append(authTokens, cookie.Value)
		}
	}
	for _, authToken := range authTokens {
		authToken = strings.TrimPrefix(authToken, "Bearer ")
		passportID, _, err := m.VerifyToken(authToken)
		if err == nil && passportID != "" {
			return passportID
		} else if err != nil {
			slog.Warn("error verifying token", "error", err)
		}
	}
	return ""
}

// ExtractPassport loads the passport ID (if any) into the request context
// for downstream handlers. It never redirects. Use EnsurePassport to also
// require a login.
func (m *Middleware) ExtractPassport(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			passportID := m.GetLoggedInPassportId(r)
			next.ServeHTTP(w, m.setLoggedInPassportId(passportID, r))
		},
	)
}

// EnsurePassport is ExtractPassport plus enforcement: anonymous requests
// are redirected to the login URL (when GetRedirURL is set) or get a 401.
func (m *Middleware) EnsurePassport(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			passportID := m.GetLoggedInPassportId(r)
			if passportID == "" {
				redirUrl := ""
				if m.GetRedirURL != nil {
					redirUrl = m.GetRedirURL(r)
				}
				if redirUrl != "" {
					encodedUrl := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
					fullRedirUrl := fmt.Sprintf("%s?%s=%s", redirUrl, m.CallbackURLParam, encodedUrl)
					http.Redirect(w, r, fullRedirUrl, http.StatusFound)
				} else {
					http.Error(w, "Login Required", http.StatusUnauthorized)
				}
				return
			}
			next.ServeHTTP(w, m.setLoggedInPassportId(passportID, r))
		},
	)
}

// Set the passport id into the request context so it is available to all
// downstream handlers.
func (m *Middleware) setLoggedInPassportId(passportID string, r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), passportParamKey(m.PassportParamName), passportID)
	return r.WithContext(ctx)
}
