package passport

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// Provider is a mounted auth adapter. The oauth2 subpackage providers
// implement this. Adapters with their own route shape (eg saml) mount
// themselves instead.
type Provider interface {
	Name() string

	// AuthorizeURL builds the provider redirect for an already signed state.
	AuthorizeURL(state string) string

	// HandleAuthorize starts a login round trip.
	HandleAuthorize(w http.ResponseWriter, r *http.Request)

	// HandleCallback finishes a round trip, login or link.
	HandleCallback(w http.ResponseWriter, r *http.Request)
}

// Auth mounts the federation flows on an HTTP router and owns the
// logged-in browser session: an scs server session plus a signed JWT
// cookie for API consumers.
type Auth struct {
	router    *mux.Router
	providers map[string]Provider

	Session    *scs.SessionManager
	Middleware Middleware

	Engine   *Engine
	Sessions *LinkSessions

	// Optional name used as a prefix for defaults
	AppName string

	// Name of the session variable where the auth token is stored
	AuthTokenSessionVar string

	// All the domains where the auth token cookies will be set on a login success or logout
	CookieDomains []string

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// Key used to sign OAuth state payloads. Falls back to the JWT key.
	StateSecret []byte

	// How long is a session cookie valid for.  Defaults to 1 day
	SessionTimeoutInSeconds int

	// Where link results and unlink results land
	DashboardURL string

	// Where logins land when the state carries no redirect
	DefaultRedirect string
}

func New(appName string, engine *Engine, sessions *LinkSessions) *Auth {
	out := (&Auth{AppName: appName, Engine: engine, Sessions: sessions}).EnsureDefaults()
	return out
}

func (a *Auth) EnsureDefaults() *Auth {
	if a.AppName == "" {
		a.AppName = "Passport"
	}
	if a.SessionTimeoutInSeconds <= 0 {
		a.SessionTimeoutInSeconds = 86400
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.AuthTokenSessionVar == "" {
		a.AuthTokenSessionVar = fmt.Sprintf("%sAuthToken", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("PASSPORT_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if len(a.StateSecret) == 0 {
		if key := strings.TrimSpace(os.Getenv("PASSPORT_STATE_SECRET")); key != "" {
			a.StateSecret = []byte(key)
		} else {
			a.StateSecret = []byte(a.JWTSecretKey)
		}
	}
	if a.DashboardURL == "" {
		a.DashboardURL = "/dashboard"
	}
	if a.DefaultRedirect == "" {
		a.DefaultRedirect = "/"
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.AuthTokenSessionVar
	}
	if a.Middleware.PassportParamName == "" {
		a.Middleware.PassportParamName = "loggedInPassportId"
	}
	if a.Middleware.VerifyToken == nil {
		a.Middleware.VerifyToken = a.verifyJWT
	}
	if a.Middleware.SessionGetter == nil && a.Session != nil {
		a.Middleware.SessionGetter = func(r *http.Request, param string) any {
			return a.Session.Get(r.Context(), param)
		}
	}
	return a
}

func (a *Auth) Handler() http.Handler {
	return a.setupRoutes().router
}

// AddProvider registers an adapter under /{name}/oauth/...
func (a *Auth) AddProvider(p Provider) *Auth {
	a.setupRoutes()
	a.EnsureDefaults()
	log.Println("Adding auth provider: ", p.Name())
	a.providers[p.Name()] = p
	return a
}

// Router exposes the underlying router so applications can mount extra
// routes (eg the saml adapter) next to the oauth ones.
func (a *Auth) Router() *mux.Router {
	return a.setupRoutes().router
}

func (a *Auth) setupRoutes() *Auth {
	if a.router == nil {
		a.providers = map[string]Provider{}
		a.router = mux.NewRouter()
		a.router.HandleFunc("/logout", a.onLogout)
		a.router.Handle("/link/start", a.Middleware.EnsurePassport(http.HandlerFunc(a.onStartLink)))
		a.router.Handle("/unlink", a.Middleware.EnsurePassport(http.HandlerFunc(a.onUnlink)))
		a.router.HandleFunc("/{provider}/oauth/login", a.onAuthorize)
		a.router.HandleFunc("/{provider}/oauth/callback", a.onCallback)
	}
	return a
}

func (a *Auth) provider(r *http.Request) Provider {
	return a.providers[mux.Vars(r)["provider"]]
}

func (a *Auth) onAuthorize(w http.ResponseWriter, r *http.Request) {
	p := a.provider(r)
	if p == nil {
		http.NotFound(w, r)
		return
	}
	p.HandleAuthorize(w, r)
}

func (a *Auth) onCallback(w http.ResponseWriter, r *http.Request) {
	p := a.provider(r)
	if p == nil {
		http.NotFound(w, r)
		return
	}
	p.HandleCallback(w, r)
}

// onStartLink mints a linking session for the logged-in passport and sends
// the browser into the provider's consent flow with a link state. The
// state carries the opaque session token, never the passport id.
func (a *Auth) onStartLink(w http.ResponseWriter, r *http.Request) {
	passportID := a.Middleware.GetLoggedInPassportId(r)
	p := a.providers[r.URL.Query().Get("provider")]
	if p == nil {
		a.redirectDashboard(w, r, CodeConfig, "Unknown provider.")
		return
	}
	token, _, err := a.Sessions.Create(r.Context(), passportID)
	if err != nil {
		slog.Error("failed to start linking session", "passport", passportID, "err", err)
		a.redirectDashboard(w, r, CodeLinkFailed, "Could not start linking. Please try again.")
		return
	}
	state := EncodeState(&State{
		Action:       ActionLink,
		RedirectTo:   r.URL.Query().Get("redirectTo"),
		SessionToken: token,
	}, a.StateSecret)
	http.Redirect(w, r, p.AuthorizeURL(state), http.StatusFound)
}

func (a *Auth) onUnlink(w http.ResponseWriter, r *http.Request) {
	passportID := a.Middleware.GetLoggedInPassportId(r)
	provider := r.FormValue("provider")
	if err := a.Engine.Unlink(r.Context(), passportID, provider); err != nil {
		fe := FlowErrorFrom(err)
		slog.Warn("unlink rejected", "passport", passportID, "provider", provider, "err", err)
		a.redirectDashboard(w, r, fe.Code, fe.Message)
		return
	}
	http.Redirect(w, r, a.DashboardURL, http.StatusFound)
}

func (a *Auth) redirectDashboard(w http.ResponseWriter, r *http.Request, code, message string) {
	q := url.Values{}
	q.Set("error", code)
	q.Set("message", message)
	http.Redirect(w, r, a.DashboardURL+"?"+q.Encode(), http.StatusFound)
}

func (a *Auth) verifyJWT(tokenString string) (passportID string, t any, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(a.JWTSecretKey), nil
	})
	if err != nil {
		return "", nil, err
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", nil, fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if sub == "" {
		return "", nil, fmt.Errorf("subject not found")
	} else if err != nil {
		return "", nil, err
	}
	return sub, token, nil
}

func (a *Auth) onLogout(w http.ResponseWriter, r *http.Request) {
	log.Println("Logging out passport...")
	a.SignInPassport("", w, r)
	toUrl := r.URL.Query().Get("to")
	if toUrl == "" {
		fmt.Fprintf(w, "Logged Out")
	} else {
		http.Redirect(w, r, toUrl, http.StatusFound)
	}
}

// CompleteLogin is called by provider adapters once federation succeeded.
// It installs the session cookies and sends the browser back where the
// state said to go.
func (a *Auth) CompleteLogin(passportID string, isNew bool, redirectTo string, w http.ResponseWriter, r *http.Request) {
	a.SignInPassport(passportID, w, r)
	target := redirectTo
	if target == "" {
		target = a.DefaultRedirect
	}
	if u, _ := url.Parse(target); u != nil && u.Scheme == "" && !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	if isNew {
		slog.Info("first login", "passport", passportID)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// SignInPassport sets the auth token and passport ID cookies on all the
// cookie domains we care about. An empty passportID logs the user out.
func (a *Auth) SignInPassport(passportID string, w http.ResponseWriter, r *http.Request) string {
	a.EnsureDefaults()
	domains := a.CookieDomains
	if slices.Index(a.CookieDomains, "") < 0 { // default domain
		domains = append(domains, "")
	}
	for _, cookieDomain := range domains {
		if passportID != "" {
			if a.Session != nil {
				a.Session.Put(r.Context(), a.Middleware.PassportParamName, passportID)
			}
			http.SetCookie(w, &http.Cookie{
				Name:    "loggedInPassportId",
				Value:   passportID,
				Domain:  cookieDomain,
				Path:    "/",
				Expires: time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
			})

			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": passportID,
				"iss": a.JwtIssuer,
				"exp": time.Now().Add(time.Hour).Unix(),
				"iat": time.Now().Unix(),
			})
			tokenString, err := token.SignedString([]byte(a.JWTSecretKey))
			if err != nil {
				slog.Info("error signing token", "err", err)
			}

			if a.Session != nil {
				a.Session.Put(r.Context(), a.AuthTokenSessionVar, tokenString)
			}
			http.SetCookie(w, &http.Cookie{
				Name:    a.AuthTokenSessionVar,
				Value:   tokenString,
				Domain:  cookieDomain,
				Path:    "/",
				Expires: time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
			})
			return tokenString
		}

		// clear the session and cookie values
		if a.Session != nil {
			if err := a.Session.Clear(r.Context()); err != nil {
				slog.Warn("error clearing session ", "err", err)
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:    "loggedInPassportId",
			Domain:  cookieDomain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Now(),
		})
		http.SetCookie(w, &http.Cookie{
			Name:    a.AuthTokenSessionVar,
			Domain:  cookieDomain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Now(),
		})
	}
	return ""
}
