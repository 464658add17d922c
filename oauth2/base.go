package oauth2

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/federate-dev/passport"
	"golang.org/x/oauth2"
)

const defaultExchangeTimeout = 10 * time.Second

// fetchUserFunc retrieves and normalizes the provider profile for a fresh
// access token. Each provider supplies its own.
type fetchUserFunc func(ctx context.Context, client *http.Client, token *oauth2.Token) (*passport.ExternalUser, error)

// BaseOAuth2 carries everything shared by the concrete providers: the
// oauth2 config, the callback pipeline and the error-to-redirect mapping.
// It implements passport.Provider.
type BaseOAuth2 struct {
	Flow *Flow

	ProviderName string
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// UserInfoURL is the URL to fetch user info from. Defaults to the
	// provider's API. Can be overridden for testing.
	UserInfoURL string

	// HTTPClient is used for token exchange and profile fetches. Defaults
	// to http.DefaultClient. Can be overridden for testing.
	HTTPClient *http.Client

	// ExchangeTimeout bounds each token exchange attempt
	ExchangeTimeout time.Duration

	oauthConfig oauth2.Config
	fetchUser   fetchUserFunc
}

func NewBaseOAuth2(flow *Flow, name, clientId, clientSecret, callbackUrl string) *BaseOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("PASSPORT_OAUTH2_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("PASSPORT_OAUTH2_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("PASSPORT_OAUTH2_CALLBACK_URL"))
	}
	return &BaseOAuth2{
		Flow:            flow.EnsureDefaults(),
		ProviderName:    name,
		ClientId:        clientId,
		ClientSecret:    clientSecret,
		CallbackURL:     callbackUrl,
		ExchangeTimeout: defaultExchangeTimeout,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
}

func (b *BaseOAuth2) Name() string { return b.ProviderName }

// AuthorizeURL builds the provider consent URL for an already signed state.
func (b *BaseOAuth2) AuthorizeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state)
}

// SetAuthURL overrides the provider's authorize endpoint. For testing.
func (b *BaseOAuth2) SetAuthURL(u string) { b.oauthConfig.Endpoint.AuthURL = u }

// SetTokenURL overrides the provider's token endpoint. For testing.
func (b *BaseOAuth2) SetTokenURL(u string) { b.oauthConfig.Endpoint.TokenURL = u }

// HandleAuthorize starts a login round trip, carrying the post-login
// destination inside the signed state.
func (b *BaseOAuth2) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectTo := r.URL.Query().Get("callbackURL")
	if redirectTo == "" {
		redirectTo = r.URL.Query().Get("redirectTo")
	}
	state := passport.EncodeState(&passport.State{
		Action:     passport.ActionLogin,
		RedirectTo: redirectTo,
	}, b.Flow.StateSecret)
	http.Redirect(w, r, b.AuthorizeURL(state), http.StatusFound)
}

// HandleCallback finishes a round trip, login or link. Every failure exits
// through a redirect carrying error=<code>&message=<text>. Raw server
// errors never reach the browser.
func (b *BaseOAuth2) HandleCallback(w http.ResponseWriter, r *http.Request) {
	action := passport.ActionLogin
	redirectTo := ""
	fail := func(fe *passport.FlowError) {
		b.Flow.redirectError(w, r, action, redirectTo, fe)
	}

	if b.ClientId == "" || b.ClientSecret == "" {
		fail(passport.NewFlowError(passport.CodeConfig, "This sign-in method is not configured.", nil))
		return
	}

	state, err := passport.DecodeState(r.FormValue("state"), b.Flow.StateSecret)
	if err != nil {
		fail(passport.NewFlowError(passport.CodeInvalidState, "Sign in could not be verified. Please start over.", err))
		return
	}
	action = state.Action
	redirectTo = state.RedirectTo

	// The provider reported a failure, eg the user denied consent. Its
	// code rides through verbatim.
	if ec := r.FormValue("error"); ec != "" {
		msg := r.FormValue("error_description")
		if msg == "" {
			msg = "The provider rejected the sign in."
		}
		fail(passport.NewFlowError(ec, msg, nil))
		return
	}

	token, err := b.exchangeCode(r.Context(), r.FormValue("code"))
	if err != nil {
		fail(passport.NewFlowError(passport.CodeTokenExchange, "Could not complete sign in with the provider.", err))
		return
	}

	user, err := b.fetchUser(r.Context(), b.httpClient(), token)
	if err != nil {
		var fe *passport.FlowError
		if errors.As(err, &fe) {
			fail(fe)
		} else {
			fail(passport.NewFlowError(passport.CodeUserFetch, "Could not read your profile from the provider.", err))
		}
		return
	}

	if action == passport.ActionLink {
		b.finishLink(w, r, state, user)
		return
	}

	passportID, isNew, err := b.Flow.Engine.Federate(r.Context(), b.ProviderName, user)
	if err != nil {
		fail(passport.FlowErrorFrom(err))
		return
	}
	slog.Info("oauth login", "provider", b.ProviderName, "passport", passportID, "new", isNew)
	b.Flow.CompleteLogin(passportID, isNew, redirectTo, w, r)
}

func (b *BaseOAuth2) finishLink(w http.ResponseWriter, r *http.Request, state *passport.State, user *passport.ExternalUser) {
	passportID, err := b.Flow.Sessions.Redeem(r.Context(), state.SessionToken)
	if err != nil {
		b.Flow.redirectError(w, r, state.Action, state.RedirectTo, passport.FlowErrorFrom(err))
		return
	}
	if err := b.Flow.Engine.Link(r.Context(), passportID, b.ProviderName, user); err != nil {
		b.Flow.redirectError(w, r, state.Action, state.RedirectTo, passport.FlowErrorFrom(err))
		return
	}
	target := state.RedirectTo
	if target == "" {
		target = b.Flow.DashboardURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// exchangeCode swaps the authorization code for a token. Each attempt is
// bounded by ExchangeTimeout and a transient failure is retried once.
func (b *BaseOAuth2) exchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		exCtx, cancel := context.WithTimeout(ctx, b.ExchangeTimeout)
		token, err := b.oauthConfig.Exchange(exCtx, code)
		cancel()
		if err == nil {
			return token, nil
		}
		lastErr = err
		slog.Info("code exchange failed", "provider", b.ProviderName, "attempt", attempt, "err", err)
	}
	return nil, lastErr
}

func (b *BaseOAuth2) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}
