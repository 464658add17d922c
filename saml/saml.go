// Package saml mounts a SAML service provider next to the OAuth2
// adapters. Assertions are normalized into the same external user shape
// and federated through the same engine, so a SAML login lands in the
// same passport it would via OAuth.
//
// SAML identities are login-only: the protocol has no equivalent of the
// link consent round trip, so linking stays with the OAuth2 adapters.
package saml

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/gorilla/mux"

	"github.com/federate-dev/passport"
)

// Well known assertion attribute suffixes. IdPs disagree on the full
// claim URIs but the suffixes are stable across Azure AD and ADFS.
const (
	claimEmailSuffix = "/claims/emailaddress"
	claimNameSuffix  = "/claims/displayname"
	subjectIDAttr    = "urn:oasis:names:tc:SAML:attribute:subject-id"
)

// Federator is the slice of the federation engine the adapter needs.
type Federator interface {
	Federate(ctx context.Context, provider string, user *passport.ExternalUser) (passportID string, isNew bool, err error)
}

// Service is a SAML service provider wired into the federation engine.
type Service struct {
	Engine Federator

	// ProviderName keys the identities this adapter creates. Defaults to "saml".
	ProviderName string

	// Issuer identifies our SP to the IdP. PASSPORT_SAML_ISSUER fallback.
	Issuer string

	// MetadataURL is where the IdP metadata document lives.
	// PASSPORT_SAML_METADATA_URL fallback.
	MetadataURL string

	// RootURL is the externally visible base of the auth routes,
	// eg https://example.com/auth/. PASSPORT_SAML_ROOT_URL fallback.
	RootURL string

	// CertFile and KeyFile hold the SP signing key pair.
	CertFile string
	KeyFile  string

	// LoginURL is where failed logins land. Defaults to /login
	LoginURL string

	// CompleteLogin installs the app session after federation, typically
	// (*passport.Auth).CompleteLogin.
	CompleteLogin func(passportID string, isNew bool, redirectTo string, w http.ResponseWriter, r *http.Request)

	middleware *samlsp.Middleware
}

func NewService(engine Federator) *Service {
	return (&Service{Engine: engine}).EnsureDefaults()
}

func (s *Service) EnsureDefaults() *Service {
	if s.ProviderName == "" {
		s.ProviderName = "saml"
	}
	if s.Issuer == "" {
		s.Issuer = strings.TrimSpace(os.Getenv("PASSPORT_SAML_ISSUER"))
	}
	if s.MetadataURL == "" {
		s.MetadataURL = strings.TrimSpace(os.Getenv("PASSPORT_SAML_METADATA_URL"))
	}
	if s.RootURL == "" {
		s.RootURL = strings.TrimSpace(os.Getenv("PASSPORT_SAML_ROOT_URL"))
	}
	if s.CertFile == "" {
		s.CertFile = "saml_service.cert"
	}
	if s.KeyFile == "" {
		s.KeyFile = "saml_service.key"
	}
	if s.LoginURL == "" {
		s.LoginURL = "/login"
	}
	return s
}

// Register mounts the SAML routes on the given router:
// /saml/login, /saml/acs, /saml/logout and the samlsp metadata handler.
func (s *Service) Register(rg *mux.Router) error {
	s.EnsureDefaults()
	if s.Issuer == "" || s.MetadataURL == "" || s.RootURL == "" {
		return fmt.Errorf("saml issuer, metadata url and root url are all required")
	}

	keyPair, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return fmt.Errorf("error loading saml key pair: %w", err)
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return fmt.Errorf("error parsing saml certificate: %w", err)
	}

	idpMetadataURL, err := url.Parse(s.MetadataURL)
	if err != nil {
		return fmt.Errorf("error parsing metadata url %q: %w", s.MetadataURL, err)
	}
	idpMetadata, err := samlsp.FetchMetadata(context.Background(), http.DefaultClient, *idpMetadataURL)
	if err != nil {
		return fmt.Errorf("error fetching idp metadata: %w", err)
	}

	rootURL, err := url.Parse(s.RootURL)
	if err != nil {
		return fmt.Errorf("error parsing root url %q: %w", s.RootURL, err)
	}

	s.middleware, err = samlsp.New(samlsp.Options{
		EntityID:    s.Issuer,
		URL:         *rootURL,
		Key:         keyPair.PrivateKey.(*rsa.PrivateKey),
		Certificate: keyPair.Leaf,
		IDPMetadata: idpMetadata,
		SignRequest: true, // some IdPs require signed requests
	})
	if err != nil {
		return fmt.Errorf("error building saml middleware: %w", err)
	}

	// The login and ACS handlers bypass samlsp's RequireAccount wrapper.
	// That middleware protects resources behind a mandatory SAML session,
	// but here SAML is one login choice among several, so we drive the
	// request tracker and response parsing ourselves and hand the parsed
	// assertion to the federation engine.
	rg.HandleFunc("/saml/login", s.handleLogin)
	rg.HandleFunc("/saml/acs", s.handleACS)
	rg.Handle("/saml/logout", http.HandlerFunc(s.handleLogout))
	rg.PathPrefix("/saml/").Handler(s.middleware)
	return nil
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	m := s.middleware
	authReq, err := m.ServiceProvider.MakeAuthenticationRequest(
		m.ServiceProvider.GetSSOBindingLocation(saml.HTTPRedirectBinding),
		saml.HTTPRedirectBinding, m.ResponseBinding)
	if err != nil {
		slog.Error("error building saml auth request", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The request tracker persists redirectTo in the relay state so the
	// ACS handler can send the browser back where the login started.
	returnTo, err := url.Parse(r.URL.Query().Get("redirectTo"))
	if err != nil || returnTo.String() == "" {
		returnTo = &url.URL{Path: "/"}
	}
	relayState, err := m.RequestTracker.TrackRequest(w, &http.Request{URL: returnTo}, authReq.ID)
	if err != nil {
		slog.Error("error tracking saml request", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	redirectURL, err := authReq.Redirect(relayState, &m.ServiceProvider)
	if err != nil {
		slog.Error("error building saml redirect", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Service) handleACS(w http.ResponseWriter, r *http.Request) {
	m := s.middleware
	if err := r.ParseForm(); err != nil {
		slog.Error("error parsing acs form", "err", err)
		m.OnError(w, r, err)
		return
	}

	possibleRequestIDs := []string{}
	if m.ServiceProvider.AllowIDPInitiated {
		possibleRequestIDs = append(possibleRequestIDs, "")
	}
	redirectTo := ""
	for _, tr := range m.RequestTracker.GetTrackedRequests(r) {
		possibleRequestIDs = append(possibleRequestIDs, tr.SAMLRequestID)
		if tr.URI != "" {
			redirectTo = tr.URI
		}
	}

	assertion, err := m.ServiceProvider.ParseResponse(r, possibleRequestIDs)
	if err != nil {
		slog.Error("error parsing acs response", "err", err)
		m.OnError(w, r, err)
		return
	}

	if err = m.Session.CreateSession(w, r, assertion); err != nil {
		slog.Error("error creating saml session", "err", err)
		m.OnError(w, r, err)
		return
	}

	user := externalUserFromAssertion(assertion)
	if user.ID == "" {
		s.redirectError(w, r, passport.NewFlowError(passport.CodeUserFetch,
			"The identity provider response carried no subject.", nil))
		return
	}
	if user.Email == "" {
		s.redirectError(w, r, passport.NewFlowError(passport.CodeNoEmail,
			"Your identity provider did not share an email address.", nil))
		return
	}

	passportID, isNew, err := s.Engine.Federate(r.Context(), s.ProviderName, user)
	if err != nil {
		s.redirectError(w, r, passport.FlowErrorFrom(err))
		return
	}
	if s.CompleteLogin != nil {
		s.CompleteLogin(passportID, isNew, redirectTo, w, r)
		return
	}
	if redirectTo == "" {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	m := s.middleware
	nameID := samlsp.AttributeFromContext(r.Context(), subjectIDAttr)
	redirect, err := m.ServiceProvider.MakeRedirectLogoutRequest(nameID, "")
	if err != nil {
		slog.Error("error building saml logout request", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.Session.DeleteSession(w, r); err != nil {
		slog.Error("error deleting saml session", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Location", redirect.String())
	w.WriteHeader(http.StatusFound)
}

func (s *Service) redirectError(w http.ResponseWriter, r *http.Request, fe *passport.FlowError) {
	q := url.Values{}
	q.Set("error", fe.Code)
	q.Set("message", fe.Message)
	slog.Info("saml login failed", "code", fe.Code, "err", fe.Err)
	http.Redirect(w, r, s.LoginURL+"?"+q.Encode(), http.StatusFound)
}

// externalUserFromAssertion flattens the assertion's attribute
// statements into the external user shape the federation engine expects.
// The subject NameID is the stable provider user id.
func externalUserFromAssertion(assertion *saml.Assertion) *passport.ExternalUser {
	user := &passport.ExternalUser{Raw: map[string]any{}}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		user.ID = assertion.Subject.NameID.Value
	}
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			value := attr.Values[0].Value
			user.Raw[attr.Name] = value
			switch {
			case strings.HasSuffix(attr.Name, claimEmailSuffix) || attr.FriendlyName == "mail":
				user.Email = value
			case strings.HasSuffix(attr.Name, claimNameSuffix) || attr.FriendlyName == "displayName":
				user.Name = value
			case attr.Name == subjectIDAttr && user.ID == "":
				user.ID = value
			}
		}
	}
	if user.Email != "" && user.Username == "" {
		user.Username = strings.Split(user.Email, "@")[0]
	}
	return user
}
