package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/federate-dev/passport"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

type GoogleOAuth2 struct {
	*BaseOAuth2
}

func NewGoogleOAuth2(flow *Flow, clientId string, clientSecret string, callbackUrl string) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("PASSPORT_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("PASSPORT_GOOGLE_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("PASSPORT_GOOGLE_CALLBACK_URL"))
	}

	out := GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(flow, "google", clientId, clientSecret, callbackUrl),
	}
	out.UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
	out.fetchUser = out.getUserData
	return &out
}

func (g *GoogleOAuth2) getUserData(ctx context.Context, client *http.Client, token *oauth2.Token) (*passport.ExternalUser, error) {
	var userInfo map[string]any
	if err := getJSON(ctx, client, token, g.UserInfoURL, &userInfo); err != nil {
		return nil, err
	}

	user := &passport.ExternalUser{
		ID:        jsonString(userInfo["id"]),
		Email:     jsonString(userInfo["email"]),
		Name:      jsonString(userInfo["name"]),
		AvatarURL: jsonString(userInfo["picture"]),
		Raw:       userInfo,
	}
	// Google always returns an email for the userinfo.email scope. If it
	// is missing something is wrong enough to stop.
	if user.Email == "" {
		return nil, passport.NewFlowError(passport.CodeNoEmail,
			"Google did not return an email for your account.", nil)
	}
	return user, nil
}
