package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/federate-dev/passport"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// EmailsURL is the secondary endpoint used when the profile carries no
	// public email. Can be overridden for testing.
	EmailsURL string
}

func NewGithubOAuth2(flow *Flow, clientId string, clientSecret string, callbackUrl string) *GithubOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("PASSPORT_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("PASSPORT_GITHUB_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("PASSPORT_GITHUB_CALLBACK_URL"))
	}

	out := GithubOAuth2{
		BaseOAuth2: NewBaseOAuth2(flow, "github", clientId, clientSecret, callbackUrl),
		EmailsURL:  "https://api.github.com/user/emails",
	}
	out.UserInfoURL = "https://api.github.com/user"
	out.oauthConfig.Endpoint = github.Endpoint
	out.oauthConfig.Scopes = []string{
		"read:user", "user:email",
	}
	out.fetchUser = out.getUserData
	return &out
}

func (g *GithubOAuth2) getUserData(ctx context.Context, client *http.Client, token *oauth2.Token) (*passport.ExternalUser, error) {
	var userInfo map[string]any
	if err := getJSON(ctx, client, token, g.UserInfoURL, &userInfo); err != nil {
		return nil, err
	}

	user := &passport.ExternalUser{
		ID:        jsonString(userInfo["id"]),
		Email:     jsonString(userInfo["email"]),
		Username:  jsonString(userInfo["login"]),
		Name:      jsonString(userInfo["name"]),
		AvatarURL: jsonString(userInfo["avatar_url"]),
		Raw:       userInfo,
	}
	if user.Email == "" {
		// Many github profiles hide the email. The user:email scope lets
		// us ask for the verified addresses separately.
		email, err := g.getPrimaryEmail(ctx, client, token)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if user.Email == "" {
		return nil, passport.NewFlowError(passport.CodeNoEmail,
			"Your GitHub account has no verified email we can use.", nil)
	}
	return user, nil
}

func (g *GithubOAuth2) getPrimaryEmail(ctx context.Context, client *http.Client, token *oauth2.Token) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, token, g.EmailsURL, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
