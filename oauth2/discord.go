package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/federate-dev/passport"
	"golang.org/x/oauth2"
)

// discordEndpoint mirrors endpoints.Discord, which only exists in
// golang.org/x/oauth2 >= v0.27.0 (requires Go 1.23).
var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

type DiscordOAuth2 struct {
	*BaseOAuth2
}

func NewDiscordOAuth2(flow *Flow, clientId string, clientSecret string, callbackUrl string) *DiscordOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("PASSPORT_DISCORD_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("PASSPORT_DISCORD_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("PASSPORT_DISCORD_CALLBACK_URL"))
	}

	out := DiscordOAuth2{
		BaseOAuth2: NewBaseOAuth2(flow, "discord", clientId, clientSecret, callbackUrl),
	}
	out.UserInfoURL = "https://discord.com/api/users/@me"
	out.oauthConfig.Endpoint = discordEndpoint
	out.oauthConfig.Scopes = []string{
		"identify", "email",
	}
	out.fetchUser = out.getUserData
	return &out
}

func (d *DiscordOAuth2) getUserData(ctx context.Context, client *http.Client, token *oauth2.Token) (*passport.ExternalUser, error) {
	var userInfo map[string]any
	if err := getJSON(ctx, client, token, d.UserInfoURL, &userInfo); err != nil {
		return nil, err
	}

	user := &passport.ExternalUser{
		ID:       jsonString(userInfo["id"]),
		Email:    jsonString(userInfo["email"]),
		Username: jsonString(userInfo["username"]),
		Name:     jsonString(userInfo["global_name"]),
		Raw:      userInfo,
	}
	if user.Name == "" {
		user.Name = user.Username
	}
	if hash := jsonString(userInfo["avatar"]); hash != "" && user.ID != "" {
		user.AvatarURL = "https://cdn.discordapp.com/avatars/" + user.ID + "/" + hash + ".png"
	}
	// Discord only returns the email when the user granted the email
	// scope. A synthesized address keeps the account usable, the user can
	// set a real one later.
	if user.Email == "" && user.ID != "" {
		user.Email = user.ID + "@placeholder.discord"
	}
	return user, nil
}
