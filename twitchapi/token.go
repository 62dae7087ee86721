package twitchapi

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is the Twitch OAuth token endpoint for the client-credentials grant.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// NewAppTokenSource returns a caching source of Twitch app access tokens.
// Tokens are fetched lazily and refreshed shortly before expiry.
// NOTE: app tokens only authorize Helix calls; they cannot be used for IRC chat.
func NewAppTokenSource(ctx context.Context, clientID, clientSecret string, hc *http.Client) (oauth2.TokenSource, error) {
	return newAppTokenSource(ctx, clientID, clientSecret, TokenURL, hc)
}

func newAppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string, hc *http.Client) (oauth2.TokenSource, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		// Twitch rejects HTTP basic client auth on this endpoint.
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return cfg.TokenSource(ctx), nil
}
