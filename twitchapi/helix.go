// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for emote discovery (global and channel emotes) and for downloading emote
// images from the Twitch CDN, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	helixBase = "https://api.twitch.tv/helix"
	cdnBase   = "https://static-cdn.jtvnw.net/emoticons/v2"

	// DefaultTimeout bounds every Helix and CDN request. It is the only
	// liveness guard for a remote emote fetch done while rewriting a message.
	DefaultTimeout = 15 * time.Second
)

// HelixClient provides the few Helix calls needed for emote resolution.
type HelixClient struct {
	Tokens     oauth2.TokenSource
	ClientID   string
	HTTPClient *http.Client
}

// Emote is one entry of a Helix emote listing.
type Emote struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Format    []string `json:"format"`
	Scale     []string `json:"scale"`
	ThemeMode []string `json:"theme_mode"`
	EmoteType string   `json:"emote_type,omitempty"`
	EmoteSet  string   `json:"emote_set_id,omitempty"`
}

var defaultHTTPClient = &http.Client{Timeout: DefaultTimeout}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

func (hc *HelixClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if hc.Tokens == nil {
		return fmt.Errorf("helix: no token source configured")
	}
	tok, err := hc.Tokens.Token()
	if err != nil {
		return fmt.Errorf("helix: app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+endpoint, nil)
	if err != nil {
		return err
	}
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix %s: %s: %s", endpoint, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetGlobalEmotes lists the emotes every Twitch user can use.
func (hc *HelixClient) GetGlobalEmotes(ctx context.Context) ([]Emote, error) {
	var body struct {
		Data []Emote `json:"data"`
	}
	if err := hc.get(ctx, "/chat/emotes/global", nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetChannelEmotes lists the custom emotes of a broadcaster.
func (hc *HelixClient) GetChannelEmotes(ctx context.Context, broadcasterID string) ([]Emote, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []Emote `json:"data"`
	}
	if err := hc.get(ctx, "/chat/emotes", url.Values{"broadcaster_id": {broadcasterID}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// EmoteImageURL returns the CDN URL of the largest dark-theme image of an
// emote. The "default" format serves the animated variant when one exists.
func EmoteImageURL(id string) string {
	return fmt.Sprintf("%s/%s/default/dark/3.0", cdnBase, url.PathEscape(id))
}

// FetchEmoteImage downloads the image bytes of an emote from the CDN.
// The CDN does not require authentication.
func (hc *HelixClient) FetchEmoteImage(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("emote id empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, EmoteImageURL(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emote image %s: %s", id, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
