package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/onnwee/emotebot/testutil"
)

func newTestClient(m *testutil.MockTwitchServer) *HelixClient {
	return &HelixClient{
		Tokens:     oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		ClientID:   "test-client-id",
		HTTPClient: m.Client(),
	}
}

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if r.Header.Get("Client-Id") != "test-client-id" {
		t.Errorf("missing or wrong Client-Id header")
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		t.Errorf("missing or wrong Authorization header")
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "12345", "login": "testuser"},
				},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:  "user not found",
			login: "nonexistent",
			response: map[string]interface{}{
				"data": []map[string]string{},
			},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
		{
			name:        "server error",
			login:       "testuser",
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
				checkAuth(t, r)
				if r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			})

			userID, err := newTestClient(m).GetUserID(context.Background(), tt.login)

			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetGlobalEmotes(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockGlobalEmotesResponse([][2]string{{"25", "Kappa"}, {"88", "PogChamp"}})

	emotes, err := newTestClient(m).GetGlobalEmotes(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalEmotes() error = %v", err)
	}
	if len(emotes) != 2 {
		t.Fatalf("GetGlobalEmotes() returned %d emotes, want 2", len(emotes))
	}
	if emotes[0].ID != "25" || emotes[0].Name != "Kappa" {
		t.Errorf("first emote = %+v, want Kappa/25", emotes[0])
	}
	if len(emotes[1].Scale) != 3 {
		t.Errorf("scale not decoded: %+v", emotes[1])
	}
}

func TestHelixClient_GetChannelEmotes(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handle("/helix/chat/emotes", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if got := r.URL.Query().Get("broadcaster_id"); got != "141981764" {
			t.Errorf("broadcaster_id = %s, want 141981764", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "emotesv2_1", "name": "twitchdevHype", "emote_type": "subscriptions", "emote_set_id": "301"},
			},
		})
	})

	client := newTestClient(m)
	emotes, err := client.GetChannelEmotes(context.Background(), "141981764")
	if err != nil {
		t.Fatalf("GetChannelEmotes() error = %v", err)
	}
	if len(emotes) != 1 || emotes[0].EmoteType != "subscriptions" || emotes[0].EmoteSet != "301" {
		t.Errorf("GetChannelEmotes() = %+v", emotes)
	}

	if _, err := client.GetChannelEmotes(context.Background(), ""); err == nil {
		t.Error("GetChannelEmotes(\"\") error = nil, want error")
	}
}

func TestHelixClient_FetchEmoteImage(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockEmoteImage("25", []byte("png-bytes"))

	client := newTestClient(m)
	data, err := client.FetchEmoteImage(context.Background(), "25")
	if err != nil {
		t.Fatalf("FetchEmoteImage() error = %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("FetchEmoteImage() = %q, want png-bytes", data)
	}

	if _, err := client.FetchEmoteImage(context.Background(), "404"); err == nil {
		t.Error("FetchEmoteImage(unknown) error = nil, want error")
	}
	if _, err := client.FetchEmoteImage(context.Background(), ""); err == nil {
		t.Error("FetchEmoteImage(\"\") error = nil, want error")
	}
}

func TestEmoteImageURL(t *testing.T) {
	got := EmoteImageURL("emotesv2_abc")
	want := "https://static-cdn.jtvnw.net/emoticons/v2/emotesv2_abc/default/dark/3.0"
	if got != want {
		t.Errorf("EmoteImageURL() = %s, want %s", got, want)
	}
}

func TestHelixClient_NoTokenSource(t *testing.T) {
	client := &HelixClient{ClientID: "x"}
	if _, err := client.GetGlobalEmotes(context.Background()); err == nil {
		t.Error("GetGlobalEmotes() without token source succeeded, want error")
	}
}
