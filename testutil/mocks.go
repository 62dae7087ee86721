package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API and CDN responses.
// Requests are keyed by URL path; Client() routes every outgoing request to it.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	hits map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for a path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// Hits returns how many requests reached path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// Client returns an HTTP client whose requests, whatever their host, are sent to the mock server.
func (m *MockTwitchServer) Client() *http.Client {
	return &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: m.URL}}
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// MockGlobalEmotesResponse adds a handler for /helix/chat/emotes/global; emotes maps id to name.
func (m *MockTwitchServer) MockGlobalEmotesResponse(emotes [][2]string) {
	m.Handle("/helix/chat/emotes/global", emoteListHandler(emotes))
}

// MockChannelEmotesResponse adds a handler for /helix/chat/emotes.
func (m *MockTwitchServer) MockChannelEmotesResponse(emotes [][2]string) {
	m.Handle("/helix/chat/emotes", emoteListHandler(emotes))
}

func emoteListHandler(emotes [][2]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]interface{}, 0, len(emotes))
		for _, e := range emotes {
			data = append(data, map[string]interface{}{
				"id":         e[0],
				"name":       e[1],
				"format":     []string{"static"},
				"scale":      []string{"1.0", "2.0", "3.0"},
				"theme_mode": []string{"light", "dark"},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"data":     data,
			"template": "https://static-cdn.jtvnw.net/emoticons/v2/{{id}}/{{format}}/{{theme_mode}}/{{scale}}",
		})
	}
}

// EmoteImagePath is the CDN path the client requests for an emote id.
func EmoteImagePath(id string) string {
	return "/emoticons/v2/" + id + "/default/dark/3.0"
}

// MockEmoteImage serves data as the CDN image of the emote id.
func (m *MockTwitchServer) MockEmoteImage(id string, data []byte) {
	m.Handle(EmoteImagePath(id), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(t.host, "http://")
	req.URL.Host = strings.TrimPrefix(host, "https://")
	return t.Transport.RoundTrip(req)
}
