package emotecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/onnwee/emotebot/remote"
	"github.com/onnwee/emotebot/telemetry"
	"github.com/onnwee/emotebot/testutil"
	"github.com/onnwee/emotebot/twitchapi"
)

func newHelix(m *testutil.MockTwitchServer) *twitchapi.HelixClient {
	return &twitchapi.HelixClient{
		Tokens:     oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		ClientID:   "test-client-id",
		HTTPClient: m.Client(),
	}
}

func cachedNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRun(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockGlobalEmotesResponse([][2]string{{"1", "Kappa"}, {"2", "PogChamp"}})
	m.MockUserResponse("99", "somechannel")
	m.MockChannelEmotesResponse([][2]string{{"3", "chanHype"}, {"4", "kappa"}})
	m.MockEmoteImage("1", []byte("kappa-png"))
	m.MockEmoteImage("2", []byte("pog-png"))
	m.MockEmoteImage("3", []byte("hype-png"))

	dir := t.TempDir()
	cache := &remote.Cache{Dir: dir}
	if err := cache.Write("pogchamp", []byte("old")); err != nil {
		t.Fatal(err)
	}

	res, err := Run(context.Background(), newHelix(m), cache, Options{
		Channels: []string{"somechannel"},
		Workers:  2,
		Rate:     rate.Inf,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// kappa from the channel listing is a duplicate of the global one.
	want := Result{Listed: 3, Downloaded: 2, Skipped: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"chanhype.png", "kappa.png", "pogchamp.png"}, cachedNames(t, dir)); diff != "" {
		t.Errorf("cache contents (-want +got):\n%s", diff)
	}
	data, ok, err := cache.Read("kappa")
	if err != nil || !ok || string(data) != "kappa-png" {
		t.Errorf("cache.Read(kappa) = %q, %v, %v", data, ok, err)
	}
	if m.Hits(testutil.EmoteImagePath("2")) != 0 {
		t.Error("cached emote was downloaded again")
	}
}

func TestRunClean(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockGlobalEmotesResponse([][2]string{{"1", "Kappa"}})
	m.MockEmoteImage("1", []byte("fresh"))

	dir := t.TempDir()
	cache := &remote.Cache{Dir: dir}
	for _, name := range []string{"kappa", "stale"} {
		if err := cache.Write(name, []byte("old")); err != nil {
			t.Fatal(err)
		}
	}

	res, err := Run(context.Background(), newHelix(m), cache, Options{Clean: true, Rate: rate.Inf})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Downloaded != 1 || res.Skipped != 0 {
		t.Errorf("result = %v, want one fresh download", res)
	}
	if diff := cmp.Diff([]string{"kappa.png"}, cachedNames(t, dir)); diff != "" {
		t.Errorf("cache contents (-want +got):\n%s", diff)
	}
}

func TestListSkipsUnknownChannel(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockGlobalEmotesResponse([][2]string{{"1", "Kappa"}})

	// /helix/users is not mocked, so the channel lookup fails.
	table, err := List(context.Background(), newHelix(m), []string{"ghost"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("table.Len() = %d, want 1", table.Len())
	}
}

func TestListGlobalFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	if _, err := List(context.Background(), newHelix(m), nil); err == nil {
		t.Fatal("expected error when the global listing fails")
	}
}

type flakyFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *flakyFetcher) FetchEmoteImage(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if id == "bad" {
		return nil, errors.New("cdn says no")
	}
	return []byte("img-" + id), nil
}

func TestDownloadCountsFailures(t *testing.T) {
	cache := &remote.Cache{Dir: t.TempDir()}
	refs := []remote.Ref{{Name: "a", ID: "1"}, {Name: "b", ID: "bad"}, {Name: "c", ID: "3"}}

	res, err := Download(context.Background(), &flakyFetcher{}, cache, refs, Options{Workers: 3, Rate: rate.Inf})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := Result{Listed: 3, Downloaded: 2, Failed: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if cache.Has("b") {
		t.Error("failed download left a cache entry")
	}
}

func TestDownloadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cache := &remote.Cache{Dir: filepath.Join(t.TempDir(), "cache")}
	f := &flakyFetcher{}

	_, err := Download(ctx, f, cache, []remote.Ref{{Name: "a", ID: "1"}}, Options{Rate: rate.Inf})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetcher called %d times after cancel", len(f.calls))
	}
}

func TestDownloadMetricsStayOutOfResolverCounters(t *testing.T) {
	telemetry.Init()
	fetchOK := promtest.ToFloat64(telemetry.RemoteFetches.WithLabelValues("ok"))
	fetchErr := promtest.ToFloat64(telemetry.RemoteFetches.WithLabelValues("error"))
	network := promtest.ToFloat64(telemetry.RemoteResolutions.WithLabelValues("network"))
	bulkOK := promtest.ToFloat64(telemetry.CacheDownloads.WithLabelValues("bulk", "ok"))
	bulkErr := promtest.ToFloat64(telemetry.CacheDownloads.WithLabelValues("bulk", "error"))

	cache := &remote.Cache{Dir: t.TempDir()}
	refs := []remote.Ref{{Name: "a", ID: "1"}, {Name: "b", ID: "bad"}, {Name: "c", ID: "3"}}
	if _, err := Download(context.Background(), &flakyFetcher{}, cache, refs, Options{Workers: 2, Rate: rate.Inf}); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if got := promtest.ToFloat64(telemetry.CacheDownloads.WithLabelValues("bulk", "ok")); got != bulkOK+2 {
		t.Errorf("cache_downloads{bulk,ok} = %v, want %v", got, bulkOK+2)
	}
	if got := promtest.ToFloat64(telemetry.CacheDownloads.WithLabelValues("bulk", "error")); got != bulkErr+1 {
		t.Errorf("cache_downloads{bulk,error} = %v, want %v", got, bulkErr+1)
	}
	if got := promtest.ToFloat64(telemetry.RemoteFetches.WithLabelValues("ok")); got != fetchOK {
		t.Errorf("remote_fetch{ok} moved from %v to %v during a bulk download", fetchOK, got)
	}
	if got := promtest.ToFloat64(telemetry.RemoteFetches.WithLabelValues("error")); got != fetchErr {
		t.Errorf("remote_fetch{error} moved from %v to %v during a bulk download", fetchErr, got)
	}
	if got := promtest.ToFloat64(telemetry.RemoteResolutions.WithLabelValues("network")); got != network {
		t.Errorf("remote_resolutions{network} moved from %v to %v during a bulk download", network, got)
	}
}
