package multitier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/fintrack/cachehub/internal/cache"
	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

const testOrigin = "https://fintrack.local"

type fakeRoute struct {
	status      int
	body        string
	contentType string
	respType    worker.ResponseType
}

type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	routes  map[string]fakeRoute
	calls   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	n := &fakeNetwork{routes: make(map[string]fakeRoute), calls: make(map[string]int)}
	for _, p := range DefaultManifest {
		n.routes[p] = fakeRoute{status: http.StatusOK, body: "shell " + p, contentType: "text/html"}
	}
	return n
}

func (n *fakeNetwork) set(path string, route fakeRoute) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[path] = route
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.Path()]++
	if n.offline {
		return nil, worker.ErrOffline
	}
	route, ok := n.routes[req.Path()]
	if !ok {
		route = fakeRoute{status: http.StatusNotFound, body: "not found"}
	}
	resp := worker.Synthetic(route.status, route.contentType, []byte(route.body))
	resp.Type = route.respType
	if resp.Type == "" {
		resp.Type = worker.ResponseBasic
	}
	resp.Source = worker.SourceNetwork
	return resp, nil
}

type harness struct {
	reg     *worker.Registration
	store   cache.Store
	network *fakeNetwork
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	origin, _ := url.Parse(testOrigin)
	network := newFakeNetwork()
	reg, err := worker.NewRegistration(worker.Options{
		Site:    "fintrack",
		Origin:  origin,
		Store:   store,
		Network: network,
	})
	if err != nil {
		t.Fatalf("registration error: %v", err)
	}
	return &harness{reg: reg, store: store, network: network}
}

func buildWorker(t *testing.T, version string) worker.Handler {
	t.Helper()
	h, err := swmodule.Build(moduleKey, swmodule.Settings{CachePrefix: "fintrack", Version: version})
	if err != nil {
		t.Fatalf("build worker: %v", err)
	}
	return h
}

func (h *harness) install(t *testing.T, version string) {
	t.Helper()
	if err := h.reg.Register(context.Background(), buildWorker(t, version)); err != nil {
		t.Fatalf("register %s: %v", version, err)
	}
}

func (h *harness) fetch(t *testing.T, path string, header http.Header) (*worker.Response, string) {
	t.Helper()
	u, err := url.Parse(testOrigin + path)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	resp, handled := h.reg.Fetch(context.Background(), worker.NewRequest(http.MethodGet, u, header, nil))
	if !handled {
		t.Fatalf("fetch %s was not handled", path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := resp.Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}
	return resp, string(body)
}

func TestManifestServedFromShellCacheOffline(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.setOffline(true)

	for _, p := range DefaultManifest {
		resp, body := h.fetch(t, p, nil)
		if resp.Source != worker.SourceCache || resp.Partition != "fintrack-static-v1" {
			t.Fatalf("%s: expected shell cache hit, got source=%s partition=%s", p, resp.Source, resp.Partition)
		}
		if body != "shell "+p {
			t.Fatalf("%s: unexpected body %q", p, body)
		}
		if n := h.network.count(p); n != 1 {
			t.Fatalf("%s: network should only be hit by install, got %d calls", p, n)
		}
	}
}

func TestAPIResponseCachedAndServedWhenOffline(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/api/transactions", fakeRoute{status: http.StatusOK, body: `{"items":[1,2]}`, contentType: "application/json"})

	resp, body := h.fetch(t, "/api/transactions", nil)
	if resp.Source != worker.SourceNetwork || body != `{"items":[1,2]}` {
		t.Fatalf("expected network body, got source=%s body=%q", resp.Source, body)
	}

	h.network.setOffline(true)
	resp, body = h.fetch(t, "/api/transactions", nil)
	if resp.Source != worker.SourceCache || resp.Partition != "fintrack-api-v1" {
		t.Fatalf("expected api cache fallback, got source=%s partition=%s", resp.Source, resp.Partition)
	}
	if body != `{"items":[1,2]}` {
		t.Fatalf("cached body mismatch: %q", body)
	}
}

func TestAPIPrefersNetworkOverCache(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/api/networth", fakeRoute{status: http.StatusOK, body: "old"})
	h.fetch(t, "/api/networth", nil)

	h.network.set("/api/networth", fakeRoute{status: http.StatusOK, body: "new"})
	resp, body := h.fetch(t, "/api/networth", nil)
	if resp.Source != worker.SourceNetwork || body != "new" {
		t.Fatalf("network-first should return fresh body, got source=%s body=%q", resp.Source, body)
	}
}

func TestAPIErrorStatusIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/api/wishlist", fakeRoute{status: http.StatusInternalServerError, body: "boom"})

	resp, _ := h.fetch(t, "/api/wishlist", nil)
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("5xx should be returned as-is, got %d", resp.Status)
	}
	h.network.setOffline(true)
	resp, _ = h.fetch(t, "/api/wishlist", nil)
	if resp.Status != http.StatusServiceUnavailable || resp.Source != worker.SourceOffline {
		t.Fatalf("non-2xx response must not be cached, got %d from %s", resp.Status, resp.Source)
	}
}

func TestAPIOfflineWithoutCacheReturns503JSON(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.setOffline(true)

	resp, body := h.fetch(t, "/api/portfolio", nil)
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %s", ct)
	}
	var payload struct {
		Error   string `json:"error"`
		Offline bool   `json:"offline"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !payload.Offline || payload.Error != "Network unavailable" || payload.Message == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestActivationPrunesStalePartitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"fintrack-static-v0", "fintrack-api-v0", "legacy-cache"} {
		if _, err := h.store.Put(ctx, cache.Locator{Partition: name, Path: "/"}, strings.NewReader("stale"), cache.PutOptions{}); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	h.install(t, "v1")
	h.fetch(t, "/static/js/main.js", nil)
	h.network.set("/api/transactions", fakeRoute{status: http.StatusOK, body: "[]"})
	h.fetch(t, "/api/transactions", nil)

	names, err := h.store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	want := []string{"fintrack-api-v1", "fintrack-static-v1"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected partitions after v1 activation: %v", names)
	}

	h.install(t, "v2")
	names, err = h.store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(names) != 1 || names[0] != "fintrack-static-v2" {
		t.Fatalf("v1 partitions should be pruned on v2 activation, got %v", names)
	}
}

func TestInstallSkipsWaitingDespiteControlledPage(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	page := h.reg.Connect(testOrigin + "/dashboard")

	h.install(t, "v2")
	snap := h.reg.Snapshot()
	if snap.Active == nil || snap.Active.Version != "v2" || snap.Waiting != nil {
		t.Fatalf("v2 should activate without waiting for the page, got %+v", snap)
	}
	select {
	case msg := <-page.Messages():
		if msg.Type != worker.MessageActivated || msg.Version != "v2" {
			t.Fatalf("unexpected broadcast: %+v", msg)
		}
	default:
		t.Fatalf("controlled page should receive SW_ACTIVATED")
	}
}

func TestMessageIgnoresUnknownTypes(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	ctx := context.Background()
	for _, msg := range []worker.Message{{}, {Type: "PING"}, {Type: worker.MessageSkipWaiting}} {
		if err := h.reg.PostMessage(ctx, msg); err != nil {
			t.Fatalf("post %q: %v", msg.Type, err)
		}
	}
	if snap := h.reg.Snapshot(); snap.Active == nil || snap.Active.Version != "v1" {
		t.Fatalf("active worker should be unchanged, got %+v", snap.Active)
	}
}

func TestNavigationOfflineServesOfflinePage(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.setOffline(true)

	header := http.Header{}
	header.Set("Sec-Fetch-Mode", "navigate")
	header.Set("Sec-Fetch-Dest", "document")
	resp, body := h.fetch(t, "/transactions/2024/03", header)
	if resp.Status != http.StatusOK || resp.Source != worker.SourceOffline {
		t.Fatalf("expected offline page, got %d from %s", resp.Status, resp.Source)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("expected text/html, got %s", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "You're Offline") || !strings.Contains(body, "location.reload()") || !strings.Contains(body, `href="/"`) {
		t.Fatalf("offline page markup missing: %s", body)
	}
	if body != string(OfflinePage()) {
		t.Fatalf("offline page should be deterministic")
	}
}

func TestImageOfflineServesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.setOffline(true)

	resp, body := h.fetch(t, "/uploads/avatar.png", nil)
	if resp.Status != http.StatusOK || resp.Header.Get("Content-Type") != "image/svg+xml" {
		t.Fatalf("expected svg placeholder, got %d %s", resp.Status, resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(body, "<svg") {
		t.Fatalf("unexpected placeholder body: %s", body)
	}

	resp, body = h.fetch(t, "/static/js/chunk.js", nil)
	if resp.Status != http.StatusServiceUnavailable || body != "" {
		t.Fatalf("other requests should get an empty 503, got %d %q", resp.Status, body)
	}
}

func TestRuntimeCachingRules(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/static/css/main.css", fakeRoute{status: http.StatusOK, body: "body{}", contentType: "text/css"})
	h.network.set("/cdn/font.woff2", fakeRoute{status: http.StatusOK, body: "font", respType: worker.ResponseOpaque})
	h.network.set("/created", fakeRoute{status: http.StatusCreated, body: "created"})

	for _, p := range []string{"/static/css/main.css", "/cdn/font.woff2", "/created"} {
		if resp, _ := h.fetch(t, p, nil); resp.Source != worker.SourceNetwork {
			t.Fatalf("%s: first fetch should come from network", p)
		}
	}

	h.network.setOffline(true)
	resp, body := h.fetch(t, "/static/css/main.css", nil)
	if resp.Source != worker.SourceCache || resp.Partition != "fintrack-runtime-v1" || body != "body{}" {
		t.Fatalf("basic 200 should be cached in runtime partition, got %s %s %q", resp.Source, resp.Partition, body)
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("cached headers should be replayed, got %v", resp.Header)
	}
	for _, p := range []string{"/cdn/font.woff2", "/created"} {
		if resp, _ := h.fetch(t, p, nil); resp.Source == worker.SourceCache {
			t.Fatalf("%s should not be cached", p)
		}
	}
}

func TestRootEntryDoesNotShadowNamedPath(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/root", fakeRoute{status: http.StatusOK, body: "root page", contentType: "text/html"})

	resp, body := h.fetch(t, "/root", nil)
	if resp.Source != worker.SourceNetwork || body != "root page" {
		t.Fatalf("/root should come from the network, got source=%s body=%q", resp.Source, body)
	}
	if n := h.network.count("/root"); n != 1 {
		t.Fatalf("expected one network call for /root, got %d", n)
	}

	h.network.setOffline(true)
	resp, body = h.fetch(t, "/", nil)
	if resp.Source != worker.SourceCache || body != "shell /" {
		t.Fatalf("/ should still be served from the shell partition, got source=%s body=%q", resp.Source, body)
	}
	resp, body = h.fetch(t, "/root", nil)
	if resp.Partition != "fintrack-runtime-v1" || body != "root page" {
		t.Fatalf("/root should be cached in its own runtime entry, got partition=%s body=%q", resp.Partition, body)
	}
}

func TestAPIPrefixRequiresTrailingSlash(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/api", fakeRoute{status: http.StatusOK, body: "api landing", contentType: "text/html"})
	h.network.set("/api/accounts", fakeRoute{status: http.StatusOK, body: "[]", contentType: "application/json"})

	if resp, _ := h.fetch(t, "/api", nil); resp.Strategy != strategyCacheFirst {
		t.Fatalf("bare /api should be cache-first, got %q", resp.Strategy)
	}
	if resp, _ := h.fetch(t, "/api/accounts", nil); resp.Strategy != strategyNetworkFirst {
		t.Fatalf("/api/accounts should be network-first, got %q", resp.Strategy)
	}
}

func TestManifestPathRefetchedGoesToShellPartition(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	ctx := context.Background()
	if err := h.store.DeletePartition(ctx, "fintrack-static-v1"); err != nil {
		t.Fatalf("delete partition: %v", err)
	}

	resp, _ := h.fetch(t, "/wishlist", nil)
	if resp.Source != worker.SourceNetwork {
		t.Fatalf("expected network after shell partition removal, got %s", resp.Source)
	}
	if _, err := h.store.Get(ctx, cache.Locator{Partition: "fintrack-static-v1", Path: "/wishlist"}); err != nil {
		t.Fatalf("manifest path should be re-cached in shell partition: %v", err)
	}
	if _, err := h.store.Get(ctx, cache.Locator{Partition: "fintrack-runtime-v1", Path: "/wishlist"}); err == nil {
		t.Fatalf("manifest path must not be stored in runtime partition")
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	h.network.set("/portfolio", fakeRoute{status: http.StatusNotFound, body: "missing"})

	if err := h.reg.Register(context.Background(), buildWorker(t, "v1")); err == nil {
		t.Fatalf("install should fail when a manifest entry is missing")
	}
	if snap := h.reg.Snapshot(); snap.Active != nil || snap.Waiting != nil {
		t.Fatalf("failed install must not leave a worker behind: %+v", snap)
	}
	names, err := h.store.Partitions(context.Background())
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("failed install must not store entries, got %v", names)
	}
}

func TestCrossOriginIsNotHandled(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	u, _ := url.Parse("https://fonts.example.com/css")
	if _, handled := h.reg.Fetch(context.Background(), worker.NewRequest(http.MethodGet, u, nil, nil)); handled {
		t.Fatalf("cross-origin request must pass through")
	}
}

func TestNonGetRequestsAreNeverCached(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	h.network.set("/api/transactions", fakeRoute{status: http.StatusOK, body: "created"})
	u, _ := url.Parse(testOrigin + "/api/transactions")

	resp, handled := h.reg.Fetch(context.Background(), worker.NewRequest(http.MethodPost, u, nil, []byte(`{}`)))
	if !handled {
		t.Fatalf("post should be handled")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Close()

	if _, err := h.store.Get(context.Background(), cache.Locator{Partition: "fintrack-api-v1", Path: "/api/transactions"}); err == nil {
		t.Fatalf("POST response must not be cached")
	}
}
