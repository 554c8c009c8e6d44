package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tilecache/tilecache/internal/intercept"
)

func TestSetDirectoryValidation(t *testing.T) {
	c, _ := newInactiveCache(t)
	if err := c.SetDirectory(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrInvalidDirectory) {
		t.Fatalf("expected ErrInvalidDirectory, got %v", err)
	}
	if err := c.SetDirectory(""); !errors.Is(err, ErrInvalidDirectory) {
		t.Fatalf("expected ErrInvalidDirectory for empty path, got %v", err)
	}
	if c.Directory() != "" {
		t.Fatalf("failed set must not change the directory")
	}

	dir := t.TempDir()
	if err := c.SetDirectory(dir); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	if c.Directory() != dir {
		t.Fatalf("expected %s, got %s", dir, c.Directory())
	}
}

func TestSetActiveRequiresDirectory(t *testing.T) {
	c, registry := newInactiveCache(t)
	if err := c.SetActive(true); !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("expected ErrNoDirectory, got %v", err)
	}
	if !c.IsNotActive() {
		t.Fatalf("cache should stay inactive")
	}
	if registry.Status("http") != "missing" {
		t.Fatalf("hook must not be installed without a directory")
	}
	if err := c.SetActive(false); err != nil {
		t.Fatalf("deactivation should always succeed: %v", err)
	}
}

func TestSetActiveInstallsHookOnce(t *testing.T) {
	c, registry := newInactiveCache(t)
	if err := c.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.SetActive(true); err != nil {
			t.Fatalf("activation %d failed: %v", i, err)
		}
		if err := c.SetActive(false); err != nil {
			t.Fatalf("deactivation %d failed: %v", i, err)
		}
	}
	snap := registry.Snapshot([]string{"http", "https"})
	if snap["http"] != "registered" || snap["https"] != "registered" {
		t.Fatalf("expected both schemes registered, got %v", snap)
	}
	if !c.HookInstalled() {
		t.Fatalf("hook should be reported installed")
	}
}

func TestSetActiveFailsWhenHookOwned(t *testing.T) {
	c, registry := newInactiveCache(t)
	if err := c.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	if err := registry.Register("https", func(next http.RoundTripper) http.RoundTripper { return next }); err != nil {
		t.Fatalf("register competitor: %v", err)
	}

	err := c.SetActive(true)
	if !errors.Is(err, ErrHookInstall) || !errors.Is(err, intercept.ErrDuplicateHook) {
		t.Fatalf("expected ErrHookInstall wrapping ErrDuplicateHook, got %v", err)
	}
	if !c.IsNotActive() {
		t.Fatalf("cache must stay inactive after a failed install")
	}
	if registry.Status("http") != "missing" {
		t.Fatalf("partial registration should be rolled back")
	}
}

func TestTwoCachesCompeteForHook(t *testing.T) {
	first, registry := newInactiveCache(t)
	if err := first.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	if err := first.SetActive(true); err != nil {
		t.Fatalf("first activation: %v", err)
	}

	second := New(Options{Logger: first.logger, Registry: registry})
	if err := second.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	if err := second.SetActive(true); !errors.Is(err, ErrHookInstall) {
		t.Fatalf("second owner must fail, got %v", err)
	}
}

func TestFetchTwiceServesSecondFromDisk(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	url := up.URL + "/tiles/1/2/3.png"

	if c.IsCached(url) {
		t.Fatalf("url should not be cached before the first fetch")
	}

	first, body1 := fetch(t, client, url)
	if first.StatusCode != http.StatusOK || body1 != tilePayload {
		t.Fatalf("unexpected first response %d %q", first.StatusCode, body1)
	}
	if !c.IsCached(url) {
		t.Fatalf("url should be cached after a 200 fetch")
	}

	second, body2 := fetch(t, client, url)
	if body2 != body1 {
		t.Fatalf("cached body differs: %q vs %q", body2, body1)
	}
	if got := up.hits.Load(); got != 1 {
		t.Fatalf("second fetch must not reach the network, hits=%d", got)
	}
	if second.StatusCode != http.StatusOK || second.Status != "200 OK" {
		t.Fatalf("unexpected cached status %d %q", second.StatusCode, second.Status)
	}
	if second.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content type should come from dataInfo, got %q", second.Header.Get("Content-Type"))
	}
	if vals := second.Header.Values("X-Multi"); len(vals) != 2 || vals[0] != "one" || vals[1] != "two" {
		t.Fatalf("multi-value header order lost: %v", vals)
	}
	if second.ContentLength != -1 {
		t.Fatalf("cached content length should be unknown, got %d", second.ContentLength)
	}
}

func TestNonOKResponseIsNotCached(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	url := up.URL + "/missing.png"

	resp, _ := fetch(t, client, url)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %d", resp.StatusCode)
	}
	if c.IsCached(url) {
		t.Fatalf("404 must not be cached")
	}
	entries, err := os.ReadDir(c.Directory())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("no files should remain after a non-200 fetch, found %d", len(entries))
	}

	fetch(t, client, url)
	if got := up.hits.Load(); got != 2 {
		t.Fatalf("uncached url should hit the network again, hits=%d", got)
	}
}

func TestInactiveCachePassesThrough(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	if err := c.SetActive(false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	url := up.URL + "/tiles/9/9/9.png"

	fetch(t, client, url)
	fetch(t, client, url)
	if got := up.hits.Load(); got != 2 {
		t.Fatalf("inactive cache must not serve from disk, hits=%d", got)
	}
	if c.IsCached(url) {
		t.Fatalf("inactive cache must not store entries")
	}
}

func TestNoCacheFilterBypassesCache(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	if err := c.SetNoCacheFilters([]string{`.*\.json`}); err != nil {
		t.Fatalf("set filters: %v", err)
	}

	fetch(t, client, up.URL+"/style.json")
	fetch(t, client, up.URL+"/style.json")
	fetch(t, client, up.URL+"/tiles/1.png")
	fetch(t, client, up.URL+"/tiles/1.png")

	if got := up.hits.Load(); got != 3 {
		t.Fatalf("expected 2 json hits + 1 tile hit, got %d", got)
	}
	if c.IsCached(up.URL + "/style.json") {
		t.Fatalf("excluded url must not be cached")
	}
	if got := c.NoCacheFilters(); len(got) != 1 || got[0] != `.*\.json` {
		t.Fatalf("unexpected no-cache filters %v", got)
	}
}

func TestCacheFilterConflicts(t *testing.T) {
	c, _ := newInactiveCache(t)
	if err := c.SetCacheFilters([]string{`.*\.png`}); err != nil {
		t.Fatalf("set cache filters: %v", err)
	}
	if err := c.SetNoCacheFilters([]string{`.*\.json`}); !errors.Is(err, ErrConflictingFilters) {
		t.Fatalf("expected ErrConflictingFilters, got %v", err)
	}
	c.ClearAllCacheFilters()
	if err := c.SetNoCacheFilters([]string{`.*\.json`}); err != nil {
		t.Fatalf("no-cache filters after clear: %v", err)
	}
	if len(c.CacheFilters()) != 0 {
		t.Fatalf("cache filters should be empty after clear")
	}
}

func TestNonGetRequestsBypassCache(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	url := up.URL + "/tiles/head.png"

	req, _ := http.NewRequest(http.MethodHead, url, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	resp.Body.Close()
	if c.IsCached(url) {
		t.Fatalf("HEAD must not populate the cache")
	}
}

func TestClearRemovesEntries(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	url := up.URL + "/tiles/clear.png"

	fetch(t, client, url)
	if !c.IsCached(url) {
		t.Fatalf("expected cached entry")
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c.IsCached(url) {
		t.Fatalf("entry should be gone after clear")
	}
	info, err := os.Stat(c.Directory())
	if err != nil || !info.IsDir() {
		t.Fatalf("cache directory must survive clear: %v", err)
	}

	_, body := fetch(t, client, url)
	if body != tilePayload || up.hits.Load() != 2 {
		t.Fatalf("refetch after clear should reach the network")
	}
}

func TestEvictRemovesSingleEntry(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	evicted := up.URL + "/tiles/evict.png"
	kept := up.URL + "/tiles/keep.png"
	fetch(t, client, evicted)
	fetch(t, client, kept)

	if err := c.Evict("HTTP://" + strings.TrimPrefix(evicted, "http://")); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if c.IsCached(evicted) {
		t.Fatalf("evicted entry should be gone")
	}
	if !c.IsCached(kept) {
		t.Fatalf("other entries must survive evict")
	}
	if err := c.Evict(evicted); err != nil {
		t.Fatalf("evicting a missing entry should succeed: %v", err)
	}

	bare, _ := newInactiveCache(t)
	if err := bare.Evict(evicted); !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("expected ErrNoDirectory, got %v", err)
	}
}

func TestClearWithoutDirectoryIsNoop(t *testing.T) {
	c, _ := newInactiveCache(t)
	if err := c.Clear(); err != nil {
		t.Fatalf("clear without directory: %v", err)
	}
}

func TestPathForURL(t *testing.T) {
	c, _ := newInactiveCache(t)
	if _, err := c.PathForURL("http://a.tile.openstreetmap.org/1/2/3.png"); !errors.Is(err, ErrNoDirectory) {
		t.Fatalf("expected ErrNoDirectory, got %v", err)
	}

	dir := t.TempDir()
	if err := c.SetDirectory(dir); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	got, err := c.PathForURL("http://a.tile.openstreetmap.org/1/2/3.png")
	if err != nil {
		t.Fatalf("path for url: %v", err)
	}
	want := filepath.Join(dir, "http%3A%2F%2Fx.tile.openstreetmap.org%2F1%2F2%2F3.png")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIsCachedRequiresDataInfo(t *testing.T) {
	c, _ := newInactiveCache(t)
	if err := c.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	url := "http://tiles.example.com/orphan.png"
	path, _ := c.PathForURL(url)
	if err := os.WriteFile(path, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if c.IsCached(url) {
		t.Fatalf("data file without dataInfo must not count as cached")
	}
}

func TestNonCanonicalURLsMatchFetchedEntries(t *testing.T) {
	up := newTileUpstream(t)
	c, _ := newTestCache(t)
	upper := "HTTP://" + strings.TrimPrefix(up.URL, "http://") + "/tiles/9.png"
	spaced := up.URL + "/tiles/a b.png"

	report := c.Preload(context.Background(), []string{upper, spaced}, 2)
	if report.Succeeded != 2 {
		t.Fatalf("expected both urls preloaded, got %+v", report)
	}
	for _, raw := range []string{upper, spaced} {
		if !c.IsCached(raw) {
			t.Fatalf("%q should be cached under the form it was requested with", raw)
		}
	}
	if !c.IsCached(up.URL + "/tiles/a%20b.png") {
		t.Fatalf("escaped form should resolve to the same entry")
	}
}

func TestFiltersSeeCanonicalURL(t *testing.T) {
	up := newTileUpstream(t)
	c, client := newTestCache(t)
	if err := c.SetNoCacheFilters([]string{`.*/tiles/a%20b\.png`}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	spaced := up.URL + "/tiles/a b.png"

	if c.ShouldCache(spaced) {
		t.Fatalf("raw url should be excluded like the request url")
	}
	fetch(t, client, spaced)
	if c.IsCached(spaced) {
		t.Fatalf("excluded url must not be cached")
	}
}
