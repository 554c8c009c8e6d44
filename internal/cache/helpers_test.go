package cache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tilecache/tilecache/internal/intercept"
	"github.com/tilecache/tilecache/internal/metrics"
)

const tilePayload = "\x89PNG-tile-bytes"

// tileUpstream is a stub tile server that counts every request it serves.
type tileUpstream struct {
	*httptest.Server
	hits atomic.Int64
}

func newTileUpstream(t *testing.T) *tileUpstream {
	t.Helper()
	up := &tileUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/tiles/", func(w http.ResponseWriter, r *http.Request) {
		up.hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Tile-Source", "stub")
		w.Header().Add("X-Multi", "one")
		w.Header().Add("X-Multi", "two")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = io.WriteString(w, tilePayload)
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		up.hits.Add(1)
		http.Error(w, "no such tile", http.StatusNotFound)
	})
	mux.HandleFunc("/style.json", func(w http.ResponseWriter, r *http.Request) {
		up.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"version":8}`)
	})
	up.Server = httptest.NewServer(mux)
	t.Cleanup(up.Close)
	return up
}

// newTestCache returns an active Cache rooted in a temp dir, registered on a
// private registry, plus a client whose transport goes through that registry.
func newTestCache(t *testing.T) (*Cache, *http.Client) {
	t.Helper()
	c, registry := newInactiveCache(t)
	if err := c.SetDirectory(t.TempDir()); err != nil {
		t.Fatalf("set directory: %v", err)
	}
	if err := c.SetActive(true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return c, &http.Client{Transport: registry.Transport(http.DefaultTransport)}
}

func newInactiveCache(t *testing.T) (*Cache, *intercept.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := &intercept.Registry{}
	c := New(Options{
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	})
	return c, registry
}

func fetch(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("close %s: %v", url, err)
	}
	return resp, string(body)
}
