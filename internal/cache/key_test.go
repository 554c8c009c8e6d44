package cache

import (
	"net/http"
	"testing"
)

func TestKeyForURLCollapsesTileHosts(t *testing.T) {
	want := KeyForURL("http://a.tile.openstreetmap.org/1/2/3.png")
	for _, host := range []string{"b", "c", "x"} {
		got := KeyForURL("http://" + host + ".tile.openstreetmap.org/1/2/3.png")
		if got != want {
			t.Fatalf("host %s: expected key %s, got %s", host, want, got)
		}
	}

	other := KeyForURL("http://tiles.example.com/1/2/3.png")
	if other == want {
		t.Fatalf("unrelated url must not share the tile key")
	}
}

func TestKeyForURLEncoding(t *testing.T) {
	got := KeyForURL("http://a.tile.openstreetmap.org/1/2/3.png")
	want := "http%3A%2F%2Fx.tile.openstreetmap.org%2F1%2F2%2F3.png"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestKeyForURLDistinguishesQueries(t *testing.T) {
	a := KeyForURL("http://tiles.example.com/t.png?x=1&y=2")
	b := KeyForURL("http://tiles.example.com/t.png?x=12&y=")
	if a == b {
		t.Fatalf("different urls produced the same key %s", a)
	}
}

func TestNormalizeURLLeavesOtherHosts(t *testing.T) {
	raw := "https://tile.thunderforest.com/cycle/1/2/3.png"
	if got := NormalizeURL(raw); got != raw {
		t.Fatalf("expected unchanged url, got %s", got)
	}
	if NormalizeURL("") != "" {
		t.Fatalf("empty url should stay empty")
	}
}

func TestKeyForURLUsesRequestForm(t *testing.T) {
	cases := map[string]string{
		"HTTP://tiles.example.com/9.png":   "http://tiles.example.com/9.png",
		"http://tiles.example.com/a b.png": "http://tiles.example.com/a%20b.png",
	}
	for raw, canonical := range cases {
		if KeyForURL(raw) != KeyForURL(canonical) {
			t.Fatalf("%q and %q should share a key", raw, canonical)
		}
		req, err := http.NewRequest(http.MethodGet, raw, nil)
		if err != nil {
			t.Fatalf("new request %q: %v", raw, err)
		}
		if KeyForURL(req.URL.String()) != KeyForURL(raw) {
			t.Fatalf("%q: request url and raw url produced different keys", raw)
		}
	}
}

func TestKeyForURLFormEncoding(t *testing.T) {
	got := KeyForURL("http://tiles.example.com/~user/*.png")
	want := "http%3A%2F%2Ftiles.example.com%2F%7Euser%2F*.png"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
