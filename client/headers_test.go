package client

import (
	"net/url"
	"testing"

	"github.com/firasghr/GoTLSProxy/fingerprint"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestCompose_DerivedHeaders(t *testing.T) {
	p := fingerprint.Chrome133Profile()
	u := mustParse(t, "https://api.example.com:8443/v1/items")

	h := Compose(p, u, nil)
	if got := h.Get("Origin"); got != "https://api.example.com:8443" {
		t.Errorf("got Origin=%q", got)
	}
	if got := h.Get("Referer"); got != "https://api.example.com:8443/" {
		t.Errorf("got Referer=%q", got)
	}
	if got := h.Get("User-Agent"); got != p.UserAgent {
		t.Errorf("got User-Agent=%q", got)
	}
}

func TestCompose_OverrideWinsInPlace(t *testing.T) {
	p := fingerprint.Chrome133Profile()
	u := mustParse(t, "https://example.com/")

	h := Compose(p, u, map[string]string{"User-Agent": "bot/1.0"})
	if got := h.Get("User-Agent"); got != "bot/1.0" {
		t.Errorf("got User-Agent=%q, want override", got)
	}

	// The override must keep the header at its default position, not move
	// it to the end.
	keys := h.Keys()
	uaPos, lastDefault := -1, -1
	for i, k := range keys {
		if k == "User-Agent" {
			uaPos = i
		}
		if k == "Sec-Fetch-Site" {
			lastDefault = i
		}
	}
	if uaPos == -1 || lastDefault == -1 {
		t.Fatalf("expected headers missing: %v", keys)
	}
	if uaPos > lastDefault {
		t.Errorf("override moved User-Agent to position %d, after Sec-Fetch-Site at %d", uaPos, lastDefault)
	}
}

func TestCompose_EmptyOverrideSuppresses(t *testing.T) {
	p := fingerprint.Chrome133Profile()
	u := mustParse(t, "https://example.com/")

	h := Compose(p, u, map[string]string{"Accept-Language": ""})
	if h.Has("Accept-Language") {
		t.Error("empty override should remove the header entirely")
	}
}

func TestCompose_AddsNewHeader(t *testing.T) {
	p := fingerprint.Chrome133Profile()
	u := mustParse(t, "https://example.com/")

	h := Compose(p, u, map[string]string{"X-Request-ID": "abc123"})
	if got := h.Get("X-Request-ID"); got != "abc123" {
		t.Errorf("got X-Request-ID=%q", got)
	}
}
