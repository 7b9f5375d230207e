package client

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestOrderedHeader_AddPreservesOrderAndCasing(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("Accept", "*/*")
	h.Add("sec-ch-ua-platform", `"macOS"`)
	h.Add("User-Agent", "test")

	want := []string{"Accept", "sec-ch-ua-platform", "User-Agent"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("got keys %v, want %v", got, want)
	}
}

func TestOrderedHeader_SetReplacesInPlace(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("Accept", "*/*")
	h.Add("User-Agent", "default")
	h.Add("Cache-Control", "no-cache")

	h.Set("user-agent", "custom")

	want := []string{"Accept", "user-agent", "Cache-Control"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("got keys %v, want %v", got, want)
	}
	if got := h.Get("User-Agent"); got != "custom" {
		t.Errorf("got %q, want custom", got)
	}
}

func TestOrderedHeader_SetDeduplicates(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("X-Tag", "a")
	h.Add("Accept", "*/*")
	h.Add("X-Tag", "b")

	h.Set("X-Tag", "c")
	if h.Len() != 2 {
		t.Errorf("got %d entries after dedupe, want 2", h.Len())
	}
	if got := h.Get("X-Tag"); got != "c" {
		t.Errorf("got %q, want c", got)
	}
}

func TestOrderedHeader_Del(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("Authorization", "Bearer x")
	h.Add("Accept", "*/*")

	h.Del("authorization")
	if h.Has("Authorization") {
		t.Error("Authorization still present after Del")
	}
	if !h.Has("Accept") {
		t.Error("Del removed an unrelated header")
	}
}

func TestOrderedHeader_Clone(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("Accept", "*/*")
	c := h.Clone()
	c.Set("Accept", "text/html")
	if got := h.Get("Accept"); got != "*/*" {
		t.Errorf("mutating the clone changed the original: %q", got)
	}
}

func TestOrderedHeader_ApplyToRequest(t *testing.T) {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("X-Custom", "v")

	req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	req.Header.Set("Stale", "gone")
	h.ApplyToRequest(req)

	if _, ok := req.Header["Stale"]; ok {
		t.Error("pre-existing header survived ApplyToRequest")
	}
	// Raw casing must land in the map untouched.
	if got := req.Header["sec-ch-ua-mobile"]; len(got) != 1 || got[0] != "?0" {
		t.Errorf("raw-cased key not written directly: %v", req.Header)
	}
}
