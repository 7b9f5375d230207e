package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firasghr/GoTLSProxy/config"
	"github.com/firasghr/GoTLSProxy/engine"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/logger"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logger.New(logger.LevelError)
	e := engine.New(cfg, fingerprint.Chrome133Profile(), log)
	t.Cleanup(e.Stop)
	return e
}

func TestExecute_Validation(t *testing.T) {
	e := newEngine(t)
	cases := []struct {
		name string
		req  *engine.Request
	}{
		{"unknown method", &engine.Request{Method: "BREW", URL: "https://example.com/"}},
		{"empty method", &engine.Request{URL: "https://example.com/"}},
		{"relative URL", &engine.Request{Method: "GET", URL: "/no-host"}},
		{"bad scheme", &engine.Request{Method: "GET", URL: "ftp://example.com/"}},
		{"bad proxy scheme", &engine.Request{Method: "GET", URL: "https://example.com/", Proxy: "quic://p.example:1"}},
	}
	for _, c := range cases {
		_, err := e.Execute(context.Background(), c.req)
		if errs.KindOf(err) != errs.KindBadRequest {
			t.Errorf("%s: got kind %q (err %v), want bad_request", c.name, errs.KindOf(err), err)
		}
	}
}

func TestExecute_EndToEnd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	defer ts.Close()

	e := newEngine(t)
	resp, err := e.Execute(context.Background(), &engine.Request{
		Method: "GET",
		URL:    ts.URL + "/v1/ping",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("got status %d", resp.StatusCode)
	}
	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		t.Fatalf("JSON response not parsed: %#v", resp.Body)
	}
	if body["path"] != "/v1/ping" {
		t.Errorf("got body %#v", body)
	}
	if resp.SessionID != "" {
		t.Errorf("ephemeral call carries session_id %q", resp.SessionID)
	}
	if resp.RedirectCount != 0 || len(resp.RedirectChain) != 0 {
		t.Errorf("got redirects %d %v for a direct response", resp.RedirectCount, resp.RedirectChain)
	}
	if resp.RedirectChain == nil {
		t.Error("redirect chain must be an empty list, not null")
	}
	if resp.FinalURL != ts.URL+"/v1/ping" {
		t.Errorf("got final_url %q", resp.FinalURL)
	}
	if resp.ElapsedMs <= 0 {
		t.Errorf("got elapsed_ms %v", resp.ElapsedMs)
	}
}

func TestExecute_FollowsRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/middle", http.StatusFound)
		case "/middle":
			http.Redirect(w, r, "/end", http.StatusMovedPermanently)
		default:
			w.Write([]byte("arrived"))
		}
	}))
	defer ts.Close()

	e := newEngine(t)
	resp, err := e.Execute(context.Background(), &engine.Request{
		Method: "GET",
		URL:    ts.URL + "/start",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RedirectCount != 2 {
		t.Errorf("got redirect_count %d, want 2", resp.RedirectCount)
	}
	if len(resp.RedirectChain) != 2 || resp.RedirectChain[0] != ts.URL+"/start" {
		t.Errorf("got chain %v", resp.RedirectChain)
	}
	if resp.FinalURL != ts.URL+"/end" {
		t.Errorf("got final_url %q", resp.FinalURL)
	}
	if resp.Body != "arrived" {
		t.Errorf("got body %#v", resp.Body)
	}
}

func TestExecute_SessionCookieContinuity(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "tok99", Path: "/"})
			w.Write([]byte("logged in"))
		default:
			c, err := r.Cookie("sid")
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("hello " + c.Value))
		}
	}))
	defer ts.Close()

	e := newEngine(t)
	id, err := e.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Execute(context.Background(), &engine.Request{
		Method: "GET", URL: ts.URL + "/login", SessionID: id,
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Execute(context.Background(), &engine.Request{
		Method: "GET", URL: ts.URL + "/profile", SessionID: id,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || resp.Body != "hello tok99" {
		t.Errorf("cookie did not persist across requests: status=%d body=%#v", resp.StatusCode, resp.Body)
	}
	if resp.SessionID != id {
		t.Errorf("got session_id %q, want %q", resp.SessionID, id)
	}

	cookies, err := e.SessionCookies(id)
	if err != nil {
		t.Fatal(err)
	}
	if cookies["sid"] != "tok99" {
		t.Errorf("got session cookies %v", cookies)
	}
}

func TestExecute_PostJSONBody(t *testing.T) {
	var gotCT, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	e := newEngine(t)
	resp, err := e.Execute(context.Background(), &engine.Request{
		Method: "POST",
		URL:    ts.URL + "/items",
		Body:   json.RawMessage(`{ "name": "widget" }`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("got status %d", resp.StatusCode)
	}
	if gotCT != "application/json" {
		t.Errorf("got Content-Type %q", gotCT)
	}
	if gotBody != `{"name":"widget"}` {
		t.Errorf("got body %q, want compacted JSON", gotBody)
	}
}

func TestExecute_StringBodyVerbatim(t *testing.T) {
	var gotCT, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer ts.Close()

	e := newEngine(t)
	if _, err := e.Execute(context.Background(), &engine.Request{
		Method: "POST",
		URL:    ts.URL,
		Body:   json.RawMessage(`"a=1&b=2"`),
	}); err != nil {
		t.Fatal(err)
	}
	if gotCT != "text/plain; charset=utf-8" {
		t.Errorf("got Content-Type %q", gotCT)
	}
	if gotBody != "a=1&b=2" {
		t.Errorf("got body %q", gotBody)
	}
}

func TestExecute_HeaderOverride(t *testing.T) {
	var gotUA, gotLang string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
	}))
	defer ts.Close()

	e := newEngine(t)
	if _, err := e.Execute(context.Background(), &engine.Request{
		Method: "GET",
		URL:    ts.URL,
		Headers: map[string]string{
			"User-Agent":      "custom-agent/2.0",
			"Accept-Language": "",
		},
	}); err != nil {
		t.Fatal(err)
	}
	if gotUA != "custom-agent/2.0" {
		t.Errorf("got User-Agent %q, want the override", gotUA)
	}
	if gotLang != "" {
		t.Errorf("got Accept-Language %q, want header suppressed", gotLang)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newEngine(t)

	id, err := e.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if e.ActiveSessions() != 1 {
		t.Errorf("got %d active sessions, want 1", e.ActiveSessions())
	}

	if err := e.DeleteSession(id); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteSession(id); errs.KindOf(err) != errs.KindSessionNotFound {
		t.Errorf("got kind %q on double delete, want session_not_found", errs.KindOf(err))
	}
	if _, err := e.SessionCookies(id); errs.KindOf(err) != errs.KindSessionNotFound {
		t.Errorf("got kind %q for cookies of deleted session, want session_not_found", errs.KindOf(err))
	}
}

func TestExecute_CountsMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer ts.Close()

	e := newEngine(t)
	e.Execute(context.Background(), &engine.Request{Method: "GET", URL: ts.URL + "/ok"})
	e.Execute(context.Background(), &engine.Request{Method: "GET", URL: ts.URL + "/fail"})

	total, success, failed := e.Metrics().Snapshot()
	if total != 2 || success != 1 || failed != 1 {
		t.Errorf("got total=%d success=%d failed=%d", total, success, failed)
	}
}
