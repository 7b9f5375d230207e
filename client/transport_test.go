package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
)

func execute(t *testing.T, tr *Transport, rawURL string) *Exchange {
	t.Helper()
	u := mustParse(t, rawURL)
	p := fingerprint.Chrome133Profile()
	ex, err := tr.Execute(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    u,
		Header: Compose(p, u, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	return ex
}

func TestTransport_PlainHTTPExchange(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Add("Set-Cookie", "sid=1; Path=/")
		w.Header().Add("Set-Cookie", "theme=dark; Path=/")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer ts.Close()

	tr := NewTransport(fingerprint.Chrome133Profile())
	defer tr.Close()

	ex := execute(t, tr, ts.URL+"/pot")
	if ex.StatusCode != http.StatusTeapot {
		t.Errorf("got status %d", ex.StatusCode)
	}
	if string(ex.Body) != "short and stout" {
		t.Errorf("got body %q", ex.Body)
	}
	if len(ex.SetCookies) != 2 {
		t.Errorf("got %d Set-Cookie lines, want 2: %v", len(ex.SetCookies), ex.SetCookies)
	}
	if gotUA != fingerprint.Chrome133Profile().UserAgent {
		t.Errorf("server saw User-Agent %q", gotUA)
	}
}

func TestTransport_ReusesConnection(t *testing.T) {
	var addrs []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addrs = append(addrs, r.RemoteAddr)
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	tr := NewTransport(fingerprint.Chrome133Profile())
	defer tr.Close()

	execute(t, tr, ts.URL)
	execute(t, tr, ts.URL)

	if len(addrs) != 2 {
		t.Fatalf("got %d requests, want 2", len(addrs))
	}
	if addrs[0] != addrs[1] {
		t.Errorf("second request used a new connection: %s then %s", addrs[0], addrs[1])
	}
}

func TestTransport_DecodesGzipResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		gw.Write([]byte("compressed greetings"))
		gw.Close()
	}))
	defer ts.Close()

	tr := NewTransport(fingerprint.Chrome133Profile())
	defer tr.Close()

	ex := execute(t, tr, ts.URL)
	if string(ex.Body) != "compressed greetings" {
		t.Errorf("got body %q", ex.Body)
	}
}

func TestTransport_DialFailure(t *testing.T) {
	// Reserve a port, then close the listener so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTransport(fingerprint.Chrome133Profile())
	defer tr.Close()

	u := mustParse(t, "http://"+addr+"/")
	_, err = tr.Execute(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    u,
		Header: Compose(fingerprint.Chrome133Profile(), u, nil),
	})
	if errs.KindOf(err) != errs.KindUpstreamDial {
		t.Errorf("got kind %q (err %v), want upstream_dial", errs.KindOf(err), err)
	}
}

func TestTransport_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	tr := NewTransport(fingerprint.Chrome133Profile())
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	u := mustParse(t, ts.URL)
	_, err := tr.Execute(ctx, &Request{
		Method: http.MethodGet,
		URL:    u,
		Header: Compose(fingerprint.Chrome133Profile(), u, nil),
	})
	if errs.KindOf(err) != errs.KindTimeout {
		t.Errorf("got kind %q (err %v), want timeout", errs.KindOf(err), err)
	}
}
