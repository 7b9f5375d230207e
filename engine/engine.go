// Package engine is the public entry point of the proxy core: it validates
// request descriptors, resolves sessions, drives the redirect resolver, and
// assembles response descriptors.
package engine

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/firasghr/GoTLSProxy/config"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/logger"
	"github.com/firasghr/GoTLSProxy/metrics"
	"github.com/firasghr/GoTLSProxy/payload"
	"github.com/firasghr/GoTLSProxy/proxy"
	"github.com/firasghr/GoTLSProxy/redirect"
	"github.com/firasghr/GoTLSProxy/session"
)

// Request is the caller-facing request descriptor.
type Request struct {
	// Method is one of GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS.
	Method string `json:"method"`

	// URL is the absolute target URL; scheme must be http or https.
	URL string `json:"url"`

	// Headers are caller overrides merged over the browser defaults.
	// Last write wins on case-insensitive name match; an empty value
	// suppresses the header.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is either a JSON-serializable value (sent as application/json)
	// or a JSON string (sent verbatim as text/plain unless overridden).
	Body json.RawMessage `json:"body,omitempty"`

	// SessionID selects a registered session for cookie and connection
	// continuity.  Empty means an ephemeral session for this call only.
	SessionID string `json:"session_id,omitempty"`

	// Proxy is an optional upstream proxy URL (http, https or socks5).
	Proxy string `json:"proxy,omitempty"`
}

// Response is the caller-facing response descriptor.
type Response struct {
	StatusCode int `json:"status_code"`

	// Headers holds the final response's headers.  Single-valued headers
	// flatten to strings; multi-valued ones (Set-Cookie) stay lists.
	Headers map[string]interface{} `json:"headers"`

	// Body is the interpreted response body: structured data for JSON
	// responses, a string for text, or a tagged base64 object for binary.
	Body interface{} `json:"body"`

	// SessionID is the session handle actually used, omitted for
	// ephemeral calls.
	SessionID string `json:"session_id,omitempty"`

	// ElapsedMs measures orchestrator entry to response materialisation,
	// rounded to two decimals.
	ElapsedMs float64 `json:"elapsed_ms"`

	// RedirectCount is the number of redirects followed; always equals
	// len(RedirectChain).
	RedirectCount int `json:"redirect_count"`

	// RedirectChain lists the URLs traversed before the final one.
	RedirectChain []string `json:"redirect_chain"`

	// FinalURL is the URL that produced the final response.
	FinalURL string `json:"final_url"`
}

// permittedMethods is the closed set of accepted HTTP methods.
var permittedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Engine owns the session registry and executes proxied requests.  Construct
// one Engine per process (or per test); it carries no ambient global state.
type Engine struct {
	cfg      *config.Config
	profile  *fingerprint.Profile
	registry *session.Registry
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New creates an Engine using the given browser profile.
func New(cfg *config.Config, profile *fingerprint.Profile, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		profile:  profile,
		registry: session.NewRegistry(cfg, profile, log),
		metrics:  metrics.NewMetrics(),
		log:      log.WithComponent("engine"),
	}
}

// Start launches background work (the registry sweeper).
func (e *Engine) Start() { e.registry.Start() }

// Stop halts background work and closes every registered session.
func (e *Engine) Stop() { e.registry.Stop() }

// Metrics exposes the engine's request counters.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// ActiveSessions returns the number of registered sessions.
func (e *Engine) ActiveSessions() int { return e.registry.Count() }

// MaxSessions returns the registry capacity.
func (e *Engine) MaxSessions() int { return e.cfg.MaxSessions }

// CreateSession registers a new session and returns its generated handle.
func (e *Engine) CreateSession() (string, error) {
	return e.registry.Create()
}

// DeleteSession removes a registered session, releasing its transport.
func (e *Engine) DeleteSession(id string) error {
	if !e.registry.Delete(id) {
		return errs.Newf(errs.KindSessionNotFound, "session not found: %s", id)
	}
	return nil
}

// SessionCookies returns the flat cookie snapshot of a registered session.
func (e *Engine) SessionCookies(id string) (map[string]string, error) {
	cookies, ok := e.registry.Cookies(id)
	if !ok {
		return nil, errs.Newf(errs.KindSessionNotFound, "session not found: %s", id)
	}
	return cookies, nil
}

// Execute runs one proxied request to its terminal response.
//
// The call acquires the session's mutual-exclusion token for its whole
// duration, so two requests on the same session serialise and each observes
// the other's cookie effects; requests on distinct sessions run in parallel.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Response, error) {
	method, targetURL, proxyURL, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	body, overrides, err := prepareBody(req)
	if err != nil {
		return nil, err
	}

	s, release, err := e.acquireSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	e.metrics.IncrementTotal()
	start := time.Now()

	resolver := &redirect.Resolver{
		Transport:  s.Transport,
		Jar:        s.Jar,
		Profile:    e.profile,
		MaxHops:    e.cfg.MaxRedirects,
		HopTimeout: e.cfg.RequestTimeout,
	}
	result, err := resolver.Do(ctx, &redirect.Request{
		Method:    method,
		URL:       targetURL,
		Overrides: overrides,
		Body:      body,
		Proxy:     proxyURL,
	})
	if err != nil {
		e.metrics.IncrementFailed()
		e.log.Debugf("%s %s failed after %s: %v", method, req.URL, time.Since(start), err)
		return nil, err
	}

	s.Touch()
	if result.Exchange.StatusCode < 400 {
		e.metrics.IncrementSuccess()
	} else {
		e.metrics.IncrementFailed()
	}
	if s.Handle != "" {
		e.log.Debugf("%s %s -> %d via session %s (request #%d)",
			method, req.URL, result.Exchange.StatusCode, s.Handle, s.RequestCount())
	}

	elapsed := math.Round(float64(time.Since(start).Microseconds())/10) / 100

	chain := result.Chain
	if chain == nil {
		chain = []string{}
	}

	return &Response{
		StatusCode:    result.Exchange.StatusCode,
		Headers:       flattenHeaders(result.Exchange.Header),
		Body:          payload.DecodeResponse(result.Exchange.Header.Get("Content-Type"), result.Exchange.Body),
		SessionID:     req.SessionID,
		ElapsedMs:     elapsed,
		RedirectCount: result.Hops,
		RedirectChain: chain,
		FinalURL:      result.FinalURL.String(),
	}, nil
}

// validate checks the request descriptor and parses its URL and proxy.
func (e *Engine) validate(req *Request) (method string, u *url.URL, proxyURL *url.URL, err error) {
	method = strings.ToUpper(strings.TrimSpace(req.Method))
	if !permittedMethods[method] {
		return "", nil, nil, errs.Newf(errs.KindBadRequest, "unsupported method %q", req.Method)
	}

	u, parseErr := url.Parse(req.URL)
	if parseErr != nil {
		return "", nil, nil, errs.Wrap(errs.KindBadRequest, "invalid URL "+req.URL, parseErr)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, nil, errs.Newf(errs.KindBadRequest, "URL must be absolute with http or https scheme, got %q", req.URL)
	}

	proxyURL, err = proxy.Validate(req.Proxy)
	if err != nil {
		return "", nil, nil, err
	}
	return method, u, proxyURL, nil
}

// prepareBody encodes the caller body and builds the private overrides map
// the resolver may mutate across hops.  When the body is structured and the
// caller set no Content-Type, application/json is attached; a raw string
// body defaults to text/plain.
func prepareBody(req *Request) ([]byte, map[string]string, error) {
	overrides := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		overrides[k] = v
	}

	body, contentType, err := payload.EncodeRequest(req.Body)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindBadRequest, "invalid request body", err)
	}
	if body != nil && contentType != "" && !hasHeader(overrides, "Content-Type") {
		overrides["Content-Type"] = contentType
	}
	return body, overrides, nil
}

// acquireSession resolves the session for the call — registered when a
// handle is given, ephemeral otherwise — and takes its token.  The returned
// release function undoes both.
func (e *Engine) acquireSession(ctx context.Context, handle string) (*session.Session, func(), error) {
	if handle == "" {
		s := session.NewEphemeral(e.profile)
		if err := s.Acquire(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() {
			s.Release()
			s.Close()
		}, nil
	}

	s, err := e.registry.GetOrCreate(handle)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	return s, s.Release, nil
}

// flattenHeaders converts an http.Header into the wire shape: single values
// as strings, repeated headers (Set-Cookie in particular) as string lists.
func flattenHeaders(h map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, vals := range h {
		if len(vals) == 1 {
			out[k] = vals[0]
		} else {
			out[k] = vals
		}
	}
	return out
}

// hasHeader reports whether overrides contains name, case-insensitively.
func hasHeader(overrides map[string]string, name string) bool {
	for k := range overrides {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
