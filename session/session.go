// Package session provides the Session type and the Registry that manages
// session lifecycle. Each session owns its own cookie jar and fingerprinted
// transport so multi-step flows (login, 2FA, follow-up calls) share cookies
// and connection state without ever leaking either across sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/firasghr/GoTLSProxy/client"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/jar"
)

// Session is one independent browsing identity.
//
// Architecture notes:
//   - The session exclusively owns its jar and transport; the orchestrator
//     borrows them for the duration of a call and never copies the jar.
//   - A capacity-one channel acts as the mutual-exclusion token.  Requests
//     on the same session serialise on it; requests on distinct sessions run
//     fully in parallel.  A channel rather than a mutex lets acquisition
//     respect context cancellation and lets the sweeper try-acquire without
//     blocking.
//   - CreatedAt is set once at construction and never mutated; lastAccess
//     and the request counter are guarded by a small struct mutex.
type Session struct {
	// Handle uniquely identifies the session.  Caller-provided or a
	// generated UUIDv4.
	Handle string

	// CreatedAt records when the session was constructed.
	CreatedAt time.Time

	// Jar stores the session's cookies.
	Jar *jar.Jar

	// Transport issues this session's upstream exchanges and caches its
	// connections.
	Transport *client.Transport

	token chan struct{}

	mu           sync.Mutex
	lastAccess   time.Time
	requestCount uint64
}

// newSession constructs a session with a fresh jar and transport.
func newSession(handle string, profile *fingerprint.Profile) *Session {
	now := time.Now()
	return &Session{
		Handle:     handle,
		CreatedAt:  now,
		Jar:        jar.New(),
		Transport:  client.NewTransport(profile),
		token:      make(chan struct{}, 1),
		lastAccess: now,
	}
}

// NewEphemeral allocates a session that lives outside any registry: the
// orchestrator uses it for a single call (including all redirect hops) and
// discards it on completion.
func NewEphemeral(profile *fingerprint.Profile) *Session {
	return newSession("", profile)
}

// Acquire takes the session's mutual-exclusion token, blocking behind any
// in-flight request on the same session.  Cancellation while queued reports
// a timeout.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindTimeout, "waiting for session "+s.Handle, ctx.Err())
	}
}

// TryAcquire takes the token only if it is free.  Used by the sweeper, which
// must never block behind an in-flight request.
func (s *Session) TryAcquire() bool {
	select {
	case s.token <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns the token.  Must be called exactly once per successful
// Acquire/TryAcquire.
func (s *Session) Release() {
	<-s.token
}

// Touch records activity on the session, refreshing its TTL clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.requestCount++
	s.mu.Unlock()
}

// LastAccess returns the time of the most recent activity.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// RequestCount returns how many requests the session has served.
func (s *Session) RequestCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// Close releases the session's transport resources.  After Close the session
// must not be used.
func (s *Session) Close() {
	s.Transport.Close()
}
