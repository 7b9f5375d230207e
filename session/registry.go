// Package session – Registry manages the lifecycle of all registered
// sessions: capacity, TTL eviction, and handle lookup.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firasghr/GoTLSProxy/config"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/logger"
)

// Registry is a bounded, TTL-driven table of sessions.
//
// Concurrency model:
//   - A sync.RWMutex protects the sessions map.  Lookups take the read lock;
//     create, delete and sweep take the write lock.  The lock is held only
//     for map mutation, never across network I/O.
//   - Every mutating operation sweeps expired sessions inline before
//     enforcing capacity, so a full table of dead sessions never blocks a
//     live caller.
//   - A background goroutine additionally sweeps on a timer (TTL/10, floored
//     at 10 s) so idle deployments still release transports promptly.
type Registry struct {
	cfg     *config.Config
	profile *fingerprint.Profile
	log     *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates an empty registry.  Call Start to run the background
// sweeper and Stop to shut it down.
func NewRegistry(cfg *config.Config, profile *fingerprint.Profile, log *logger.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		profile:  profile,
		log:      log.WithComponent("registry"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Create allocates a new session under a generated UUIDv4 handle.
// It fails with capacity_exhausted only after an inline sweep could not free
// a slot.
func (r *Registry) Create() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureCapacityLocked(); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	r.sessions[handle] = newSession(handle, r.profile)
	r.log.Debugf("created session %s (%d/%d)", handle, len(r.sessions), r.cfg.MaxSessions)
	return handle, nil
}

// GetOrCreate returns the session registered under handle, refreshing its
// TTL clock, or creates one under that exact handle if capacity permits.
func (r *Registry) GetOrCreate(handle string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[handle]; ok {
		s.Touch()
		return s, nil
	}

	if err := r.ensureCapacityLocked(); err != nil {
		return nil, err
	}

	s := newSession(handle, r.profile)
	r.sessions[handle] = s
	r.log.Debugf("created session %s on first use (%d/%d)", handle, len(r.sessions), r.cfg.MaxSessions)
	return s, nil
}

// Delete removes the session registered under handle, releasing its
// transport resources before removal.  Reports whether a session existed;
// idempotent.
func (r *Registry) Delete(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[handle]
	if !ok {
		return false
	}
	s.Close()
	delete(r.sessions, handle)
	r.log.Debugf("deleted session %s", handle)
	return true
}

// Cookies returns the flat name→value cookie snapshot for handle.
func (r *Registry) Cookies(handle string) (map[string]string, bool) {
	r.mu.RLock()
	s, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Jar.Snapshot(), true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts every session idle longer than the TTL and returns how many
// were removed.  Sessions whose token is held are skipped and re-examined on
// the next sweep.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	now := time.Now()
	removed := 0
	for handle, s := range r.sessions {
		if now.Sub(s.LastAccess()) < r.cfg.SessionTTL {
			continue
		}
		if !s.TryAcquire() {
			// In use; its Touch on completion resets the TTL clock anyway.
			continue
		}
		s.Close()
		delete(r.sessions, handle)
		removed++
	}
	if removed > 0 {
		r.log.Infof("swept %d expired session(s), %d remaining", removed, len(r.sessions))
	}
	return removed
}

// ensureCapacityLocked sweeps when the table is full and reports
// capacity_exhausted if it still is.  Caller holds the write lock.
func (r *Registry) ensureCapacityLocked() error {
	if len(r.sessions) < r.cfg.MaxSessions {
		return nil
	}
	r.sweepLocked()
	if len(r.sessions) >= r.cfg.MaxSessions {
		return errs.Newf(errs.KindCapacityExhausted, "maximum number of sessions (%d) reached", r.cfg.MaxSessions)
	}
	return nil
}

// Start launches the periodic sweeper.  Must be called at most once.
func (r *Registry) Start() {
	interval := r.cfg.SweepInterval()
	r.log.Infof("sweeper running every %s (TTL %s)", interval, r.cfg.SessionTTL)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the sweeper and closes every registered session.  Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for handle, s := range r.sessions {
		s.Close()
		delete(r.sessions, handle)
	}
}
