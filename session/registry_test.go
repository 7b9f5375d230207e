package session_test

import (
	"testing"
	"time"

	"github.com/firasghr/GoTLSProxy/config"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/logger"
	"github.com/firasghr/GoTLSProxy/session"
)

func newRegistry(t *testing.T, maxSessions int, ttl time.Duration) *session.Registry {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MaxSessions = maxSessions
	cfg.SessionTTL = ttl
	log := logger.New(logger.LevelError)
	r := session.NewRegistry(cfg, fingerprint.Chrome133Profile(), log)
	t.Cleanup(r.Stop)
	return r
}

func TestRegistry_CreateAndDelete(t *testing.T) {
	r := newRegistry(t, 10, time.Hour)

	id, err := r.Create()
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("Create returned an empty handle")
	}
	if r.Count() != 1 {
		t.Errorf("got count %d, want 1", r.Count())
	}

	if !r.Delete(id) {
		t.Error("Delete reported no session for a live handle")
	}
	if r.Delete(id) {
		t.Error("second Delete reported success, want idempotent false")
	}
	if r.Count() != 0 {
		t.Errorf("got count %d after delete, want 0", r.Count())
	}
}

func TestRegistry_CapacityExhausted(t *testing.T) {
	r := newRegistry(t, 2, time.Hour)

	if _, err := r.Create(); err != nil {
		t.Fatal(err)
	}
	second, err := r.Create()
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Create()
	if errs.KindOf(err) != errs.KindCapacityExhausted {
		t.Fatalf("got kind %q, want capacity_exhausted", errs.KindOf(err))
	}

	// Deleting frees a slot.
	r.Delete(second)
	if _, err := r.Create(); err != nil {
		t.Errorf("Create after Delete: %v", err)
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := newRegistry(t, 10, time.Hour)

	s1, err := r.GetOrCreate("client-chosen-handle")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.GetOrCreate("client-chosen-handle")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("GetOrCreate created a second session for the same handle")
	}
	if r.Count() != 1 {
		t.Errorf("got count %d, want 1", r.Count())
	}
}

func TestRegistry_SweepEvictsExpired(t *testing.T) {
	r := newRegistry(t, 10, 30*time.Millisecond)

	if _, err := r.Create(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if removed := r.Sweep(); removed != 1 {
		t.Errorf("got %d sessions swept, want 1", removed)
	}
	if r.Count() != 0 {
		t.Errorf("got count %d after sweep, want 0", r.Count())
	}
}

func TestRegistry_SweepSkipsBusySessions(t *testing.T) {
	r := newRegistry(t, 10, 30*time.Millisecond)

	s, err := r.GetOrCreate("busy")
	if err != nil {
		t.Fatal(err)
	}
	if !s.TryAcquire() {
		t.Fatal("could not take the token")
	}
	defer s.Release()

	time.Sleep(50 * time.Millisecond)
	if removed := r.Sweep(); removed != 0 {
		t.Errorf("swept %d sessions, want busy session skipped", removed)
	}
	if r.Count() != 1 {
		t.Errorf("got count %d, want the busy session retained", r.Count())
	}
}

func TestRegistry_CreateSweepsWhenFull(t *testing.T) {
	r := newRegistry(t, 1, 30*time.Millisecond)

	if _, err := r.Create(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	// The table is full but its only occupant expired: Create must sweep
	// inline and succeed rather than fail on capacity.
	if _, err := r.Create(); err != nil {
		t.Errorf("Create did not reclaim the expired slot: %v", err)
	}
}

func TestRegistry_Cookies(t *testing.T) {
	r := newRegistry(t, 10, time.Hour)

	id, err := r.Create()
	if err != nil {
		t.Fatal(err)
	}
	cookies, ok := r.Cookies(id)
	if !ok {
		t.Fatal("Cookies reported no session for a live handle")
	}
	if len(cookies) != 0 {
		t.Errorf("fresh session has cookies: %v", cookies)
	}
	if _, ok := r.Cookies("missing"); ok {
		t.Error("Cookies reported a session for an unknown handle")
	}
}
