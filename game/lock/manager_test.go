package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// MockTrigger records deferred backup requests
type MockTrigger struct {
	mu        sync.Mutex
	Requested []time.Duration
	Cancelled int
}

func (m *MockTrigger) RequestDeferredBackup(after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requested = append(m.Requested, after)
}

func (m *MockTrigger) CancelDeferredBackup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled++
}

func (m *MockTrigger) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requested), m.Cancelled
}

func newTestManager() (*Manager, *clockwork.FakeClock, *MockTrigger) {
	clock := clockwork.NewFakeClock()
	trigger := &MockTrigger{}
	m := NewManager(Options{
		TTL:             45 * time.Second,
		IdleBackupAfter: time.Hour,
		Clock:           clock,
		Trigger:         trigger,
	})
	return m, clock, trigger
}

func TestManager_Acquire(t *testing.T) {
	m, clock, _ := newTestManager()

	t.Run("unlocked session", func(t *testing.T) {
		st, err := m.Acquire("abc", "alice")
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if st.HolderID != "alice" || !st.ExpiresAt.Equal(clock.Now().Add(45*time.Second)) {
			t.Errorf("Unexpected state %+v", st)
		}
	})

	t.Run("re-entry refreshes expiry", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		st, err := m.Acquire("abc", "alice")
		if err != nil {
			t.Fatalf("Re-entry failed: %v", err)
		}
		if !st.ExpiresAt.Equal(clock.Now().Add(45 * time.Second)) {
			t.Errorf("Expected refreshed expiry, got %v", st.ExpiresAt)
		}
	})

	t.Run("different holder conflicts", func(t *testing.T) {
		_, err := m.Acquire("abc", "bob")
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("Expected ErrConflict, got %v", err)
		}
		if m.Status("abc").HolderID != "alice" {
			t.Error("Conflict must not change the holder")
		}
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		clock.Advance(46 * time.Second)
		st, err := m.Acquire("abc", "bob")
		if err != nil {
			t.Fatalf("Expected takeover after expiry, got %v", err)
		}
		if st.HolderID != "bob" {
			t.Errorf("Expected bob to hold the lock, got %q", st.HolderID)
		}
	})

	t.Run("empty holder rejected", func(t *testing.T) {
		if _, err := m.Acquire("xyz", ""); !errors.Is(err, ErrConflict) {
			t.Errorf("Expected ErrConflict for empty holder, got %v", err)
		}
	})

	t.Run("sessions are independent", func(t *testing.T) {
		if _, err := m.Acquire("other", "carol"); err != nil {
			t.Errorf("Expected independent lock, got %v", err)
		}
	})
}

func TestManager_Heartbeat(t *testing.T) {
	m, clock, _ := newTestManager()
	m.Acquire("abc", "alice")

	clock.Advance(30 * time.Second)
	st, err := m.Heartbeat("abc", "alice")
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if !st.ExpiresAt.Equal(clock.Now().Add(45 * time.Second)) {
		t.Errorf("Expected expiry extended, got %v", st.ExpiresAt)
	}

	if _, err := m.Heartbeat("abc", "bob"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for non-holder heartbeat, got %v", err)
	}
	if _, err := m.Heartbeat("missing", "alice"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for unlocked session, got %v", err)
	}

	clock.Advance(46 * time.Second)
	if _, err := m.Heartbeat("abc", "alice"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict after expiry, got %v", err)
	}
	if m.Status("abc").HolderID != "" {
		t.Error("Expired lock should report as unlocked")
	}
}

func TestManager_Release(t *testing.T) {
	m, _, _ := newTestManager()
	m.Acquire("abc", "alice")

	if err := m.Release("abc", "bob"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for non-holder release, got %v", err)
	}
	if err := m.Release("abc", "alice"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if m.Status("abc").HolderID != "" {
		t.Error("Expected session to be unlocked")
	}
	if _, err := m.Acquire("abc", "bob"); err != nil {
		t.Errorf("Expected bob to acquire after release, got %v", err)
	}
}

func TestManager_Exclusivity(t *testing.T) {
	m, _, _ := newTestManager()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := m.Acquire("race", string(rune('a'+id%26))+string(rune('A'+id/26))); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one holder, got %d", winners)
	}
}

func TestManager_Sweep(t *testing.T) {
	t.Run("arms deferred backup when everything is idle", func(t *testing.T) {
		m, clock, trigger := newTestManager()
		m.Acquire("one", "alice")
		m.Acquire("two", "bob")

		clock.Advance(30 * time.Second)
		if n := m.Sweep(); n != 0 {
			t.Errorf("Expected no expiries yet, got %d", n)
		}

		clock.Advance(20 * time.Second)
		if n := m.Sweep(); n != 2 {
			t.Errorf("Expected 2 expiries, got %d", n)
		}
		requested, _ := trigger.counts()
		if requested != 1 || trigger.Requested[0] != time.Hour {
			t.Fatalf("Expected one deferred backup request for 1h, got %v", trigger.Requested)
		}

		// Nothing left to expire: no duplicate arming.
		m.Sweep()
		if requested, _ := trigger.counts(); requested != 1 {
			t.Errorf("Expected no re-arm on an empty sweep, got %d requests", requested)
		}

		m.Acquire("three", "carol")
		if _, cancelled := trigger.counts(); cancelled != 1 {
			t.Errorf("Expected acquire to cancel the deferred backup, got %d cancels", cancelled)
		}

		m.Acquire("four", "dave")
		if _, cancelled := trigger.counts(); cancelled != 1 {
			t.Errorf("Expected a single cancel per arming, got %d", cancelled)
		}
	})

	t.Run("does not arm while another session is still locked", func(t *testing.T) {
		m, clock, trigger := newTestManager()
		m.Acquire("one", "alice")
		clock.Advance(40 * time.Second)
		m.Acquire("two", "bob")
		clock.Advance(10 * time.Second)

		if n := m.Sweep(); n != 1 {
			t.Errorf("Expected 1 expiry, got %d", n)
		}
		if requested, _ := trigger.counts(); requested != 0 {
			t.Errorf("Expected no deferred backup while 'two' is locked, got %d", requested)
		}
	})
}

func TestManager_StartSweeper(t *testing.T) {
	trigger := &MockTrigger{}
	m := NewManager(Options{
		TTL:           5 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
		Trigger:       trigger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Acquire("abc", "alice")
	if err := m.StartSweeper(ctx); err != nil {
		t.Fatalf("StartSweeper failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if requested, _ := trigger.counts(); requested == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected the scheduled sweep to expire the lock and arm a backup")
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeHold {
		t.Errorf("Expected default hold mode, got %q %v", mode, err)
	}
	if mode, err := ParseMode("auto-release"); err != nil || mode != ModeAutoRelease {
		t.Errorf("Expected auto-release, got %q %v", mode, err)
	}
	if _, err := ParseMode("forever"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
