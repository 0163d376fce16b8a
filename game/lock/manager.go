package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var ErrConflict = errors.New("session in use")

var log = logrus.WithField("pkg", "lock")

const (
	DefaultTTL             = 45 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultIdleBackupAfter = time.Hour
)

// Mode selects whether a holder keeps the lock between actions.
type Mode string

const (
	// ModeHold keeps the lock until it is released or its TTL lapses.
	ModeHold Mode = "hold"
	// ModeAutoRelease drops the lock after every mutating action.
	ModeAutoRelease Mode = "auto-release"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHold:
		return ModeHold, nil
	case ModeAutoRelease:
		return ModeAutoRelease, nil
	}
	return "", fmt.Errorf("unknown lock mode %q", s)
}

// BackupTrigger is armed when every session has gone idle and disarmed by the
// next acquisition.
type BackupTrigger interface {
	RequestDeferredBackup(after time.Duration)
	CancelDeferredBackup()
}

// State is the lock of one session. The zero value is unlocked.
type State struct {
	HolderID  string    `json:"holder_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the lock is held at now.
func (s State) Active(now time.Time) bool {
	return s.HolderID != "" && now.Before(s.ExpiresAt)
}

// Options configures a Manager. Zero fields take defaults.
type Options struct {
	TTL             time.Duration
	SweepInterval   time.Duration
	IdleBackupAfter time.Duration
	Mode            Mode
	Clock           clockwork.Clock
	Trigger         BackupTrigger
}

// Manager arbitrates which holder may mutate each session.
type Manager struct {
	mu            sync.Mutex
	locks         map[string]*State
	opts          Options
	deferredArmed bool
}

// NewManager creates a lock manager
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.IdleBackupAfter <= 0 {
		opts.IdleBackupAfter = DefaultIdleBackupAfter
	}
	if opts.Mode == "" {
		opts.Mode = ModeHold
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		locks: make(map[string]*State),
		opts:  opts,
	}
}

// Mode returns the configured lock mode
func (m *Manager) Mode() Mode { return m.opts.Mode }

// TTL returns the configured lock lifetime
func (m *Manager) TTL() time.Duration { return m.opts.TTL }

// Acquire takes the lock for holderID, or refreshes it if holderID already
// holds it. An unexpired lock held by someone else yields ErrConflict.
func (m *Manager) Acquire(code, holderID string) (State, error) {
	if holderID == "" {
		return State{}, fmt.Errorf("%w: holder id is required", ErrConflict)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock.Now()
	if st, ok := m.locks[code]; ok && st.Active(now) && st.HolderID != holderID {
		return State{}, ErrConflict
	}

	st := &State{HolderID: holderID, ExpiresAt: now.Add(m.opts.TTL)}
	m.locks[code] = st

	if m.deferredArmed {
		m.deferredArmed = false
		if m.opts.Trigger != nil {
			m.opts.Trigger.CancelDeferredBackup()
		}
		log.WithField("code", code).Debug("deferred backup cancelled by new activity")
	}

	return *st, nil
}

// Heartbeat extends an unexpired lock held by holderID.
func (m *Manager) Heartbeat(code, holderID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock.Now()
	st, ok := m.locks[code]
	if !ok || !st.Active(now) || st.HolderID != holderID {
		return State{}, ErrConflict
	}

	st.ExpiresAt = now.Add(m.opts.TTL)
	return *st, nil
}

// Release unlocks the session if holderID is the recorded holder.
func (m *Manager) Release(code, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[code]
	if !ok || st.HolderID != holderID {
		return ErrConflict
	}

	delete(m.locks, code)
	return nil
}

// Status returns the current lock of a session; the zero State when unlocked.
func (m *Manager) Status(code string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[code]
	if !ok || !st.Active(m.opts.Clock.Now()) {
		return State{}
	}
	return *st
}

// Forget drops any lock recorded for a deleted session.
func (m *Manager) Forget(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, code)
}

// Sweep unlocks every session whose lock has expired. When that leaves no
// session locked, the deferred backup is armed. It returns the number of
// locks it expired.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock.Now()
	expired := 0
	for code, st := range m.locks {
		if !st.Active(now) {
			delete(m.locks, code)
			expired++
			log.WithFields(logrus.Fields{"code": code, "holder": st.HolderID}).Info("lock expired")
		}
	}

	if expired > 0 && len(m.locks) == 0 {
		m.deferredArmed = true
		if m.opts.Trigger != nil {
			m.opts.Trigger.RequestDeferredBackup(m.opts.IdleBackupAfter)
		}
		log.WithField("after", m.opts.IdleBackupAfter).Info("all sessions idle, deferred backup armed")
	}

	return expired
}

// StartSweeper runs Sweep every SweepInterval until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(m.opts.Clock))
	if err != nil {
		return fmt.Errorf("failed to create lock sweeper: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(m.opts.SweepInterval),
		gocron.NewTask(func() {
			m.Sweep()
		}),
		gocron.WithName("lock-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule lock sweep: %w", err)
	}

	sched.Start()
	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.WithError(err).Warn("lock sweeper shutdown")
		}
	}()

	return nil
}
