package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/events"
	"github.com/wricardo/scratchcard/game/lock"
	"github.com/wricardo/scratchcard/game/service"
)

// MockSessionManager implements service.SessionManager for testing
type MockSessionManager struct {
	mu       sync.Mutex
	sessions map[string]*service.Session
	saves    []string
	seed     uint64
}

func NewMockSessionManager() *MockSessionManager {
	return &MockSessionManager{
		sessions: make(map[string]*service.Session),
	}
}

func (m *MockSessionManager) Create(code, configName string, config *engine.GameConfig) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := service.CanonicalCode(code)
	if _, exists := m.sessions[key]; exists {
		return nil, service.ErrSessionAlreadyExists
	}

	m.seed++
	eng, err := engine.NewEngineWithRand(config, rand.New(rand.NewPCG(m.seed, 7)))
	if err != nil {
		return nil, err
	}

	sess := &service.Session{
		Code:           key,
		ConfigName:     configName,
		Engine:         eng,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	m.sessions[key] = sess
	return sess, nil
}

func (m *MockSessionManager) Get(code string) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[service.CanonicalCode(code)]
	if !exists {
		return nil, service.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MockSessionManager) List() []*service.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess)
	}
	return result
}

func (m *MockSessionManager) Delete(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := service.CanonicalCode(code)
	if _, exists := m.sessions[key]; !exists {
		return service.ErrSessionNotFound
	}
	delete(m.sessions, key)
	return nil
}

func (m *MockSessionManager) Reset(code string) (*service.Session, error) {
	sess, err := m.Get(code)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	sess.Engine.Reset()
	sess.Unlock()
	return sess, nil
}

func (m *MockSessionManager) Reconfigure(code string, patch engine.ConfigPatch) (*engine.GameConfig, bool, error) {
	sess, err := m.Get(code)
	if err != nil {
		return nil, false, err
	}
	sess.Lock()
	defer sess.Unlock()
	return sess.Engine.Reconfigure(patch)
}

func (m *MockSessionManager) SaveAsync(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, code)
}

func (m *MockSessionManager) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

// MockConfigManager implements service.ConfigManager for testing
type MockConfigManager struct {
	configs map[string]*engine.GameConfig
}

func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		configs: map[string]*engine.GameConfig{
			"classic": {
				Name:          "classic",
				Description:   "Test configuration",
				GridSize:      9,
				WinningValues: []engine.WinningValue{{Value: 7, Threshold: 3}},
				ManagerSecret: "s3cret",
			},
			"open": {
				Name:          "open",
				GridSize:      4,
				WinningValues: []engine.WinningValue{{Value: 1, Threshold: 0}},
			},
		},
	}
}

func (m *MockConfigManager) LoadConfig(name string) (*engine.GameConfig, error) {
	if config, exists := m.configs[name]; exists {
		return config.Clone(), nil
	}
	return nil, fmt.Errorf("configuration not found: %s", name)
}

func (m *MockConfigManager) ListConfigs() ([]*service.ConfigInfo, error) {
	result := make([]*service.ConfigInfo, 0, len(m.configs))
	for id, config := range m.configs {
		result = append(result, &service.ConfigInfo{
			Filename: id + ".json",
			ConfigID: id,
			Name:     config.Name,
			GridSize: config.GridSize,
		})
	}
	return result, nil
}

func (m *MockConfigManager) GetDefault() *engine.GameConfig {
	return m.configs["classic"].Clone()
}

// MockPublisher records published events
type MockPublisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (p *MockPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, e)
}

func (p *MockPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	svc       service.GameService
	sessions  *MockSessionManager
	locks     *lock.Manager
	clock     *clockwork.FakeClock
	publisher *MockPublisher
}

func newFixture(mode lock.Mode) *fixture {
	clock := clockwork.NewFakeClock()
	sessions := NewMockSessionManager()
	locks := lock.NewManager(lock.Options{TTL: 45 * time.Second, Mode: mode, Clock: clock})
	publisher := &MockPublisher{}
	svc := service.NewGameService(sessions, NewMockConfigManager(), locks,
		service.WithPublisher(publisher),
		service.WithClock(clock),
	)
	return &fixture{svc: svc, sessions: sessions, locks: locks, clock: clock, publisher: publisher}
}

func TestGameService_CreateSession(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()

	t.Run("default preset", func(t *testing.T) {
		info, err := f.svc.CreateSession(ctx, "ABC", service.CreateRequest{})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if info.Code != "abc" || info.GridSize != 9 || info.ConfigName != "classic" {
			t.Errorf("Unexpected session info %+v", info)
		}
		if info.ScratchedCount != 0 || info.Locked {
			t.Errorf("New session should be untouched and unlocked: %+v", info)
		}
	})

	t.Run("duplicate code", func(t *testing.T) {
		_, err := f.svc.CreateSession(ctx, "abc", service.CreateRequest{})
		if service.ErrorKind(err) != service.KindAlreadyExists {
			t.Errorf("Expected already_exists, got %v", err)
		}
	})

	t.Run("explicit config", func(t *testing.T) {
		info, err := f.svc.CreateSession(ctx, "custom1", service.CreateRequest{
			Config: &engine.GameConfig{GridSize: 16, WinningValues: []engine.WinningValue{{Value: 3, Threshold: 5}}},
		})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if info.GridSize != 16 || info.ConfigName != "custom" {
			t.Errorf("Unexpected session info %+v", info)
		}
	})

	t.Run("unknown preset lists available ones", func(t *testing.T) {
		_, err := f.svc.CreateSession(ctx, "x1", service.CreateRequest{Preset: "nope"})
		if service.ErrorKind(err) != service.KindInvalidConfig {
			t.Fatalf("Expected invalid_config, got %v", err)
		}
		if !strings.Contains(err.Error(), "Available configs") {
			t.Errorf("Expected available configs in error, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := f.svc.CreateSession(ctx, "bad", service.CreateRequest{Config: &engine.GameConfig{GridSize: 0}})
		if service.ErrorKind(err) != service.KindInvalidConfig {
			t.Errorf("Expected invalid_config, got %v", err)
		}
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := f.svc.CreateSession(ctx, "  ", service.CreateRequest{})
		if service.ErrorKind(err) != service.KindInvalidConfig {
			t.Errorf("Expected invalid_config for empty code, got %v", err)
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		list, err := f.svc.ListSessions(ctx)
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(list) != 2 || list[0].Code != "abc" || list[1].Code != "custom1" {
			t.Errorf("Unexpected listing %+v", list)
		}
	})
}

func TestGameService_NotFound(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()

	calls := map[string]func() error{
		"GetSession":   func() error { _, err := f.svc.GetSession(ctx, "none"); return err },
		"ResetSession": func() error { _, err := f.svc.ResetSession(ctx, "none"); return err },
		"Delete":       func() error { return f.svc.DeleteSession(ctx, "none") },
		"Reconfigure":  func() error { _, err := f.svc.Reconfigure(ctx, "none", engine.ConfigPatch{}); return err },
		"AcquireLock":  func() error { _, err := f.svc.AcquireLock(ctx, "none", "h"); return err },
		"Heartbeat":    func() error { _, err := f.svc.Heartbeat(ctx, "none", "h"); return err },
		"ReleaseLock":  func() error { return f.svc.ReleaseLock(ctx, "none", "h") },
		"Reveal":       func() error { _, err := f.svc.Reveal(ctx, "none", 0, "h"); return err },
		"GetState":     func() error { _, err := f.svc.GetState(ctx, "none"); return err },
		"GetProgress":  func() error { _, err := f.svc.GetProgress(ctx, "none"); return err },
		"GetConfig":    func() error { _, err := f.svc.GetConfig(ctx, "none"); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if kind := service.ErrorKind(call()); kind != service.KindNotFound {
				t.Errorf("Expected not_found, got %q", kind)
			}
		})
	}
}

func TestGameService_Locking(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	info, err := f.svc.AcquireLock(ctx, "ABC", "alice")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if info.HolderID != "alice" || info.TTLSeconds != 45 || info.Mode != "hold" {
		t.Errorf("Unexpected lock info %+v", info)
	}

	if _, err := f.svc.AcquireLock(ctx, "abc", "bob"); service.ErrorKind(err) != service.KindConflict {
		t.Errorf("Expected conflict for second holder, got %v", err)
	}
	if _, err := f.svc.Reveal(ctx, "abc", 0, "bob"); service.ErrorKind(err) != service.KindConflict {
		t.Errorf("Expected conflict for reveal by non-holder, got %v", err)
	}
	if _, err := f.svc.Heartbeat(ctx, "abc", "bob"); service.ErrorKind(err) != service.KindConflict {
		t.Errorf("Expected conflict for heartbeat by non-holder, got %v", err)
	}

	state, _ := f.svc.GetState(ctx, "abc")
	if !state.Locked || state.LockExpiresAt == nil {
		t.Error("Expected state to report the lock")
	}

	if err := f.svc.ReleaseLock(ctx, "abc", "alice"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if _, err := f.svc.AcquireLock(ctx, "abc", "bob"); err != nil {
		t.Errorf("Expected bob to acquire after release, got %v", err)
	}

	if f.publisher.count(events.LockAcquired) != 2 || f.publisher.count(events.LockReleased) != 1 {
		t.Errorf("Unexpected lock events %+v", f.publisher.Events)
	}
}

func TestGameService_Reveal(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	out, err := f.svc.Reveal(ctx, "abc", 4, "alice")
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if out.Value < 1 || out.Value > 9 || out.RevealedCount != 1 || out.Progress.ScratchedCount != 1 {
		t.Errorf("Unexpected outcome %+v", out)
	}
	if out.Winning {
		t.Error("A winning value with threshold 3 must not be exposed on the first reveal")
	}

	again, err := f.svc.Reveal(ctx, "abc", 4, "alice")
	if err != nil {
		t.Fatalf("Repeat reveal failed: %v", err)
	}
	if !again.AlreadyRevealed || again.Value != out.Value {
		t.Errorf("Expected idempotent re-read, got %+v", again)
	}
	if f.sessions.saveCount() != 1 {
		t.Errorf("Expected one snapshot save, got %d", f.sessions.saveCount())
	}
	if f.publisher.count(events.Revealed) != 1 {
		t.Errorf("Expected one revealed event, got %d", f.publisher.count(events.Revealed))
	}

	if _, err := f.svc.Reveal(ctx, "abc", 9, "alice"); service.ErrorKind(err) != service.KindInvalidIndex {
		t.Errorf("Expected invalid_index, got %v", err)
	}
	if _, err := f.svc.Reveal(ctx, "abc", -1, "alice"); service.ErrorKind(err) != service.KindInvalidIndex {
		t.Errorf("Expected invalid_index, got %v", err)
	}

	state, err := f.svc.GetState(ctx, "abc")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Scratched[4] == nil || *state.Scratched[4] != out.Value || !state.Revealed[4] {
		t.Error("Expected scratched cell in public state")
	}
	for i, v := range state.Scratched {
		if i != 4 && v != nil {
			t.Errorf("Hidden cell %d leaked value %d", i, *v)
		}
	}
	if len(state.WinningValues) != 1 || state.WinningValues[0] != 7 {
		t.Errorf("Expected winning values [7], got %v", state.WinningValues)
	}
}

func TestGameService_RevealWholeGrid(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	seen := make(map[int]bool)
	for i := 0; i < 9; i++ {
		out, err := f.svc.Reveal(ctx, "abc", i, "alice")
		if err != nil {
			t.Fatalf("Reveal %d failed: %v", i, err)
		}
		if out.Winning && out.RevealedCount-1 < 3 {
			t.Errorf("Winning value exposed with only %d prior reveals", out.RevealedCount-1)
		}
		seen[out.Value] = true
	}
	if len(seen) != 9 {
		t.Errorf("Expected all 9 values revealed, got %v", seen)
	}
	if f.publisher.count(events.WinningRevealed) != 1 {
		t.Errorf("Expected exactly one winning event, got %d", f.publisher.count(events.WinningRevealed))
	}

	progress, _ := f.svc.GetProgress(ctx, "abc")
	if progress.RemainingCount != 0 || !progress.ThresholdReached {
		t.Errorf("Unexpected progress %+v", progress)
	}
}

func TestGameService_AutoRelease(t *testing.T) {
	f := newFixture(lock.ModeAutoRelease)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	out, err := f.svc.Reveal(ctx, "abc", 0, "alice")
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if !out.LockReleased {
		t.Error("Expected lock to be released after reveal")
	}
	if _, err := f.svc.Reveal(ctx, "abc", 1, "bob"); err != nil {
		t.Errorf("Expected bob to play after auto-release, got %v", err)
	}
	if _, err := f.svc.Reveal(ctx, "abc", 99, "carol"); service.ErrorKind(err) != service.KindInvalidIndex {
		t.Errorf("Expected invalid_index, got %v", err)
	}
	if st := f.locks.Status("abc"); st.HolderID != "" {
		t.Errorf("Expected no lock left behind after a failed reveal, got %+v", st)
	}
}

func TestGameService_InvalidRevealLeavesLockFree(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	for _, index := range []int{99, -1} {
		if _, err := f.svc.Reveal(ctx, "abc", index, "mallory"); service.ErrorKind(err) != service.KindInvalidIndex {
			t.Errorf("Reveal(%d): expected invalid_index, got %v", index, err)
		}
	}
	if st := f.locks.Status("abc"); st.HolderID != "" {
		t.Fatalf("Expected no lock after rejected reveals, got %+v", st)
	}
	if _, err := f.svc.AcquireLock(ctx, "abc", "alice"); err != nil {
		t.Errorf("Expected alice to acquire after rejected reveals, got %v", err)
	}
	if f.publisher.count(events.LockAcquired) != 1 {
		t.Errorf("Expected only alice's lock event, got %d", f.publisher.count(events.LockAcquired))
	}
}

func TestGameService_LockExpiry(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	f.svc.AcquireLock(ctx, "abc", "alice")
	f.clock.Advance(46 * time.Second)

	if _, err := f.svc.Heartbeat(ctx, "abc", "alice"); service.ErrorKind(err) != service.KindConflict {
		t.Errorf("Expected conflict after expiry, got %v", err)
	}
	if _, err := f.svc.Reveal(ctx, "abc", 0, "bob"); err != nil {
		t.Errorf("Expected bob to take over an expired lock, got %v", err)
	}
}

func TestGameService_ResetAndReconfigure(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})
	f.svc.Reveal(ctx, "abc", 0, "alice")

	info, err := f.svc.ResetSession(ctx, "abc")
	if err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}
	if info.ScratchedCount != 0 {
		t.Errorf("Expected reset to clear scratched cells, got %d", info.ScratchedCount)
	}

	size := 16
	config, err := f.svc.Reconfigure(ctx, "abc", engine.ConfigPatch{GridSize: &size})
	if err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if config.GridSize != 16 || config.ManagerSecret != "s3cret" {
		t.Errorf("Unexpected config %+v", config)
	}
	state, _ := f.svc.GetState(ctx, "abc")
	if state.GridSize != 16 || len(state.Scratched) != 16 {
		t.Errorf("Expected regenerated 16-cell grid, got %d", state.GridSize)
	}

	bad := []engine.WinningValue{{Value: 99, Threshold: 1}}
	if _, err := f.svc.Reconfigure(ctx, "abc", engine.ConfigPatch{WinningValues: &bad}); service.ErrorKind(err) != service.KindInvalidConfig {
		t.Errorf("Expected invalid_config, got %v", err)
	}

	if f.publisher.count(events.SessionReset) != 1 || f.publisher.count(events.SessionReconfigured) != 1 {
		t.Errorf("Unexpected events %+v", f.publisher.Events)
	}
}

func TestGameService_DeleteForgetsLock(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})
	f.svc.AcquireLock(ctx, "abc", "alice")

	if err := f.svc.DeleteSession(ctx, "ABC"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if st := f.locks.Status("abc"); st.HolderID != "" {
		t.Error("Expected lock to be forgotten on delete")
	}

	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})
	if _, err := f.svc.AcquireLock(ctx, "abc", "bob"); err != nil {
		t.Errorf("Expected recreated session to be unlocked, got %v", err)
	}
}

func TestGameService_CheckManagerSecret(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{Preset: "classic"})
	f.svc.CreateSession(ctx, "open", service.CreateRequest{Preset: "open"})

	if err := f.svc.CheckManagerSecret(ctx, "abc", "s3cret"); err != nil {
		t.Errorf("Expected valid secret, got %v", err)
	}
	if err := f.svc.CheckManagerSecret(ctx, "abc", "wrong"); !errors.Is(err, service.ErrInvalidSecret) {
		t.Errorf("Expected ErrInvalidSecret, got %v", err)
	}
	if err := f.svc.CheckManagerSecret(ctx, "open", ""); !errors.Is(err, service.ErrInvalidSecret) {
		t.Errorf("Expected sessions without a secret to reject managers, got %v", err)
	}
}

func TestGameService_ConcurrentReveals(t *testing.T) {
	f := newFixture(lock.ModeHold)
	ctx := context.Background()
	f.svc.CreateSession(ctx, "abc", service.CreateRequest{})

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			f.svc.Reveal(ctx, "abc", idx, "alice")
		}(i)
	}
	wg.Wait()

	state, _ := f.svc.GetState(ctx, "abc")
	seen := make(map[int]bool)
	for _, v := range state.Scratched {
		if v == nil {
			t.Fatal("Expected every cell to be revealed")
		}
		if seen[*v] {
			t.Errorf("Value %d revealed twice", *v)
		}
		seen[*v] = true
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		kind service.Kind
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", service.ErrSessionNotFound), service.KindNotFound},
		{service.ErrSessionAlreadyExists, service.KindAlreadyExists},
		{lock.ErrConflict, service.KindConflict},
		{engine.ErrInvalidIndex, service.KindInvalidIndex},
		{engine.ErrInvalidConfig, service.KindInvalidConfig},
		{service.ErrInvalidSecret, service.KindUnauthorized},
		{errors.New("disk on fire"), service.KindInternal},
	}
	for _, tt := range tests {
		if got := service.ErrorKind(tt.err); got != tt.kind {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}
