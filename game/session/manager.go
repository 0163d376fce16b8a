package session

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/service"
)

var (
	ErrSessionNotFound      = service.ErrSessionNotFound
	ErrSessionAlreadyExists = service.ErrSessionAlreadyExists
	ErrInvalidSessionCode   = service.ErrInvalidCode
)

var log = logrus.WithField("pkg", "session")

var codePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Manager is the session registry. The map has its own lock; each session
// is guarded by its embedded mutex.
type Manager struct {
	sessions    map[string]*service.Session
	persistence SessionPersistence
	clock       clockwork.Clock
	mu          sync.RWMutex

	// saveMu orders snapshot writes against each other and against deletes
	saveMu  sync.Mutex
	pending sync.WaitGroup
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock sets the clock used for creation and activity timestamps
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a new in-memory session manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*service.Session),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerWithPersistence creates a new session manager with persistence
func NewManagerWithPersistence(persistence SessionPersistence, opts ...Option) *Manager {
	m := NewManager(opts...)
	m.persistence = persistence
	return m
}

// ValidateCode canonicalizes a session code and checks that it is usable as a key.
func ValidateCode(code string) (string, error) {
	key := service.CanonicalCode(code)
	if !codePattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q must be 1-64 letters, digits, '-' or '_'", ErrInvalidSessionCode, code)
	}
	return key, nil
}

// Create registers a new session and deals its grid
func (m *Manager) Create(code, configName string, config *engine.GameConfig) (*service.Session, error) {
	key, err := ValidateCode(code)
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewEngine(config)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	sess := &service.Session{
		Code:           key,
		ConfigName:     configName,
		Engine:         eng,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, ErrSessionAlreadyExists
	}
	m.sessions[key] = sess
	m.mu.Unlock()

	if err := m.Save(key); err != nil {
		log.WithError(err).WithField("session", key).Warn("failed to persist new session")
	}

	return sess, nil
}

// Get retrieves a session by code (case-insensitive), loading it from
// persistence if it is not in memory
func (m *Manager) Get(code string) (*service.Session, error) {
	key := service.CanonicalCode(code)

	m.mu.RLock()
	sess, exists := m.sessions[key]
	m.mu.RUnlock()

	if exists {
		return sess, nil
	}

	if m.persistence == nil || key == "" {
		return nil, ErrSessionNotFound
	}

	// a concurrent Delete holds saveMu until the snapshot is gone
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if !m.persistence.Exists(key) {
		return nil, ErrSessionNotFound
	}

	data, err := m.persistence.Load(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}
	loaded, err := restore(data)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, exists := m.sessions[key]; exists {
		return sess, nil
	}
	m.sessions[key] = loaded
	return loaded, nil
}

// List returns all sessions in memory
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess)
	}

	return result
}

// Codes returns the sorted codes of all sessions in memory
func (m *Manager) Codes() []string {
	m.mu.RLock()
	codes := make([]string, 0, len(m.sessions))
	for code := range m.sessions {
		codes = append(codes, code)
	}
	m.mu.RUnlock()

	sort.Strings(codes)
	return codes
}

// Count returns the number of sessions in memory
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete removes a session and its durable snapshot
func (m *Manager) Delete(code string) error {
	key := service.CanonicalCode(code)

	m.mu.Lock()
	_, inMemory := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.persistence == nil || key == "" {
		if !inMemory {
			return ErrSessionNotFound
		}
		return nil
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.persistence.Exists(key) {
		if err := m.persistence.Delete(key); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
		return nil
	}

	if !inMemory {
		return ErrSessionNotFound
	}
	return nil
}

// Reset deals a new grid and hides every cell, keeping the configuration
func (m *Manager) Reset(code string) (*service.Session, error) {
	sess, err := m.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	sess.Engine.Reset()
	sess.LastActivityAt = m.clock.Now()
	sess.Unlock()

	if err := m.Save(sess.Code); err != nil {
		log.WithError(err).WithField("session", sess.Code).Warn("failed to persist reset session")
	}
	log.WithField("session", sess.Code).Info("session reset")

	return sess, nil
}

// Reconfigure validates and applies a partial configuration update. A grid
// size change regenerates the grid.
func (m *Manager) Reconfigure(code string, patch engine.ConfigPatch) (*engine.GameConfig, bool, error) {
	sess, err := m.Get(code)
	if err != nil {
		return nil, false, err
	}

	sess.Lock()
	config, regenerated, err := sess.Engine.Reconfigure(patch)
	if err == nil {
		sess.LastActivityAt = m.clock.Now()
	}
	sess.Unlock()

	if err != nil {
		return nil, false, err
	}

	if err := m.Save(sess.Code); err != nil {
		log.WithError(err).WithField("session", sess.Code).Warn("failed to persist reconfigured session")
	}
	log.WithFields(logrus.Fields{"session": sess.Code, "regenerated": regenerated}).Info("session reconfigured")

	return config, regenerated, nil
}

// Save snapshots a session and writes it to persistence
func (m *Manager) Save(code string) error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	key := service.CanonicalCode(code)

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	sess, exists := m.sessions[key]
	m.mu.RUnlock()
	if !exists {
		return ErrSessionNotFound
	}

	sess.Lock()
	data := snapshot(sess)
	sess.Unlock()

	return m.persistence.Save(data)
}

// SaveAsync writes a snapshot in the background. Failures are logged.
func (m *Manager) SaveAsync(code string) {
	if m.persistence == nil {
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if err := m.Save(code); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.WithError(err).WithField("session", code).Warn("failed to persist session")
		}
	}()
}

// Flush waits for background saves started so far
func (m *Manager) Flush() {
	m.pending.Wait()
}

// LoadPersistedSessions loads all persisted sessions into memory
func (m *Manager) LoadPersistedSessions() error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	codes, err := m.persistence.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	loadedCount := 0
	for _, code := range codes {
		key := service.CanonicalCode(code)

		m.mu.RLock()
		_, exists := m.sessions[key]
		m.mu.RUnlock()
		if exists {
			continue
		}

		data, err := m.persistence.Load(code)
		if err != nil {
			log.WithError(err).WithField("session", code).Warn("failed to load persisted session")
			continue
		}
		sess, err := restore(data)
		if err != nil {
			log.WithError(err).WithField("session", code).Warn("skipping invalid persisted session")
			continue
		}

		m.mu.Lock()
		if _, exists := m.sessions[sess.Code]; !exists {
			m.sessions[sess.Code] = sess
			loadedCount++
		}
		m.mu.Unlock()
	}

	if loadedCount > 0 {
		log.WithField("count", loadedCount).Info("loaded persisted sessions from storage")
	}

	return nil
}

// SaveAllSessions saves all in-memory sessions to persistence
func (m *Manager) SaveAllSessions() error {
	if m.persistence == nil {
		return nil // No persistence configured
	}

	m.Flush()

	errorCount := 0
	for _, code := range m.Codes() {
		if err := m.Save(code); err != nil {
			log.WithError(err).WithField("session", code).Warn("failed to save session")
			errorCount++
		}
	}

	if errorCount > 0 {
		return fmt.Errorf("failed to save %d sessions", errorCount)
	}

	return nil
}
