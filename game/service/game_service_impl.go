package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/events"
	"github.com/wricardo/scratchcard/game/lock"
)

var log = logrus.WithField("pkg", "service")

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions  SessionManager
	configs   ConfigManager
	locks     LockManager
	publisher events.Publisher
	clock     clockwork.Clock
}

// Option customizes a GameService
type Option func(*gameServiceImpl)

// WithPublisher sets where session events are published
func WithPublisher(p events.Publisher) Option {
	return func(s *gameServiceImpl) { s.publisher = p }
}

// WithClock sets the clock used for activity timestamps
func WithClock(c clockwork.Clock) Option {
	return func(s *gameServiceImpl) { s.clock = c }
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, configs ConfigManager, locks LockManager, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions:  sessions,
		configs:   configs,
		locks:     locks,
		publisher: events.Discard{},
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a new game session
func (s *gameServiceImpl) CreateSession(ctx context.Context, code string, req CreateRequest) (*SessionInfo, error) {
	if CanonicalCode(code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidCode)
	}

	config := req.Config
	configName := req.Preset
	if config == nil {
		var err error
		if configName != "" {
			config, err = s.configs.LoadConfig(configName)
			if err != nil {
				return nil, s.presetError(configName, err)
			}
		} else {
			config = s.configs.GetDefault()
			configName = config.Name
		}
	} else if configName == "" {
		configName = "custom"
	}

	sess, err := s.sessions.Create(code, configName, config)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"session": sess.Code, "config": configName}).Info("session created")
	return s.info(sess), nil
}

func (s *gameServiceImpl) presetError(name string, err error) error {
	if !strings.Contains(err.Error(), "configuration not found") {
		return fmt.Errorf("failed to load config %s: %w", name, err)
	}
	available, listErr := s.configs.ListConfigs()
	if listErr == nil && len(available) > 0 {
		ids := make([]string, 0, len(available))
		for _, cfg := range available {
			ids = append(ids, cfg.ConfigID)
		}
		return fmt.Errorf("%w: config '%s' not found. Available configs: %v", engine.ErrInvalidConfig, name, ids)
	}
	return fmt.Errorf("%w: config '%s' not found", engine.ErrInvalidConfig, name)
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, code string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}
	return s.info(sess), nil
}

// ListSessions returns all sessions ordered by code
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.info(sess))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// ResetSession deals a new grid, keeping the configuration
func (s *gameServiceImpl) ResetSession(ctx context.Context, code string) (*SessionInfo, error) {
	sess, err := s.sessions.Reset(code)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Event{Type: events.SessionReset, Code: sess.Code})
	return s.info(sess), nil
}

// DeleteSession removes a session and any lock on it
func (s *gameServiceImpl) DeleteSession(ctx context.Context, code string) error {
	if err := s.sessions.Delete(code); err != nil {
		return err
	}

	key := CanonicalCode(code)
	s.locks.Forget(key)
	s.publisher.Publish(events.Event{Type: events.SessionDeleted, Code: key})
	log.WithField("session", key).Info("session deleted")
	return nil
}

// Reconfigure applies a partial configuration update
func (s *gameServiceImpl) Reconfigure(ctx context.Context, code string, patch engine.ConfigPatch) (*engine.GameConfig, error) {
	config, regenerated, err := s.sessions.Reconfigure(code, patch)
	if err != nil {
		return nil, err
	}

	key := CanonicalCode(code)
	msg := "configuration updated"
	if regenerated {
		msg = "configuration updated, grid regenerated"
	}
	s.publisher.Publish(events.Event{Type: events.SessionReconfigured, Code: key, Message: msg})
	return config, nil
}

// AcquireLock takes or refreshes the session lock for holderID
func (s *gameServiceImpl) AcquireLock(ctx context.Context, code, holderID string) (*LockInfo, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	st, err := s.locks.Acquire(sess.Code, holderID)
	if err == nil {
		sess.LastActivityAt = s.clock.Now()
	}
	sess.Unlock()

	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Event{Type: events.LockAcquired, Code: sess.Code})
	return s.lockInfo(sess.Code, st), nil
}

// Heartbeat extends a lock held by holderID
func (s *gameServiceImpl) Heartbeat(ctx context.Context, code, holderID string) (*LockInfo, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	st, err := s.locks.Heartbeat(sess.Code, holderID)
	sess.Unlock()

	if err != nil {
		return nil, err
	}
	return s.lockInfo(sess.Code, st), nil
}

// ReleaseLock unlocks a session held by holderID
func (s *gameServiceImpl) ReleaseLock(ctx context.Context, code, holderID string) error {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return err
	}

	sess.Lock()
	err = s.locks.Release(sess.Code, holderID)
	sess.Unlock()

	if err != nil {
		return err
	}

	s.publisher.Publish(events.Event{Type: events.LockReleased, Code: sess.Code})
	return nil
}

// Reveal scratches one cell. holderID must hold the lock or be able to take it.
func (s *gameServiceImpl) Reveal(ctx context.Context, code string, index int, holderID string) (*RevealOutcome, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	if size := sess.Engine.GetState().GridSize; index < 0 || index >= size {
		sess.Unlock()
		return nil, fmt.Errorf("%w: %d not in [0, %d)", engine.ErrInvalidIndex, index, size)
	}
	if _, err := s.locks.Acquire(sess.Code, holderID); err != nil {
		sess.Unlock()
		return nil, err
	}

	result, revealErr := sess.Engine.Reveal(index)
	if revealErr == nil && !result.AlreadyRevealed {
		sess.LastActivityAt = s.clock.Now()
	}
	progress := sess.Engine.Progress()

	released := false
	if s.locks.Mode() == lock.ModeAutoRelease {
		if err := s.locks.Release(sess.Code, holderID); err == nil {
			released = true
		}
	}
	sess.Unlock()

	if revealErr != nil {
		return nil, revealErr
	}

	if !result.AlreadyRevealed {
		s.sessions.SaveAsync(sess.Code)
		s.publisher.Publish(events.Event{Type: events.Revealed, Code: sess.Code, Index: result.Index, Value: result.Value})
		if result.Winning {
			s.publisher.Publish(events.Event{Type: events.WinningRevealed, Code: sess.Code, Index: result.Index, Value: result.Value})
			log.WithFields(logrus.Fields{"session": sess.Code, "value": result.Value, "prior_reveals": result.RevealedCount}).Info("winning value revealed")
		}
		if result.Deflected {
			log.WithFields(logrus.Fields{"session": sess.Code, "index": result.Index}).Debug("winning value relocated")
		}
	}
	if released {
		s.publisher.Publish(events.Event{Type: events.LockReleased, Code: sess.Code})
	}

	return &RevealOutcome{
		Code:            sess.Code,
		Index:           result.Index,
		Value:           result.Value,
		Winning:         result.Winning,
		AlreadyRevealed: result.AlreadyRevealed,
		RevealedCount:   progress.ScratchedCount,
		Progress:        progress,
		LockReleased:    released,
	}, nil
}

// GetState returns the player view of a session
func (s *gameServiceImpl) GetState(ctx context.Context, code string) (*PublicState, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	state := sess.Engine.GetState()
	config := sess.Engine.GetConfig()
	public := &PublicState{
		Code:          sess.Code,
		GridSize:      state.GridSize,
		WinningValues: config.Values(),
		Scratched:     make([]*int, state.GridSize),
		Revealed:      append([]bool(nil), state.Revealed...),
		RevealedCount: state.RevealedCount(),
	}
	for i, revealed := range state.Revealed {
		if revealed {
			v := state.Scratched[i]
			public.Scratched[i] = &v
		}
	}
	sess.Unlock()

	if st := s.locks.Status(sess.Code); st.HolderID != "" {
		public.Locked = true
		expires := st.ExpiresAt
		public.LockExpiresAt = &expires
	}
	return public, nil
}

// GetProgress reports how far a session has been played
func (s *gameServiceImpl) GetProgress(ctx context.Context, code string) (*engine.Progress, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	progress := sess.Engine.Progress()
	return &progress, nil
}

// GetConfig returns the full configuration of a session, thresholds included
func (s *gameServiceImpl) GetConfig(ctx context.Context, code string) (*engine.GameConfig, error) {
	sess, err := s.sessions.Get(code)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.Engine.GetConfig(), nil
}

// CheckManagerSecret verifies the per-session manager secret. A session
// without a secret cannot be managed.
func (s *gameServiceImpl) CheckManagerSecret(ctx context.Context, code, secret string) error {
	config, err := s.GetConfig(ctx, code)
	if err != nil {
		return err
	}
	if config.ManagerSecret == "" || subtle.ConstantTimeCompare([]byte(config.ManagerSecret), []byte(secret)) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// ListConfigs returns the available preset configurations
func (s *gameServiceImpl) ListConfigs(ctx context.Context) ([]*ConfigInfo, error) {
	return s.configs.ListConfigs()
}

func (s *gameServiceImpl) info(sess *Session) *SessionInfo {
	sess.Lock()
	info := &SessionInfo{
		Code:           sess.Code,
		ConfigName:     sess.ConfigName,
		GridSize:       sess.Engine.GetState().GridSize,
		ScratchedCount: sess.Engine.GetState().RevealedCount(),
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
	}
	sess.Unlock()

	if st := s.locks.Status(sess.Code); st.HolderID != "" {
		info.Locked = true
		expires := st.ExpiresAt
		info.LockExpiresAt = &expires
	}
	return info
}

func (s *gameServiceImpl) lockInfo(code string, st lock.State) *LockInfo {
	return &LockInfo{
		Code:       code,
		HolderID:   st.HolderID,
		ExpiresAt:  st.ExpiresAt,
		TTLSeconds: int(s.locks.TTL().Seconds()),
		Mode:       string(s.locks.Mode()),
	}
}
