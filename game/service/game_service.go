package service

import (
	"context"
	"time"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/lock"
)

// GameService defines all game-related operations
type GameService interface {
	// Session management
	CreateSession(ctx context.Context, code string, req CreateRequest) (*SessionInfo, error)
	GetSession(ctx context.Context, code string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	ResetSession(ctx context.Context, code string) (*SessionInfo, error)
	DeleteSession(ctx context.Context, code string) error
	Reconfigure(ctx context.Context, code string, patch engine.ConfigPatch) (*engine.GameConfig, error)

	// Locking
	AcquireLock(ctx context.Context, code, holderID string) (*LockInfo, error)
	Heartbeat(ctx context.Context, code, holderID string) (*LockInfo, error)
	ReleaseLock(ctx context.Context, code, holderID string) error

	// Play
	Reveal(ctx context.Context, code string, index int, holderID string) (*RevealOutcome, error)
	GetState(ctx context.Context, code string) (*PublicState, error)
	GetProgress(ctx context.Context, code string) (*engine.Progress, error)

	// Configuration
	GetConfig(ctx context.Context, code string) (*engine.GameConfig, error)
	CheckManagerSecret(ctx context.Context, code, secret string) error
	ListConfigs(ctx context.Context) ([]*ConfigInfo, error)
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(code, configName string, config *engine.GameConfig) (*Session, error)
	Get(code string) (*Session, error)
	List() []*Session
	Delete(code string) error
	Reset(code string) (*Session, error)
	Reconfigure(code string, patch engine.ConfigPatch) (*engine.GameConfig, bool, error)
	// SaveAsync snapshots the session and writes it without blocking the caller.
	SaveAsync(code string)
}

// ConfigManager handles preset configuration loading
type ConfigManager interface {
	LoadConfig(name string) (*engine.GameConfig, error)
	ListConfigs() ([]*ConfigInfo, error)
	GetDefault() *engine.GameConfig
}

// LockManager arbitrates session ownership. *lock.Manager implements it.
type LockManager interface {
	Acquire(code, holderID string) (lock.State, error)
	Heartbeat(code, holderID string) (lock.State, error)
	Release(code, holderID string) error
	Status(code string) lock.State
	Forget(code string)
	Mode() lock.Mode
	TTL() time.Duration
}
