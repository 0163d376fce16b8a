package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

var log = logrus.WithField("pkg", "auth")

const DefaultTokenTTL = 24 * time.Hour

// Role is what a token is allowed to do
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RolePlayer  Role = "player"
)

// Identity is what a token resolves to. Code is set for managers only.
// HolderID is the lock holder the bearer plays as.
type Identity struct {
	Role      Role      `json:"role"`
	Code      string    `json:"session,omitempty"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SecretChecker verifies a per-session manager secret
type SecretChecker interface {
	CheckManagerSecret(ctx context.Context, code, secret string) error
}

// Authenticator issues and validates bearer tokens for the three roles.
type Authenticator struct {
	mu         sync.RWMutex
	adminHash  []byte
	playerHash []byte
	tokens     map[string]Identity

	managers SecretChecker
	clock    clockwork.Clock
	cost     int
	tokenTTL time.Duration
}

// Option customizes an Authenticator
type Option func(*Authenticator)

// WithClock sets the clock used for token expiry
func WithClock(c clockwork.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithBcryptCost sets the password hashing cost
func WithBcryptCost(cost int) Option {
	return func(a *Authenticator) { a.cost = cost }
}

// WithTokenTTL sets how long issued tokens stay valid
func WithTokenTTL(d time.Duration) Option {
	return func(a *Authenticator) { a.tokenTTL = d }
}

// NewAuthenticator hashes the initial passwords and returns an Authenticator
func NewAuthenticator(adminPassword, playerPassword string, managers SecretChecker, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		tokens:   make(map[string]Identity),
		managers: managers,
		clock:    clockwork.NewRealClock(),
		cost:     bcrypt.DefaultCost,
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.ChangeAdminPassword(adminPassword); err != nil {
		return nil, fmt.Errorf("admin password: %w", err)
	}
	if err := a.ChangePlayerPassword(playerPassword); err != nil {
		return nil, fmt.Errorf("player password: %w", err)
	}
	return a, nil
}

func (a *Authenticator) hash(password string) ([]byte, error) {
	if strings.TrimSpace(password) == "" {
		return nil, errors.New("password cannot be empty")
	}
	return bcrypt.GenerateFromPassword([]byte(password), a.cost)
}

// ChangeAdminPassword replaces the admin password. Issued tokens stay valid.
func (a *Authenticator) ChangeAdminPassword(password string) error {
	hash, err := a.hash(password)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.adminHash = hash
	a.mu.Unlock()
	return nil
}

// ChangePlayerPassword replaces the shared player password
func (a *Authenticator) ChangePlayerPassword(password string) error {
	hash, err := a.hash(password)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.playerHash = hash
	a.mu.Unlock()
	return nil
}

func (a *Authenticator) issue(role Role, code string) (string, Identity) {
	id := Identity{
		Role:      role,
		Code:      code,
		HolderID:  uuid.NewString(),
		ExpiresAt: a.clock.Now().Add(a.tokenTTL),
	}
	token := uuid.NewString()

	a.mu.Lock()
	a.tokens[token] = id
	a.mu.Unlock()

	log.WithFields(logrus.Fields{"role": role, "session": code}).Info("login")
	return token, id
}

// LoginAdmin exchanges the admin password for a token
func (a *Authenticator) LoginAdmin(password string) (string, Identity, error) {
	a.mu.RLock()
	hash := a.adminHash
	a.mu.RUnlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", Identity{}, ErrUnauthorized
	}
	token, id := a.issue(RoleAdmin, "")
	return token, id, nil
}

// LoginPlayer exchanges the shared player password for a token with its own holder id
func (a *Authenticator) LoginPlayer(password string) (string, Identity, error) {
	a.mu.RLock()
	hash := a.playerHash
	a.mu.RUnlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", Identity{}, ErrUnauthorized
	}
	token, id := a.issue(RolePlayer, "")
	return token, id, nil
}

// LoginManager exchanges a session's manager secret for a token scoped to that session.
// Unknown sessions and wrong secrets are indistinguishable.
func (a *Authenticator) LoginManager(ctx context.Context, code, secret string) (string, Identity, error) {
	if a.managers == nil || code == "" {
		return "", Identity{}, ErrUnauthorized
	}
	if err := a.managers.CheckManagerSecret(ctx, code, secret); err != nil {
		log.WithError(err).WithField("session", code).Debug("manager login rejected")
		return "", Identity{}, ErrUnauthorized
	}
	token, id := a.issue(RoleManager, strings.ToLower(strings.TrimSpace(code)))
	return token, id, nil
}

// Validate resolves a token
func (a *Authenticator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthorized
	}

	a.mu.RLock()
	id, ok := a.tokens[token]
	a.mu.RUnlock()

	if !ok {
		return Identity{}, ErrUnauthorized
	}
	if !a.clock.Now().Before(id.ExpiresAt) {
		a.mu.Lock()
		delete(a.tokens, token)
		a.mu.Unlock()
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

// Require validates a token and checks its role is one of roles
func (a *Authenticator) Require(token string, roles ...Role) (Identity, error) {
	id, err := a.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	for _, role := range roles {
		if id.Role == role {
			return id, nil
		}
	}
	return Identity{}, ErrForbidden
}

// Logout revokes a token
func (a *Authenticator) Logout(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

// RevokeSession revokes every manager token scoped to code
func (a *Authenticator) RevokeSession(code string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	revoked := 0
	for token, id := range a.tokens {
		if id.Role == RoleManager && id.Code == code {
			delete(a.tokens, token)
			revoked++
		}
	}
	return revoked
}

// PurgeExpired drops expired tokens and returns how many were removed
func (a *Authenticator) PurgeExpired() int {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	purged := 0
	for token, id := range a.tokens {
		if !now.Before(id.ExpiresAt) {
			delete(a.tokens, token)
			purged++
		}
	}
	return purged
}
