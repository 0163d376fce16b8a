package service

import (
	"errors"

	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/lock"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSecret        = errors.New("invalid manager secret")
	ErrInvalidCode          = errors.New("invalid session code")
)

// Kind classifies an error returned by GameService.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindConflict      Kind = "conflict"
	KindInvalidIndex  Kind = "invalid_index"
	KindInvalidConfig Kind = "invalid_config"
	KindUnauthorized  Kind = "unauthorized"
	KindInternal      Kind = "internal"
)

// ErrorKind maps err onto the service error taxonomy.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, lock.ErrConflict):
		return KindConflict
	case errors.Is(err, engine.ErrInvalidIndex):
		return KindInvalidIndex
	case errors.Is(err, engine.ErrInvalidConfig), errors.Is(err, ErrInvalidCode):
		return KindInvalidConfig
	case errors.Is(err, ErrInvalidSecret):
		return KindUnauthorized
	}
	return KindInternal
}
