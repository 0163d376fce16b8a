package backup

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "backup")

// Service archives the sessions directory into a Store and restores it back.
type Service struct {
	dir   string
	store Store
	clock clockwork.Clock
	// flush makes the directory current before archiving
	flush func() error

	mu sync.Mutex
}

// Option customizes a Service
type Option func(*Service)

// WithClock sets the clock used to name archives
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithFlush runs fn before every backup, typically the registry's SaveAllSessions
func WithFlush(fn func() error) Option {
	return func(s *Service) { s.flush = fn }
}

// NewService creates a backup service for the snapshots in dir
func NewService(dir string, store Store, opts ...Option) *Service {
	s := &Service{
		dir:   dir,
		store: store,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backup uploads an archive of the sessions directory and returns its key
func (s *Service) Backup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flush != nil {
		if err := s.flush(); err != nil {
			log.WithError(err).Warn("some sessions could not be flushed before backup")
		}
	}

	var buf bytes.Buffer
	count, err := Archive(s.dir, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to archive sessions: %w", err)
	}

	key := NewKey(s.clock.Now())
	if err := s.store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", err
	}

	log.WithFields(logrus.Fields{"key": key, "files": count, "bytes": buf.Len()}).Info("backup uploaded")
	return key, nil
}

// Restore extracts the newest archive into the sessions directory and
// returns its key. Existing files with the same names are replaced.
func (s *Service) Restore(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.store.Latest(ctx)
	if err != nil {
		return "", err
	}

	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	count, err := Extract(rc, s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to restore %s: %w", key, err)
	}

	log.WithFields(logrus.Fields{"key": key, "files": count}).Info("backup restored")
	return key, nil
}
