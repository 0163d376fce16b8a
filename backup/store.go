package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNoBackup = errors.New("no backup found")

// KeyPrefix is the directory under which archives are stored
const KeyPrefix = "backups/"

// Store keeps backup archives. Keys sort chronologically.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Latest(ctx context.Context) (string, error)
}

// NewKey returns the archive key for a backup taken at t
func NewKey(t time.Time) string {
	return fmt.Sprintf("%s%s-%s.tar.gz", KeyPrefix, t.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

func validKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && strings.HasSuffix(key, ".tar.gz") &&
		!strings.Contains(key, "..") && path.Base(key) == strings.TrimPrefix(key, KeyPrefix)
}

// DirStore keeps archives on the local filesystem
type DirStore struct {
	dir string
}

// NewDirStore creates a store rooted at dir
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(KeyPrefix)), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Put writes an archive
func (s *DirStore) Put(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("invalid backup key %q", key)
	}
	if err := os.WriteFile(s.path(key), data, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// Get opens an archive
func (s *DirStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("invalid backup key %q", key)
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	return f, nil
}

// Latest returns the newest archive key
func (s *DirStore) Latest(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(s.path(KeyPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		key := KeyPrefix + entry.Name()
		if !entry.IsDir() && validKey(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return "", ErrNoBackup
	}

	sort.Strings(keys)
	return keys[len(keys)-1], nil
}
