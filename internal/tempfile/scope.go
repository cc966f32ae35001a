// Package tempfile tracks per-request temporary files and removes them
// exactly once.
package tempfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Prefix marks every file created through a Scope.
const Prefix = "cutout-"

var ErrScopeClosed = errors.New("temp scope is closed")

// Scope owns the temp files of one request. Close is safe to call more than
// once and from a defer on every exit path.
type Scope struct {
	dir string

	mu     sync.Mutex
	paths  []string
	closed bool
}

func NewScope(dir string) *Scope {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return &Scope{dir: dir}
}

// Path reserves a unique path ending in the sanitized name. The file is not
// created but will be removed on Close if something writes it.
func (s *Scope) Path(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrScopeClosed
	}

	p := filepath.Join(s.dir, Prefix+ksuid.New().String()+"-"+Sanitize(name))
	s.paths = append(s.paths, p)
	return p, nil
}

// Write stores data in a new file owned by the scope and returns its path.
func (s *Scope) Write(name string, data []byte) (string, error) {
	p, err := s.Path(name)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return p, nil
}

// Len reports how many paths the scope currently tracks.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// Close removes every tracked path and returns the first unexpected error.
func (s *Scope) Close() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CleanOrphaned removes scope files in dir older than maxAge, left behind by
// processes that died before closing their scopes.
func CleanOrphaned(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Sanitize keeps letters, digits, dot, dash and underscore.
func Sanitize(in string) string {
	in = filepath.Base(strings.TrimSpace(in))
	if in == "" || in == "." || in == string(filepath.Separator) {
		return "file"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
