// Package artifacts provides the durable flat-file store for release ZIP
// artifacts. Artifacts survive metadata cache expiry and serve as the
// fallback tier when the origin is unreachable.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	releaseproxy "github.com/wolfeidau/wp-release-proxy"
	"github.com/wolfeidau/wp-release-proxy/telemetry"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifacts: not found")

// ErrInvalidKey is returned when a key contains path separators or traversal.
var ErrInvalidKey = errors.New("artifacts: invalid key")

// Key builds the canonical artifact key for a package version.
func Key(version, pkg string) string {
	return version + "-" + pkg + ".zip"
}

// Store is a flat-directory artifact store. Writes are atomic using a temp
// file and rename pattern.
type Store struct {
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an artifact store rooted at the given path.
// The directory will be created if it does not exist.
func New(root string, opts ...Option) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	s := &Store{
		root:   absRoot,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "artifacts")
	return s, nil
}

// Root returns the root directory path.
func (s *Store) Root() string {
	return s.root
}

// PutResult describes a completed artifact write.
type PutResult struct {
	Digest releaseproxy.Hash
	Size   int64
}

// Put stores an artifact under the given key using an atomic write. The
// content is hashed as it streams to disk.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (PutResult, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return PutResult{}, err
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return PutResult{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hr := releaseproxy.NewHashingReader(r)
	size, err := io.Copy(tmp, hr)
	if err != nil {
		return PutResult{}, fmt.Errorf("writing artifact: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return PutResult{}, fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return PutResult{}, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return PutResult{}, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true

	telemetry.RecordArtifactWrite(ctx, size, true)

	return PutResult{Digest: hr.Sum(), Size: size}, nil
}

// Get opens the artifact at the given key for reading.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("opening artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}

	return f, info.Size(), nil
}

// Exists reports whether an artifact exists at the given key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.keyToPath(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking artifact: %w", err)
}

// Delete removes the artifact at the given key.
// Returns nil if the artifact does not exist (idempotent).
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.keyToPath(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}

// ListForPackage returns all artifact keys for a package, sorted in
// descending lexical order so the newest version heuristic puts the highest
// key first. Matching is by the "-{pkg}.zip" suffix, so a package whose name
// ends with another package's name (e.g. "super-hello" and "hello") lists and
// prunes together with it.
func (s *Store) ListForPackage(ctx context.Context, pkg string) ([]string, error) {
	suffix := "-" + pkg + ".zip"

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading artifact directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if strings.HasSuffix(name, suffix) {
			keys = append(keys, name)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// Prune removes artifacts for a package beyond the retention count, keeping
// the newest by descending lexical order. Returns the deleted keys.
func (s *Store) Prune(ctx context.Context, pkg string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}

	keys, err := s.ListForPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if len(keys) <= keep {
		return nil, nil
	}

	var deleted []string
	var bytesFreed int64
	for _, key := range keys[keep:] {
		path, err := s.keyToPath(key)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			bytesFreed += info.Size()
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to prune artifact", "key", key, "error", err)
			continue
		}
		deleted = append(deleted, key)
	}

	if len(deleted) > 0 {
		s.logger.Info("pruned artifacts",
			"package", pkg,
			"deleted", len(deleted),
			"kept", keep,
			"bytesFreed", bytesFreed)
		telemetry.RecordArtifactPrune(ctx, len(deleted), bytesFreed)
	}

	return deleted, nil
}

// Stats describes the artifact store contents.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Stats returns artifact counts and total size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return Stats{}, fmt.Errorf("reading artifact directory: %w", err)
	}

	var stats Stats
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Count++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

// keyToPath validates the key and maps it to a path inside the root.
// Keys are flat file names; separators and traversal are rejected.
func (s *Store) keyToPath(key string) (string, error) {
	if key == "" ||
		strings.ContainsAny(key, "/\\") ||
		strings.Contains(key, "..") ||
		strings.HasPrefix(key, ".tmp-") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, key), nil
}
