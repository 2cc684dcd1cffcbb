// Package store persists raw encoded tile payloads on disk. The file
// body is exactly the bytes the server returned; freshness comes from
// the file modification time.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/globegl/globeview/metrics"
	"github.com/globegl/globeview/tile"
)

// ErrNotCached is returned by Get when no fresh entry exists for a key.
var ErrNotCached = errors.New("tile not in disk store")

type Store struct {
	root     string
	ext      string
	ttl      time.Duration
	maxBytes int64
	log      *zap.Logger

	mutex sync.Mutex
}

// New opens a disk store rooted at root. Files are written as
// <root>/<z>/<x>_<y>.<ext>. A zero ttl disables expiry, a zero
// maxBytes disables the size cap.
func New(root, ext string, ttl time.Duration, maxBytes int64, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{
		root:     root,
		ext:      strings.TrimPrefix(ext, "."),
		ttl:      ttl,
		maxBytes: maxBytes,
		log:      log,
	}, nil
}

func (s *Store) path(k tile.Key) string {
	name := strconv.Itoa(int(k.X)) + "_" + strconv.Itoa(int(k.Y)) + "." + s.ext
	return filepath.Join(s.root, strconv.Itoa(int(k.Z)), name)
}

// Put atomically writes the payload for a key. Callers serialize
// writes to the same key; concurrent writes to different keys are fine.
func (s *Store) Put(k tile.Key, data []byte) error {
	if !k.Valid() {
		return fmt.Errorf("invalid tile key %v", k)
	}
	dir := filepath.Dir(s.path(k))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating tile dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tile_*")
	if err != nil {
		return fmt.Errorf("creating temp tile file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp tile file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		s.log.Warn("Cannot sync temp tile file", zap.Error(err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp tile file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(k)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp tile file: %w", err)
	}
	return nil
}

// Get returns the stored payload if present and not older than the TTL.
func (s *Store) Get(k tile.Key) ([]byte, error) {
	path := s.path(k)
	info, err := os.Stat(path)
	if err != nil {
		metrics.DiskCacheMisses.Inc()
		if os.IsNotExist(err) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("reading tile file: %w", err)
	}
	if s.ttl > 0 && time.Since(info.ModTime()) > s.ttl {
		metrics.DiskCacheMisses.Inc()
		return nil, ErrNotCached
	}
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.DiskCacheMisses.Inc()
		return nil, fmt.Errorf("reading tile file: %w", err)
	}
	metrics.DiskCacheHits.Inc()
	return data, nil
}

// Contains reports whether a fresh entry exists without reading it.
func (s *Store) Contains(k tile.Key) bool {
	info, err := os.Stat(s.path(k))
	if err != nil {
		return false
	}
	return s.ttl <= 0 || time.Since(info.ModTime()) <= s.ttl
}

// Drop removes the entry for a key if present.
func (s *Store) Drop(k tile.Key) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := os.Remove(s.path(k)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Cannot remove tile file", zap.String("tile", k.String()), zap.Error(err))
	}
}

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *Store) listFiles() ([]fileEntry, error) {
	var entries []fileEntry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasPrefix(d.Name(), ".tile_") {
			// Leftover temp file from an interrupted write.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, fileEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return entries, err
}

// PruneExpired removes entries older than the TTL and returns how many
// files were deleted.
func (s *Store) PruneExpired() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entries, err := s.listFiles()
	if err != nil {
		return 0, fmt.Errorf("scanning store: %w", err)
	}
	removed := 0
	cutoff := time.Now().Add(-s.ttl)
	for _, e := range entries {
		if e.modTime.Before(cutoff) {
			if err := os.Remove(e.path); err != nil {
				s.log.Warn("Cannot remove expired tile", zap.String("path", e.path), zap.Error(err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// EnforceSizeCap removes least-recently-modified entries until the
// total size fits under the configured cap.
func (s *Store) EnforceSizeCap() error {
	if s.maxBytes <= 0 {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entries, err := s.listFiles()
	if err != nil {
		return fmt.Errorf("scanning store: %w", err)
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= s.maxBytes {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})
	for _, e := range entries {
		if total <= s.maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil {
			s.log.Warn("Cannot remove tile during size cap enforcement",
				zap.String("path", e.path), zap.Error(err))
			continue
		}
		total -= e.size
	}
	return nil
}

// SizeBytes returns the total size of all stored payloads.
func (s *Store) SizeBytes() (int64, error) {
	entries, err := s.listFiles()
	if err != nil {
		return 0, fmt.Errorf("scanning store: %w", err)
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}
