package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/globegl/globeview/tile"
)

func newTestStore(t *testing.T, ttl time.Duration, maxBytes int64) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "png", ttl, maxBytes, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Hour, 0)
	k := tile.Key{X: 3, Y: 5, Z: 4}
	payload := []byte("not really a png")
	if err := s.Put(k, payload); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(k)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get returned %q, want %q", got, payload)
	}
	if !s.Contains(k) {
		t.Error("Contains should report stored key")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t, time.Hour, 0)
	if _, err := s.Get(tile.Key{X: 1, Y: 1, Z: 1}); !errors.Is(err, ErrNotCached) {
		t.Errorf("Expected ErrNotCached, got %v", err)
	}
}

func TestFileLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "png", 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	k := tile.Key{X: 20969, Y: 50650, Z: 17}
	if err := s.Put(k, []byte("x")); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "17", "20969_50650.png")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Expected tile file at %s: %v", want, err)
	}
}

func TestPutRejectsInvalidKey(t *testing.T) {
	s := newTestStore(t, 0, 0)
	if err := s.Put(tile.Key{X: 4, Y: 0, Z: 2}, []byte("x")); err == nil {
		t.Error("Expected error for out-of-range key")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t, time.Minute, 0)
	k := tile.Key{X: 0, Y: 0, Z: 0}
	if err := s.Put(k, []byte("old")); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(s.path(k), stale, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(k); !errors.Is(err, ErrNotCached) {
		t.Errorf("Expected expired entry to miss, got %v", err)
	}
	if s.Contains(k) {
		t.Error("Contains should report expired entry as absent")
	}
	removed, err := s.PruneExpired()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("PruneExpired removed %d files, want 1", removed)
	}
}

func TestEnforceSizeCapRemovesOldestFirst(t *testing.T) {
	s := newTestStore(t, 0, 25)
	keys := []tile.Key{
		{X: 0, Y: 0, Z: 2},
		{X: 1, Y: 0, Z: 2},
		{X: 2, Y: 0, Z: 2},
	}
	payload := make([]byte, 10)
	base := time.Now().Add(-time.Hour)
	for i, k := range keys {
		if err := s.Put(k, payload); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(s.path(k), mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.EnforceSizeCap(); err != nil {
		t.Fatal(err)
	}
	if s.Contains(keys[0]) {
		t.Error("Oldest entry should have been removed")
	}
	if !s.Contains(keys[1]) || !s.Contains(keys[2]) {
		t.Error("Newer entries should survive the size cap")
	}
	size, err := s.SizeBytes()
	if err != nil {
		t.Fatal(err)
	}
	if size > 25 {
		t.Errorf("Store size %d exceeds cap after enforcement", size)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t, 0, 0)
	k := tile.Key{X: 1, Y: 2, Z: 3}
	if err := s.Put(k, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(k, []byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(k)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("Get returned %q after overwrite", got)
	}
}
