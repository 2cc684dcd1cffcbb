package fetch

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/globegl/globeview/cache"
	"github.com/globegl/globeview/store"
	"github.com/globegl/globeview/tile"
)

type sinkEvent struct {
	key tile.Key
	err error
}

type recordingSink struct {
	mutex  sync.Mutex
	order  []sinkEvent
	events chan sinkEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan sinkEvent, 128)}
}

func (s *recordingSink) Published(r *tile.Raster) {
	e := sinkEvent{key: r.Key}
	s.mutex.Lock()
	s.order = append(s.order, e)
	s.mutex.Unlock()
	s.events <- e
}

func (s *recordingSink) Failed(k tile.Key, err error) {
	e := sinkEvent{key: k, err: err}
	s.mutex.Lock()
	s.order = append(s.order, e)
	s.mutex.Unlock()
	s.events <- e
}

func (s *recordingSink) wait(t *testing.T, n int) []sinkEvent {
	t.Helper()
	var got []sinkEvent
	for len(got) < n {
		select {
		case e := <-s.events:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for %d sink events, got %d", n, len(got))
		}
	}
	return got
}

type countingHandler struct {
	mutex sync.Mutex
	paths []string
	serve func(w http.ResponseWriter, r *http.Request)
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	h.paths = append(h.paths, r.URL.Path)
	h.mutex.Unlock()
	h.serve(w, r)
}

func (h *countingHandler) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.paths)
}

func testProvider(url string) Provider {
	return Provider{
		Name:        "test",
		URLTemplate: url + "/{z}/{x}/{y}.png",
		MinZoom:     0,
		MaxZoom:     tile.MaxZoom,
		Format:      "png",
	}
}

func newTestPool(t *testing.T, url string, workers int, withStore bool) (*Pool, *recordingSink, *store.Store) {
	t.Helper()
	var st *store.Store
	if withStore {
		var err error
		st, err = store.New(t.TempDir(), "png", time.Hour, 0, nil)
		if err != nil {
			t.Fatal(err)
		}
	}
	sink := newRecordingSink()
	p := NewPool(Options{
		Provider:    testProvider(url),
		Store:       st,
		Cache:       cache.New(64 << 20),
		Sink:        sink,
		Workers:     workers,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	})
	t.Cleanup(p.Stop)
	return p, sink, st
}

func TestFetchDecodePersist(t *testing.T) {
	payload := encodePNG(t, tile.Size, tile.Size)
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	p, sink, st := newTestPool(t, server.URL, 2, true)
	p.Start()
	k := tile.Key{X: 3, Y: 5, Z: 4}
	if err := p.Submit(k, 0); err != nil {
		t.Fatal(err)
	}
	events := sink.wait(t, 1)
	if events[0].err != nil {
		t.Fatalf("Expected success, got %v", events[0].err)
	}
	if events[0].key != k {
		t.Errorf("Published wrong key %v", events[0].key)
	}
	if !st.Contains(k) {
		t.Error("Fetched tile should be persisted to the disk store")
	}
	if handler.count() != 1 {
		t.Errorf("Expected one upstream request, got %d", handler.count())
	}
}

func TestDiskHitSkipsHTTP(t *testing.T) {
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "should not be called", http.StatusInternalServerError)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	p, sink, st := newTestPool(t, server.URL, 1, true)
	k := tile.Key{X: 1, Y: 1, Z: 2}
	if err := st.Put(k, encodePNG(t, tile.Size, tile.Size)); err != nil {
		t.Fatal(err)
	}
	p.Start()
	if err := p.Submit(k, 0); err != nil {
		t.Fatal(err)
	}
	events := sink.wait(t, 1)
	if events[0].err != nil {
		t.Fatalf("Expected disk hit to succeed, got %v", events[0].err)
	}
	if handler.count() != 0 {
		t.Errorf("Expected no upstream requests, got %d", handler.count())
	}
}

func TestNotFoundIsPermanent(t *testing.T) {
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	p, sink, _ := newTestPool(t, server.URL, 1, false)
	p.Start()
	k := tile.Key{X: 0, Y: 0, Z: 1}
	if err := p.Submit(k, 0); err != nil {
		t.Fatal(err)
	}
	events := sink.wait(t, 1)
	var fe *Error
	if !errors.As(events[0].err, &fe) || fe.Kind != KindNotFound {
		t.Fatalf("Expected not-found failure, got %v", events[0].err)
	}
	if handler.count() != 1 {
		t.Errorf("404 must not be retried, got %d attempts", handler.count())
	}
	// Permanently failed tiles are suppressed on resubmission.
	if err := p.Submit(k, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if handler.count() != 1 {
		t.Errorf("Resubmission of a permanently failed tile must be suppressed, got %d attempts", handler.count())
	}
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	payload := encodePNG(t, tile.Size, tile.Size)
	var failures int
	var mutex sync.Mutex
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		failures++
		n := failures
		mutex.Unlock()
		if n <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write(payload)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	p, sink, _ := newTestPool(t, server.URL, 1, false)
	p.Start()
	if err := p.Submit(tile.Key{X: 2, Y: 2, Z: 3}, 0); err != nil {
		t.Fatal(err)
	}
	events := sink.wait(t, 1)
	if events[0].err != nil {
		t.Fatalf("Expected success after retries, got %v", events[0].err)
	}
	if handler.count() != 3 {
		t.Errorf("Expected 3 attempts, got %d", handler.count())
	}
}

func TestPriorityOrder(t *testing.T) {
	payload := encodePNG(t, tile.Size, tile.Size)
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	// Single worker, requests queued before Start so pop order is
	// fully determined by the heap.
	p, sink, _ := newTestPool(t, server.URL, 1, false)
	keys := []tile.Key{
		{X: 0, Y: 0, Z: 5},
		{X: 1, Y: 0, Z: 5},
		{X: 2, Y: 0, Z: 5},
	}
	p.Submit(keys[0], 10)
	p.Submit(keys[1], 1)
	p.Submit(keys[2], 10)
	p.Start()
	events := sink.wait(t, 3)
	if events[0].key != keys[1] {
		t.Errorf("Lowest priority value should run first, got %v", events[0].key)
	}
	// Equal priorities keep FIFO order.
	if events[1].key != keys[0] || events[2].key != keys[2] {
		t.Errorf("FIFO tie-break broken: %v", events)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	p, _, _ := newTestPool(t, "http://tiles.invalid", 1, false)
	k := tile.Key{X: 4, Y: 4, Z: 5}
	for i := 0; i < 5; i++ {
		if err := p.Submit(k, 3); err != nil {
			t.Fatal(err)
		}
	}
	stats := p.Stats()
	if stats.Submitted != 1 || stats.Pending != 1 {
		t.Errorf("Duplicate submissions must collapse: %+v", stats)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	p, _, _ := newTestPool(t, "http://tiles.invalid", 1, false)
	var fe *Error
	if err := p.Submit(tile.Key{X: 9, Y: 0, Z: 2}, 0); !errors.As(err, &fe) || fe.Kind != KindInvalidInput {
		t.Errorf("Expected invalid-input error, got %v", err)
	}
	if err := p.Submit(tile.Key{X: 0, Y: 0, Z: 25}, 0); !errors.As(err, &fe) || fe.Kind != KindInvalidInput {
		t.Errorf("Expected invalid-input error for bad zoom, got %v", err)
	}
}

func TestCancelPending(t *testing.T) {
	p, _, _ := newTestPool(t, "http://tiles.invalid", 1, false)
	k := tile.Key{X: 1, Y: 1, Z: 3}
	p.Submit(k, 0)
	if !p.Cancel(k) {
		t.Error("Expected Cancel to remove the pending request")
	}
	if p.Busy(k) {
		t.Error("Cancelled request should not be busy")
	}
	if p.Cancel(k) {
		t.Error("Second Cancel should be a no-op")
	}
}

func TestQueueBoundDropsExcess(t *testing.T) {
	sink := newRecordingSink()
	p := NewPool(Options{
		Provider:   testProvider("http://tiles.invalid"),
		Cache:      cache.New(64 << 20),
		Sink:       sink,
		Workers:    1,
		QueueBound: 2,
	})
	t.Cleanup(p.Stop)
	for x := int32(0); x < 5; x++ {
		p.Submit(tile.Key{X: x, Y: 0, Z: 5}, 0)
	}
	stats := p.Stats()
	if stats.Pending != 2 {
		t.Errorf("Queue bound not enforced: %d pending", stats.Pending)
	}
	if stats.Dropped != 3 {
		t.Errorf("Expected 3 dropped submissions, got %d", stats.Dropped)
	}
}

func TestBadPayloadRerequestedOnce(t *testing.T) {
	handler := &countingHandler{serve: func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}}
	server := httptest.NewServer(handler)
	defer server.Close()

	p, sink, _ := newTestPool(t, server.URL, 1, false)
	p.Start()
	k := tile.Key{X: 0, Y: 0, Z: 2}
	if err := p.Submit(k, 0); err != nil {
		t.Fatal(err)
	}
	events := sink.wait(t, 1)
	var fe *Error
	if !errors.As(events[0].err, &fe) || fe.Kind != KindDecode {
		t.Fatalf("Expected decode failure, got %v", events[0].err)
	}
	if handler.count() != 2 {
		t.Errorf("Bad payload should be re-requested exactly once, got %d attempts", handler.count())
	}
}
