// Package fetch turns tile keys into decoded rasters through a
// bounded worker pool: disk store first, then HTTP with retries, then
// decode and publish.
package fetch

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/globegl/globeview/cache"
	"github.com/globegl/globeview/metrics"
	"github.com/globegl/globeview/store"
	"github.com/globegl/globeview/tile"
)

// Sink receives pool results. Published rasters are already inserted
// into the memory cache. Both methods may be called from any worker
// goroutine.
type Sink interface {
	Published(r *tile.Raster)
	Failed(k tile.Key, err error)
}

// Options configures a Pool. Provider, Cache and Sink are required;
// Store is optional.
type Options struct {
	Provider     Provider
	Store        *store.Store
	Cache        *cache.Cache
	Sink         Sink
	Client       *http.Client
	Workers      int
	MaxRetries   int
	BackoffBase  time.Duration
	HTTPTimeout  time.Duration
	QueueBound   int
	FailCooldown time.Duration
	Logger       *zap.Logger
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Dropped   uint64
	Pending   int
	InFlight  int
}

type request struct {
	key      tile.Key
	priority int
	seq      uint64
	index    int
}

// requestHeap orders by priority (lower first), ties FIFO.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *requestHeap) Push(x interface{}) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

type failure struct {
	until     time.Time
	permanent bool
}

// Pool is a bounded-concurrency tile fetcher.
type Pool struct {
	provider     Provider
	store        *store.Store
	cache        *cache.Cache
	sink         Sink
	client       *http.Client
	workers      int
	maxRetries   int
	backoffBase  time.Duration
	queueBound   int
	failCooldown time.Duration
	log          *zap.Logger

	mutex         sync.Mutex
	cond          *sync.Cond
	queue         requestHeap
	pending       map[tile.Key]*request
	inflight      map[tile.Key]struct{}
	failed        map[tile.Key]failure
	decodeRetried map[tile.Key]bool
	seq           uint64
	stopped       bool

	submitted, completed, failedCount, dropped uint64

	wg sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(o Options) *Pool {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 30 * time.Second
	}
	if o.QueueBound <= 0 {
		o.QueueBound = 1024
	}
	if o.FailCooldown <= 0 {
		o.FailCooldown = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.HTTPTimeout}
	}
	p := &Pool{
		provider:      o.Provider,
		store:         o.Store,
		cache:         o.Cache,
		sink:          o.Sink,
		client:        o.Client,
		workers:       o.Workers,
		maxRetries:    o.MaxRetries,
		backoffBase:   o.BackoffBase,
		queueBound:    o.QueueBound,
		failCooldown:  o.FailCooldown,
		log:           o.Logger,
		pending:       make(map[tile.Key]*request),
		inflight:      make(map[tile.Key]struct{}),
		failed:        make(map[tile.Key]failure),
		decodeRetried: make(map[tile.Key]bool),
	}
	p.cond = sync.NewCond(&p.mutex)
	if p.provider.HasSubdomainPlaceholder() && len(p.provider.Subdomains) == 0 {
		p.log.Warn("URL template contains {s} but no subdomains are configured, substituting empty string",
			zap.String("provider", p.provider.Name))
	}
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop drains nothing: pending requests are discarded, in-flight
// requests run to completion.
func (p *Pool) Stop() {
	p.mutex.Lock()
	p.stopped = true
	p.queue = nil
	p.pending = make(map[tile.Key]*request)
	p.mutex.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Submit enqueues a tile request. Lower priority runs earlier. A
// second submission for an already pending or in-flight key is a
// no-op, except that a better priority reorders the pending request.
// Keys in failure cooldown are suppressed. When the queue is full the
// request is dropped; the tile stays eligible for re-request.
func (p *Pool) Submit(k tile.Key, priority int) error {
	if !k.Valid() {
		return &Error{Kind: KindInvalidInput, Key: k}
	}
	if !p.provider.SupportsZoom(k.Z) {
		return &Error{Kind: KindInvalidInput, Key: k,
			Err: fmt.Errorf("provider %q serves zoom %d..%d", p.provider.Name, p.provider.MinZoom, p.provider.MaxZoom)}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.stopped {
		return nil
	}
	if f, ok := p.failed[k]; ok {
		if f.permanent || time.Now().Before(f.until) {
			return nil
		}
		delete(p.failed, k)
	}
	if _, ok := p.inflight[k]; ok {
		return nil
	}
	if r, ok := p.pending[k]; ok {
		if priority < r.priority {
			r.priority = priority
			heap.Fix(&p.queue, r.index)
		}
		return nil
	}
	if len(p.queue) >= p.queueBound {
		p.dropped++
		return nil
	}
	p.seq++
	r := &request{key: k, priority: priority, seq: p.seq}
	heap.Push(&p.queue, r)
	p.pending[k] = r
	p.submitted++
	metrics.TileRequests.Inc()
	p.cond.Signal()
	return nil
}

// Cancel removes a pending request. In-flight requests run to
// completion. Reports whether a pending request was removed.
func (p *Pool) Cancel(k tile.Key) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	r, ok := p.pending[k]
	if !ok {
		return false
	}
	heap.Remove(&p.queue, r.index)
	delete(p.pending, k)
	return true
}

// Busy reports whether the key is pending or in flight.
func (p *Pool) Busy(k tile.Key) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.pending[k]; ok {
		return true
	}
	_, ok := p.inflight[k]
	return ok
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return Stats{
		Submitted: p.submitted,
		Completed: p.completed,
		Failed:    p.failedCount,
		Dropped:   p.dropped,
		Pending:   len(p.pending),
		InFlight:  len(p.inflight),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mutex.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mutex.Unlock()
			return
		}
		r := heap.Pop(&p.queue).(*request)
		delete(p.pending, r.key)
		p.inflight[r.key] = struct{}{}
		p.mutex.Unlock()

		p.process(r)

		p.mutex.Lock()
		delete(p.inflight, r.key)
		p.mutex.Unlock()
	}
}

func (p *Pool) process(r *request) {
	k := r.key
	if raster := p.cache.Get(k); raster != nil {
		p.finish(raster)
		return
	}
	encoded, fromDisk := p.loadFromDisk(k)
	if encoded == nil {
		var err error
		encoded, err = p.fetchHTTP(k)
		if err != nil {
			p.fail(k, err)
			return
		}
		if p.store != nil {
			if err := p.store.Put(k, encoded); err != nil {
				p.log.Warn("Cannot persist tile to disk store",
					zap.String("tile", k.String()), zap.Error(err))
			}
		}
	}
	raster, err := Decode(k, encoded)
	if err != nil {
		p.handleDecodeFailure(r, fromDisk, err)
		return
	}
	p.cache.Put(raster)
	p.finish(raster)
}

func (p *Pool) loadFromDisk(k tile.Key) (encoded []byte, fromDisk bool) {
	if p.store == nil {
		return nil, false
	}
	data, err := p.store.Get(k)
	if err != nil {
		if !errors.Is(err, store.ErrNotCached) {
			p.log.Warn("Disk store read failed, treating as miss",
				zap.String("tile", k.String()), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (p *Pool) fetchHTTP(k tile.Key) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := p.provider.NewRequest(k)
		if err != nil {
			return backoff.Permanent(&Error{Kind: KindInvalidInput, Key: k, Err: err})
		}
		metrics.UpstreamRequests.Inc()
		start := time.Now()
		resp, err := p.client.Do(req)
		if err != nil {
			return &Error{Kind: KindTransient, Key: k, Err: err}
		}
		defer resp.Body.Close()
		metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return &Error{Kind: KindTransient, Key: k, Err: err}
			}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(&Error{Kind: KindNotFound, Key: k,
				Err: fmt.Errorf("status %d from %s", resp.StatusCode, req.URL)})
		default:
			return &Error{Kind: KindTransient, Key: k,
				Err: fmt.Errorf("status %d from %s", resp.StatusCode, req.URL)}
		}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backoffBase
	err := backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(p.maxRetries)))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// A bad payload from disk is dropped and refetched within the same
// job. A bad payload from the network is re-requested once, then the
// tile fails permanently.
func (p *Pool) handleDecodeFailure(r *request, fromDisk bool, decodeErr error) {
	k := r.key
	if p.store != nil {
		p.store.Drop(k)
	}
	if fromDisk {
		encoded, err := p.fetchHTTP(k)
		if err != nil {
			p.fail(k, err)
			return
		}
		if p.store != nil {
			if err := p.store.Put(k, encoded); err != nil {
				p.log.Warn("Cannot persist tile to disk store",
					zap.String("tile", k.String()), zap.Error(err))
			}
		}
		raster, err := Decode(k, encoded)
		if err != nil {
			p.failPermanently(k, err)
			return
		}
		p.cache.Put(raster)
		p.finish(raster)
		return
	}
	p.mutex.Lock()
	retried := p.decodeRetried[k]
	p.decodeRetried[k] = true
	p.mutex.Unlock()
	if retried {
		p.failPermanently(k, decodeErr)
		return
	}
	p.log.Warn("Tile payload failed to decode, re-requesting once",
		zap.String("tile", k.String()), zap.Error(decodeErr))
	p.mutex.Lock()
	if !p.stopped && len(p.queue) < p.queueBound {
		p.seq++
		req := &request{key: k, priority: r.priority, seq: p.seq}
		heap.Push(&p.queue, req)
		p.pending[k] = req
		p.cond.Signal()
	}
	p.mutex.Unlock()
}

func (p *Pool) finish(raster *tile.Raster) {
	p.mutex.Lock()
	p.completed++
	p.mutex.Unlock()
	p.sink.Published(raster)
}

func (p *Pool) fail(k tile.Key, err error) {
	var fe *Error
	if errors.As(err, &fe) && fe.Permanent() {
		p.failPermanently(k, err)
		return
	}
	p.log.Warn("Tile fetch failed after retries", zap.String("tile", k.String()), zap.Error(err))
	p.mutex.Lock()
	p.failedCount++
	p.failed[k] = failure{until: time.Now().Add(p.failCooldown)}
	p.mutex.Unlock()
	metrics.UpstreamFailures.Inc()
	p.sink.Failed(k, err)
}

func (p *Pool) failPermanently(k tile.Key, err error) {
	p.log.Warn("Tile failed permanently", zap.String("tile", k.String()), zap.Error(err))
	p.mutex.Lock()
	p.failedCount++
	p.failed[k] = failure{permanent: true}
	p.mutex.Unlock()
	metrics.UpstreamFailures.Inc()
	p.sink.Failed(k, err)
}
