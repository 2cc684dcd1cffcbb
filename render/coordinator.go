package render

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/globegl/globeview/cache"
	"github.com/globegl/globeview/fetch"
	"github.com/globegl/globeview/gpu"
	"github.com/globegl/globeview/tile"
)

// FallbackLevels is how many zoom levels the shader may walk down when
// the exact tile is not resident.
const FallbackLevels = 5

// CoordinatorOptions wires the coordinator to the stages it
// orchestrates.
type CoordinatorOptions struct {
	Cache             *cache.Cache
	Pool              *gpu.Pool
	Indirection       *gpu.Indirection
	UploadQueueBound  int
	UploadBudget      int
	DeepZoomThreshold int32
	// IdleEvictFrames is how many frames a tile stays protected from
	// slot reclamation after it last appeared in a Request.
	IdleEvictFrames uint64
	Logger          *zap.Logger
}

// Coordinator owns the upload queue and the per-frame bookkeeping
// between the fetcher workers and the render thread. It implements
// fetch.Sink; Published and Failed may run on any worker goroutine,
// every other method belongs to the render thread.
type Coordinator struct {
	cache       *cache.Cache
	pool        *gpu.Pool
	indirection *gpu.Indirection
	fetcher     *fetch.Pool
	log         *zap.Logger

	uploadQueue chan *tile.Raster
	queuedMutex sync.Mutex
	queued      map[tile.Key]struct{}

	frame             uint64
	wanted            map[tile.Key]uint64
	uploadRetried     map[tile.Key]bool
	uploadBudget      int
	deepZoomThreshold int32
	idleEvictFrames   uint64

	failedMutex sync.Mutex
	failedCount uint64
}

// NewCoordinator builds a coordinator. Attach the fetcher afterwards
// with SetFetcher; the fetcher needs the coordinator as its sink.
func NewCoordinator(o CoordinatorOptions) *Coordinator {
	if o.UploadQueueBound <= 0 {
		o.UploadQueueBound = 256
	}
	if o.UploadBudget <= 0 {
		o.UploadBudget = 6
	}
	if o.DeepZoomThreshold <= 0 {
		o.DeepZoomThreshold = 13
	}
	if o.IdleEvictFrames == 0 {
		o.IdleEvictFrames = 3
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Coordinator{
		cache:             o.Cache,
		pool:              o.Pool,
		indirection:       o.Indirection,
		log:               o.Logger,
		uploadQueue:       make(chan *tile.Raster, o.UploadQueueBound),
		queued:            make(map[tile.Key]struct{}),
		wanted:            make(map[tile.Key]uint64),
		uploadRetried:     make(map[tile.Key]bool),
		uploadBudget:      o.UploadBudget,
		deepZoomThreshold: o.DeepZoomThreshold,
		idleEvictFrames:   o.IdleEvictFrames,
	}
}

// SetFetcher attaches the fetcher pool the coordinator submits to.
func (c *Coordinator) SetFetcher(f *fetch.Pool) { c.fetcher = f }

// Published implements fetch.Sink: a decoded raster is queued for
// upload. When the queue is full the raster is simply not queued; it
// stays in the memory cache and the tile remains eligible for
// re-request, so no worker ever blocks here.
func (c *Coordinator) Published(r *tile.Raster) {
	c.queuedMutex.Lock()
	if _, dup := c.queued[r.Key]; dup {
		c.queuedMutex.Unlock()
		return
	}
	select {
	case c.uploadQueue <- r:
		c.queued[r.Key] = struct{}{}
	default:
		c.log.Debug("Upload queue full, deferring tile", zap.String("tile", r.Key.String()))
	}
	c.queuedMutex.Unlock()
}

// Failed implements fetch.Sink.
func (c *Coordinator) Failed(k tile.Key, err error) {
	c.failedMutex.Lock()
	c.failedCount++
	c.failedMutex.Unlock()
	c.log.Debug("Tile failed", zap.String("tile", k.String()), zap.Error(err))
}

// FailedCount returns how many tiles have failed so far.
func (c *Coordinator) FailedCount() uint64 {
	c.failedMutex.Lock()
	defer c.failedMutex.Unlock()
	return c.failedCount
}

// BeginFrame advances the frame counter used for slot protection and
// refreshes it on every recently wanted tile. A tile that leaves the
// visible set keeps its slot for IdleEvictFrames frames before it
// becomes eligible for LRU reclamation; after that its wanted entry is
// dropped.
func (c *Coordinator) BeginFrame() {
	c.frame++
	for k, last := range c.wanted {
		if c.frame-last > c.idleEvictFrames {
			delete(c.wanted, k)
			continue
		}
		if layer, ok := c.pool.LayerOf(k); ok {
			c.pool.Touch(layer, c.frame)
		}
	}
}

// Frame returns the current frame number.
func (c *Coordinator) Frame() uint64 { return c.frame }

// Request declares the tiles wanted this frame. Safe to call every
// frame with the same set: resident tiles and in-flight fetches are
// skipped, cached rasters go straight to the upload queue.
func (c *Coordinator) Request(keys []tile.Key, priority int) {
	for _, k := range keys {
		c.wanted[k] = c.frame
		if _, resident := c.pool.LayerOf(k); resident {
			continue
		}
		if r := c.cache.Get(k); r != nil {
			c.Published(r)
			continue
		}
		if err := c.fetcher.Submit(k, priority); err != nil {
			var fe *fetch.Error
			if errors.As(err, &fe) && fe.Kind == fetch.KindInvalidInput {
				c.log.Warn("Rejected invalid tile request", zap.String("tile", k.String()))
				continue
			}
			c.log.Warn("Tile submission failed", zap.String("tile", k.String()), zap.Error(err))
		}
	}
}

// Prefetch submits tiles for background fetching without marking them
// wanted this frame. Tiles already resident, cached, or in flight are
// skipped; use a priority behind the visible set.
func (c *Coordinator) Prefetch(keys []tile.Key, priority int) {
	for _, k := range keys {
		if _, resident := c.pool.LayerOf(k); resident {
			continue
		}
		if c.cache.Get(k) != nil {
			continue
		}
		if err := c.fetcher.Submit(k, priority); err != nil {
			c.log.Debug("Prefetch submission rejected", zap.String("tile", k.String()), zap.Error(err))
		}
	}
}

// ProcessUploads drains up to budget decoded rasters into pool slots
// and indirection entries. Runs on the render thread. Returns the
// number of tiles made resident. A budget of 0 uses the configured
// default.
func (c *Coordinator) ProcessUploads(budget int) int {
	if budget <= 0 {
		budget = c.uploadBudget
	}
	uploaded := 0
	for uploaded < budget {
		var r *tile.Raster
		select {
		case r = <-c.uploadQueue:
		default:
			return uploaded
		}
		c.queuedMutex.Lock()
		delete(c.queued, r.Key)
		c.queuedMutex.Unlock()

		layer, evicted, err := c.pool.Acquire(r.Key, c.frame)
		if errors.Is(err, gpu.ErrPoolExhausted) {
			// Defer to the next frame, never drop.
			c.Published(r)
			return uploaded
		}
		if err != nil {
			c.log.Error("Slot acquisition failed", zap.String("tile", r.Key.String()), zap.Error(err))
			return uploaded
		}
		if evicted != nil {
			if err := c.indirection.Invalidate(layer); err != nil {
				c.log.Warn("Indirection invalidation failed",
					zap.String("tile", evicted.String()), zap.Error(err))
			}
		}
		if err := c.pool.Upload(layer, r); err != nil {
			// Release the slot; the tile goes back to pending once.
			c.pool.Release(layer)
			if !c.uploadRetried[r.Key] {
				c.uploadRetried[r.Key] = true
				c.Published(r)
			}
			c.log.Warn("Tile upload failed", zap.String("tile", r.Key.String()), zap.Error(err))
			continue
		}
		delete(c.uploadRetried, r.Key)
		if _, err := c.indirection.Set(r.Key.Z, r.Key.X, r.Key.Y, layer); err != nil {
			c.log.Warn("Indirection write failed", zap.String("tile", r.Key.String()), zap.Error(err))
		}
		uploaded++
	}
	return uploaded
}

// TouchVisible promotes the pool slots of every visible resident tile
// so they survive LRU reclamation this frame.
func (c *Coordinator) TouchVisible(keys []tile.Key) {
	for _, k := range keys {
		if layer, ok := c.pool.LayerOf(k); ok {
			c.pool.Touch(layer, c.frame)
		}
	}
}

// UpdateWindows recenters the indirection windows of the current zoom
// and its fallback levels on the visible bounds. Shallower levels
// always fully cover and are skipped.
func (c *Coordinator) UpdateWindows(zoom int32, bounds tile.Bounds) {
	for level := int32(0); level < FallbackLevels; level++ {
		z := zoom - level
		if z < c.deepZoomThreshold {
			break
		}
		cx, cy := bounds.WindowCenter(z)
		if _, err := c.indirection.Recenter(z, cx, cy); err != nil {
			c.log.Warn("Window recenter failed", zap.Int32("zoom", z), zap.Error(err))
		}
	}
}

// LevelHandle describes one indirection level bound for drawing.
type LevelHandle struct {
	Zoom       int32
	Texture    gpu.TextureID
	OffsetX    int32
	OffsetY    int32
	WindowSize int32
	Valid      bool
}

// Handles returns the pool texture and the indirection levels for the
// current zoom and its fallbacks, shallowest last.
func (c *Coordinator) Handles(zoom int32) (pool gpu.TextureID, levels [FallbackLevels]LevelHandle) {
	pool = c.pool.Texture()
	for level := int32(0); level < FallbackLevels; level++ {
		z := zoom - level
		if z < 0 {
			continue
		}
		tex, err := c.indirection.Texture(z)
		if err != nil {
			c.log.Warn("Indirection texture unavailable", zap.Int32("zoom", z), zap.Error(err))
			continue
		}
		ox, oy := c.indirection.Offset(z)
		levels[level] = LevelHandle{
			Zoom:       z,
			Texture:    tex,
			OffsetX:    ox,
			OffsetY:    oy,
			WindowSize: c.indirection.WindowSize(z),
			Valid:      true,
		}
	}
	return pool, levels
}

// ResidentLayer reports the pool layer a tile occupies, if any.
func (c *Coordinator) ResidentLayer(k tile.Key) (uint16, bool) {
	return c.pool.LayerOf(k)
}
