package gpu

import (
	"container/list"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/globegl/globeview/metrics"
	"github.com/globegl/globeview/tile"
)

// InvalidLayer marks an indirection entry with no resident tile.
const InvalidLayer uint16 = 0xFFFF

// ErrPoolExhausted means every slot was used this frame; the upload
// must be deferred, not dropped.
var ErrPoolExhausted = errors.New("every tile pool slot is in use this frame")

type slot struct {
	occupant tile.Key
	occupied bool
	lastUsed uint64
	lruElem  *list.Element
}

// Pool is the GPU tile pool: a layered texture of uniform rasters with
// a free list and LRU reclamation. All methods must run on the render
// thread.
type Pool struct {
	backend  Backend
	tex      TextureID
	capacity int
	slots    []slot
	free     []uint16
	lru      *list.List // of layer uint16, front = LRU
	byKey    map[tile.Key]uint16
	log      *zap.Logger
}

// NewPool allocates the layered texture and the slot bookkeeping.
// Capacity must fit in a uint16 below InvalidLayer.
func NewPool(backend Backend, capacity int, log *zap.Logger) (*Pool, error) {
	if capacity <= 0 || capacity >= int(InvalidLayer) {
		return nil, fmt.Errorf("pool capacity %d out of range", capacity)
	}
	if log == nil {
		log = zap.NewNop()
	}
	tex, err := backend.NewTileArray(int32(capacity))
	if err != nil {
		return nil, fmt.Errorf("allocating tile pool: %w", err)
	}
	p := &Pool{
		backend:  backend,
		tex:      tex,
		capacity: capacity,
		slots:    make([]slot, capacity),
		free:     make([]uint16, 0, capacity),
		lru:      list.New(),
		byKey:    make(map[tile.Key]uint16),
		log:      log,
	}
	for layer := capacity - 1; layer >= 0; layer-- {
		p.free = append(p.free, uint16(layer))
	}
	return p, nil
}

// Texture returns the layered pool texture for binding.
func (p *Pool) Texture() TextureID { return p.tex }

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return p.capacity }

// LayerOf returns the layer holding a tile, if resident.
func (p *Pool) LayerOf(k tile.Key) (uint16, bool) {
	layer, ok := p.byKey[k]
	return layer, ok
}

// Occupant returns the tile a layer currently holds.
func (p *Pool) Occupant(layer uint16) (tile.Key, bool) {
	s := &p.slots[layer]
	return s.occupant, s.occupied
}

// Acquire returns a slot for a tile: a free slot if available,
// otherwise the least recently used occupied slot whose last use is
// strictly older than frame. The previous occupant, if any, is
// returned so the caller can rewrite its indirection entry. When every
// slot was used this frame, ErrPoolExhausted is returned.
func (p *Pool) Acquire(k tile.Key, frame uint64) (layer uint16, evicted *tile.Key, err error) {
	if existing, ok := p.byKey[k]; ok {
		p.Touch(existing, frame)
		return existing, nil, nil
	}
	if n := len(p.free); n > 0 {
		layer = p.free[n-1]
		p.free = p.free[:n-1]
		p.occupy(layer, k, frame)
		return layer, nil, nil
	}
	front := p.lru.Front()
	if front == nil {
		return InvalidLayer, nil, ErrPoolExhausted
	}
	layer = front.Value.(uint16)
	victim := &p.slots[layer]
	if victim.lastUsed >= frame {
		return InvalidLayer, nil, ErrPoolExhausted
	}
	old := victim.occupant
	delete(p.byKey, old)
	p.lru.Remove(front)
	victim.lruElem = nil
	victim.occupied = false
	metrics.PoolReclaims.Inc()
	p.occupy(layer, k, frame)
	return layer, &old, nil
}

func (p *Pool) occupy(layer uint16, k tile.Key, frame uint64) {
	s := &p.slots[layer]
	s.occupant = k
	s.occupied = true
	s.lastUsed = frame
	s.lruElem = p.lru.PushBack(layer)
	p.byKey[k] = layer
}

// Upload transfers a raster into an acquired slot.
func (p *Pool) Upload(layer uint16, r *tile.Raster) error {
	if err := p.backend.TileSubImage(p.tex, int32(layer), r.Pix); err != nil {
		return err
	}
	metrics.PoolUploads.Inc()
	return nil
}

// Touch marks a layer as used this frame, protecting it from
// reclamation.
func (p *Pool) Touch(layer uint16, frame uint64) {
	s := &p.slots[layer]
	if !s.occupied {
		return
	}
	s.lastUsed = frame
	p.lru.MoveToBack(s.lruElem)
}

// Release frees a slot without a replacement, returning its layer to
// the free list. Used when a GL upload fails.
func (p *Pool) Release(layer uint16) {
	s := &p.slots[layer]
	if !s.occupied {
		return
	}
	delete(p.byKey, s.occupant)
	p.lru.Remove(s.lruElem)
	s.lruElem = nil
	s.occupied = false
	p.free = append(p.free, layer)
}

// Destroy releases the GPU texture. The pool must not be used after.
func (p *Pool) Destroy() {
	p.backend.DeleteTexture(p.tex)
}
