package gpu

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/globegl/globeview/metrics"
)

type levelGrid struct {
	z        int32
	w        int32 // grid side in entries
	ox, oy   int32 // window origin in tile space
	windowed bool
	tex      TextureID
	entries  []uint16
}

type gridRef struct {
	z, x, y int32
}

// Indirection holds one u16 grid per zoom level mapping tile
// coordinates to pool layers. Shallow levels cover their full 2^z
// range; deep levels keep a sliding window that follows the camera.
// All methods must run on the render thread.
type Indirection struct {
	backend          Backend
	maxZoom          int32
	fullCoverageZoom int32
	windowSize       int32
	levels           []*levelGrid
	// reverse index: layer -> the grid entry pointing at it. A layer
	// holds exactly one tile at one zoom, so one ref suffices.
	refs map[uint16]gridRef
	log  *zap.Logger
}

// NewIndirection prepares grids for zooms 0..maxZoom. Level storage is
// allocated lazily on first use.
func NewIndirection(backend Backend, maxZoom, fullCoverageZoom, windowSize int32, log *zap.Logger) (*Indirection, error) {
	if windowSize <= 0 || windowSize&(windowSize-1) != 0 {
		return nil, fmt.Errorf("window size %d must be a power of two", windowSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Indirection{
		backend:          backend,
		maxZoom:          maxZoom,
		fullCoverageZoom: fullCoverageZoom,
		windowSize:       windowSize,
		levels:           make([]*levelGrid, maxZoom+1),
		refs:             make(map[uint16]gridRef),
		log:              log,
	}, nil
}

func (t *Indirection) level(z int32) (*levelGrid, error) {
	if z < 0 || z > t.maxZoom {
		return nil, fmt.Errorf("zoom %d out of range", z)
	}
	if t.levels[z] != nil {
		return t.levels[z], nil
	}
	side := int32(1) << z
	l := &levelGrid{z: z}
	if z <= t.fullCoverageZoom {
		l.w = side
	} else {
		l.w = t.windowSize
		l.windowed = true
		// Start centered in tile space until the first recenter.
		l.ox = clampOffset(side/2-l.w/2, side, l.w)
		l.oy = l.ox
	}
	l.entries = make([]uint16, int(l.w)*int(l.w))
	for i := range l.entries {
		l.entries[i] = InvalidLayer
	}
	tex, err := t.backend.NewIndexTexture(l.w)
	if err != nil {
		return nil, fmt.Errorf("allocating indirection level %d: %w", z, err)
	}
	l.tex = tex
	if err := t.backend.IndexSubImage(l.tex, 0, 0, l.w, l.w, l.entries); err != nil {
		return nil, fmt.Errorf("initializing indirection level %d: %w", z, err)
	}
	t.levels[z] = l
	return l, nil
}

func clampOffset(o, side, w int32) int32 {
	if o < 0 {
		return 0
	}
	if o > side-w {
		return side - w
	}
	return o
}

// contains reports whether absolute tile coordinates fall inside the
// level's represented range.
func (l *levelGrid) contains(x, y int32) bool {
	return x >= l.ox && x < l.ox+l.w && y >= l.oy && y < l.oy+l.w
}

func (l *levelGrid) index(x, y int32) int {
	return int(y-l.oy)*int(l.w) + int(x-l.ox)
}

// Texture returns the GL texture for a level, allocating it if needed.
func (t *Indirection) Texture(z int32) (TextureID, error) {
	l, err := t.level(z)
	if err != nil {
		return 0, err
	}
	return l.tex, nil
}

// Offset returns the window origin for a level in tile space.
func (t *Indirection) Offset(z int32) (ox, oy int32) {
	if z < 0 || z > t.maxZoom || t.levels[z] == nil {
		return 0, 0
	}
	return t.levels[z].ox, t.levels[z].oy
}

// WindowSize returns the grid side for a level.
func (t *Indirection) WindowSize(z int32) int32 {
	if z <= t.fullCoverageZoom {
		return 1 << z
	}
	return t.windowSize
}

// Get returns the layer stored for absolute tile coordinates, or
// InvalidLayer when the entry is unset or outside the window.
func (t *Indirection) Get(z, x, y int32) uint16 {
	if z < 0 || z > t.maxZoom || t.levels[z] == nil {
		return InvalidLayer
	}
	l := t.levels[z]
	if !l.contains(x, y) {
		return InvalidLayer
	}
	return l.entries[l.index(x, y)]
}

// Set writes a layer at absolute tile coordinates. Writes outside the
// window are silently ignored; the caller learns this from the return
// value.
func (t *Indirection) Set(z, x, y int32, layer uint16) (bool, error) {
	l, err := t.level(z)
	if err != nil {
		return false, err
	}
	if !l.contains(x, y) {
		return false, nil
	}
	idx := l.index(x, y)
	if old := l.entries[idx]; old != InvalidLayer {
		delete(t.refs, old)
	}
	l.entries[idx] = layer
	if layer != InvalidLayer {
		t.refs[layer] = gridRef{z: z, x: x, y: y}
	}
	if err := t.backend.IndexSubImage(l.tex, x-l.ox, y-l.oy, 1, 1, []uint16{layer}); err != nil {
		return false, err
	}
	return true, nil
}

// Clear resets the entry at absolute tile coordinates.
func (t *Indirection) Clear(z, x, y int32) error {
	if z < 0 || z > t.maxZoom || t.levels[z] == nil {
		return nil
	}
	l := t.levels[z]
	if !l.contains(x, y) {
		return nil
	}
	idx := l.index(x, y)
	if old := l.entries[idx]; old != InvalidLayer {
		delete(t.refs, old)
	}
	l.entries[idx] = InvalidLayer
	return t.backend.IndexSubImage(l.tex, x-l.ox, y-l.oy, 1, 1, []uint16{InvalidLayer})
}

// Invalidate clears whatever entry currently points at a pool layer.
// Called when the pool reclaims the layer for another tile.
func (t *Indirection) Invalidate(layer uint16) error {
	ref, ok := t.refs[layer]
	if !ok {
		return nil
	}
	return t.Clear(ref.z, ref.x, ref.y)
}

// Ref returns the grid coordinates currently pointing at a layer.
func (t *Indirection) Ref(layer uint16) (z, x, y int32, ok bool) {
	ref, found := t.refs[layer]
	return ref.z, ref.x, ref.y, found
}

// Recenter moves a windowed level so its window is centered on
// (cx, cy) in tile space, preserving entries that remain inside the
// window and clearing only newly exposed strips. Levels at or below
// the full-coverage zoom never move.
func (t *Indirection) Recenter(z, cx, cy int32) (bool, error) {
	l, err := t.level(z)
	if err != nil {
		return false, err
	}
	if !l.windowed {
		return false, nil
	}
	side := int32(1) << z
	nox := clampOffset(cx-l.w/2, side, l.w)
	noy := clampOffset(cy-l.w/2, side, l.w)
	dx, dy := nox-l.ox, noy-l.oy
	if dx == 0 && dy == 0 {
		return false, nil
	}
	metrics.WindowRecenters.Inc()
	// Drop reverse-index refs that leave the window.
	for layer, ref := range t.refs {
		if ref.z != z {
			continue
		}
		if ref.x < nox || ref.x >= nox+l.w || ref.y < noy || ref.y >= noy+l.w {
			delete(t.refs, layer)
		}
	}
	if abs32(dx) >= l.w || abs32(dy) >= l.w {
		for i := range l.entries {
			l.entries[i] = InvalidLayer
		}
	} else {
		scroll(l.entries, l.w, dx, dy)
	}
	l.ox, l.oy = nox, noy
	if err := t.backend.IndexSubImage(l.tex, 0, 0, l.w, l.w, l.entries); err != nil {
		return true, fmt.Errorf("uploading recentered level %d: %w", z, err)
	}
	return true, nil
}

// scroll shifts the grid so entry (x, y) takes the value previously at
// (x+dx, y+dy); exposed cells become InvalidLayer. In-place, row by
// row, walking in the direction that never reads overwritten data.
func scroll(entries []uint16, w, dx, dy int32) {
	row := func(y int32) []uint16 { return entries[int(y)*int(w) : (int(y)+1)*int(w)] }
	shiftRow := func(dst, src []uint16) {
		switch {
		case dx >= 0:
			copy(dst[:w-dx], src[dx:])
			for x := w - dx; x < w; x++ {
				dst[x] = InvalidLayer
			}
		default:
			copy(dst[-dx:], src[:w+dx])
			for x := int32(0); x < -dx; x++ {
				dst[x] = InvalidLayer
			}
		}
	}
	clearRow := func(y int32) {
		r := row(y)
		for i := range r {
			r[i] = InvalidLayer
		}
	}
	if dy >= 0 {
		for y := int32(0); y < w-dy; y++ {
			shiftRow(row(y), row(y+dy))
		}
		for y := w - dy; y < w; y++ {
			clearRow(y)
		}
	} else {
		for y := w - 1; y >= -dy; y-- {
			shiftRow(row(y), row(y+dy))
		}
		for y := int32(0); y < -dy; y++ {
			clearRow(y)
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Destroy releases every allocated level texture.
func (t *Indirection) Destroy() {
	for _, l := range t.levels {
		if l != nil {
			t.backend.DeleteTexture(l.tex)
		}
	}
}
