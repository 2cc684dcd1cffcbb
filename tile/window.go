package tile

import "math"

// Bounds is a geographic rectangle in degrees. MinLat <= MaxLat; the
// rectangle may not cross the antimeridian.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether (lat, lon) lies inside the rectangle.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// TileRange returns the inclusive slippy tile rectangle covering the
// bounds at zoom z. Tile-Y grows southward, so the north edge maps to
// the minimum Y.
func (b Bounds) TileRange(z int32) (minX, minY, maxX, maxY int32) {
	nw := SlippyAt(b.MaxLat, b.MinLon, z)
	se := SlippyAt(b.MinLat, b.MaxLon, z)
	return nw.X, nw.Y, se.X, se.Y
}

// WindowCenter returns the tile-space point the indirection window for
// zoom z should be centered on.
//
// Mercator stretches tile rows toward the poles, so a geographically
// symmetric viewport maps to an asymmetric tile-Y range: at high
// northern latitude the poleward half of the view spans more tile rows
// than the equatorward half. Centering on the camera nadir tile would
// leave part of the visible range outside the window. The center is
// therefore the midpoint of the projected range of the actual visible
// bounds, averaged in fractional plane coordinates; averaging whole
// tile indices would truncate sub-tile asymmetry away.
func (b Bounds) WindowCenter(z int32) (cx, cy int32) {
	nwX, nwY := normalizedSlippy(b.MaxLat, b.MinLon)
	seX, seY := normalizedSlippy(b.MinLat, b.MaxLon)
	scale := float64(int64(1) << z)
	k := clampToGrid(
		int32(math.Floor((nwX+seX)/2*scale)),
		int32(math.Floor((nwY+seY)/2*scale)), z)
	return k.X, k.Y
}
