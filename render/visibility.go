package render

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/globegl/globeview/tile"
)

// zoomCalibration maps altitude to zoom: altitude 2 over the unit
// sphere selects zoom 2, and each halving of the altitude raises the
// zoom by one, matching the tile pyramid.
const zoomCalibration = 8.0

// fullRequestZoom is the deepest zoom at which the whole level is
// requested instead of ray-casting the viewport: 4^4 = 256 tiles.
const fullRequestZoom = 4

// ZoomForAltitude selects the target zoom for a camera altitude above
// the unit sphere.
func ZoomForAltitude(alt float64, maxZoom int32) int32 {
	if alt <= 0 {
		return maxZoom
	}
	z := int32(math.Round(math.Log2(zoomCalibration / alt)))
	if z < 0 {
		return 0
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}

// Selection is the per-frame output of the visibility pass.
type Selection struct {
	Zoom int32
	// Tiles uses the spherical-linear convention of the globe mesh,
	// ordered nearest-to-center first.
	Tiles []tile.Key
	// Bounds is the visible geographic rectangle, used for
	// Mercator-aware indirection window centering.
	Bounds tile.Bounds
	// FullLevel reports that the whole zoom level was selected
	// without ray casting.
	FullLevel bool
}

// Select computes the target zoom and visible tile set for a camera.
// At shallow zooms every tile of the level is requested, which
// guarantees coverage even when corner rays miss the globe. Deeper
// zooms ray-cast the viewport corners against the sphere.
func Select(cam Camera, maxZoom int32, maxTiles int) Selection {
	z := ZoomForAltitude(cam.Altitude(), maxZoom)
	if z <= fullRequestZoom {
		return Selection{
			Zoom:      z,
			Tiles:     allTiles(z),
			Bounds:    tile.Bounds{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180},
			FullLevel: true,
		}
	}
	bounds := visibleBounds(cam)
	tiles := enumerateTiles(bounds, z, cam, maxTiles)
	return Selection{Zoom: z, Tiles: tiles, Bounds: bounds}
}

func allTiles(z int32) []tile.Key {
	side := int32(1) << z
	tiles := make([]tile.Key, 0, side*side)
	for y := int32(0); y < side; y++ {
		for x := int32(0); x < side; x++ {
			tiles = append(tiles, tile.Key{X: x, Y: y, Z: z})
		}
	}
	return tiles
}

// visibleBounds casts rays through the viewport corners and intersects
// the unit sphere. Corners that miss the globe contribute the limb
// point nearest their ray instead, so the bounds never collapse. The
// corner hits skew toward the horizon on the far side of the view, so
// the bounds take the largest angular offset per axis and mirror it
// about the nadir; the nadir sits at the geographic center.
func visibleBounds(cam Camera) tile.Bounds {
	nadirLat, nadirLon := cam.Nadir()
	dLat, dLon := 0.0, 0.0

	invVP := cam.Projection.Mul4(cam.View).Inv()
	corners := [4][2]float64{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}}
	for _, c := range corners {
		dir := cornerRay(invVP, c[0], c[1])
		p, ok := raySphere(cam.Position, dir)
		if !ok {
			p = limbPoint(cam.Position, dir)
		}
		lat := math.Asin(clamp(p.Y(), -1, 1)) * 180 / math.Pi
		lon := math.Atan2(p.X(), p.Z()) * 180 / math.Pi
		dLat = math.Max(dLat, math.Abs(lat-nadirLat))
		dLon = math.Max(dLon, math.Abs(wrapDelta(lon-nadirLon)))
	}
	return tile.Bounds{
		MinLat: math.Max(nadirLat-dLat, -90),
		MaxLat: math.Min(nadirLat+dLat, 90),
		MinLon: nadirLon - dLon,
		MaxLon: nadirLon + dLon,
	}
}

func wrapDelta(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}

func cornerRay(invVP mgl64.Mat4, ndcX, ndcY float64) mgl64.Vec3 {
	near := invVP.Mul4x1(mgl64.Vec4{ndcX, ndcY, -1, 1})
	far := invVP.Mul4x1(mgl64.Vec4{ndcX, ndcY, 1, 1})
	nearP := mgl64.Vec3{near.X() / near.W(), near.Y() / near.W(), near.Z() / near.W()}
	farP := mgl64.Vec3{far.X() / far.W(), far.Y() / far.W(), far.Z() / far.W()}
	return farP.Sub(nearP).Normalize()
}

// raySphere intersects o + t*d with the unit sphere and returns the
// near hit.
func raySphere(o, d mgl64.Vec3) (mgl64.Vec3, bool) {
	b := o.Dot(d)
	c := o.Dot(o) - 1
	disc := b*b - c
	if disc < 0 {
		return mgl64.Vec3{}, false
	}
	t := -b - math.Sqrt(disc)
	if t < 0 {
		return mgl64.Vec3{}, false
	}
	return o.Add(d.Mul(t)), true
}

// limbPoint projects the closest approach of the ray onto the sphere.
func limbPoint(o, d mgl64.Vec3) mgl64.Vec3 {
	t := -o.Dot(d)
	if t < 0 {
		return o.Normalize()
	}
	q := o.Add(d.Mul(t))
	if q.Len() == 0 {
		return o.Normalize()
	}
	return q.Normalize()
}

// enumerateTiles lists the tiles of the spherical-linear grid covering
// the bounds, nearest to the camera nadir first, clamped to maxTiles.
func enumerateTiles(b tile.Bounds, z int32, cam Camera, maxTiles int) []tile.Key {
	side := int32(1) << z
	nadirLat, nadirLon := cam.Nadir()
	center := tile.SphericalAt(nadirLat, nadirLon, z)

	nw := tile.SphericalAt(b.MaxLat, b.MinLon, z)
	se := tile.SphericalAt(b.MinLat, b.MaxLon, z)
	minY, maxY := nw.Y, se.Y
	// The X range may cross the antimeridian; walk it modulo the side.
	spanX := se.X - nw.X
	if spanX < 0 {
		spanX += side
	}

	var tiles []tile.Key
	for dy := minY; dy <= maxY; dy++ {
		for dx := int32(0); dx <= spanX; dx++ {
			k := tile.Key{X: nw.X + dx, Y: dy, Z: z}.WrapX()
			if k.Valid() {
				tiles = append(tiles, k)
			}
		}
	}
	sort.Slice(tiles, func(i, j int) bool {
		di, dj := tileDistance(tiles[i], center, side), tileDistance(tiles[j], center, side)
		if di != dj {
			return di < dj
		}
		return tiles[i].Less(tiles[j])
	})
	if maxTiles > 0 && len(tiles) > maxTiles {
		tiles = tiles[:maxTiles]
	}
	return tiles
}

// tileDistance is the squared grid distance with X wrap.
func tileDistance(k, center tile.Key, side int32) int64 {
	dx := abs32(k.X - center.X)
	if side-dx < dx {
		dx = side - dx
	}
	dy := abs32(k.Y - center.Y)
	return int64(dx)*int64(dx) + int64(dy)*int64(dy)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
