package tile

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6378137.0

// WebMercatorProjection maps the sphere onto the unit square used by
// slippy tile servers: (0,0) at the north-west corner, (1,1) at the
// south-east corner.
type WebMercatorProjection struct{}

func NewWebMercatorProjection() *WebMercatorProjection {
	return &WebMercatorProjection{}
}

// webMercator is the projection behind the slippy tile mappings below.
var webMercator = NewWebMercatorProjection()

// Project converts a point on the sphere to a projected 2D point.
func (p *WebMercatorProjection) Project(pt s2.Point) r2.Point {
	return p.FromLatLng(s2.LatLngFromPoint(pt))
}

// Unproject converts a projected 2D point to a point on the sphere.
func (p *WebMercatorProjection) Unproject(pt r2.Point) s2.Point {
	return s2.PointFromLatLng(p.ToLatLng(pt))
}

// FromLatLng returns the LatLng projected into an R2 Point.
func (p *WebMercatorProjection) FromLatLng(ll s2.LatLng) r2.Point {
	y := (1 - math.Asinh(math.Tan(float64(ll.Lat)))/math.Pi) / 2
	return r2.Point{X: ((float64(ll.Lng) / math.Pi) + 1) / 2, Y: y}
}

// ToLatLng returns the LatLng projected from the given R2 Point.
func (p *WebMercatorProjection) ToLatLng(pt r2.Point) s2.LatLng {
	lat := math.Atan(math.Sinh(math.Pi * (1 - 2*pt.Y)))
	return s2.LatLng{Lat: s1.Angle(lat), Lng: s1.Angle((pt.X*2 - 1) * math.Pi)}
}

// Interpolate returns the point obtained by interpolating the given
// fraction of the distance along the line from A to B.
func (p *WebMercatorProjection) Interpolate(f float64, a, b r2.Point) r2.Point {
	return a.Mul(1 - f).Add(b.Mul(f))
}

// WrapDistance reports the coordinate wrapping distance along each axis.
func (p *WebMercatorProjection) WrapDistance() r2.Point {
	return r2.Point{X: 1, Y: 0}
}

func clampLatitude(lat float64) float64 {
	if lat > MaxLatitude {
		return MaxLatitude
	}
	if lat < -MaxLatitude {
		return -MaxLatitude
	}
	return lat
}

func wrapLongitude(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}
	return lon
}

// normalizedSlippy returns the slippy-plane coordinates of (lat, lon) in
// [0,1)², with latitude clamped to the Mercator limits.
func normalizedSlippy(lat, lon float64) (nx, ny float64) {
	lat = clampLatitude(lat)
	lon = wrapLongitude(lon)
	p := webMercator.FromLatLng(s2.LatLngFromDegrees(lat, lon))
	return p.X, p.Y
}

// SlippyAt returns the Web Mercator tile containing (lat, lon) at zoom z.
func SlippyAt(lat, lon float64, z int32) Key {
	k, _, _ := SlippyFracAt(lat, lon, z)
	return k
}

// SlippyFracAt returns the Web Mercator tile containing (lat, lon) at
// zoom z plus the fractional position inside that tile, each in [0,1).
// The fractions are derived by scaling the normalized plane coordinates
// and subtracting the floor, which keeps sub-texel accuracy at deep zoom.
func SlippyFracAt(lat, lon float64, z int32) (Key, float64, float64) {
	nx, ny := normalizedSlippy(lat, lon)
	scale := float64(int64(1) << z)
	sx, sy := nx*scale, ny*scale
	fx, fy := math.Floor(sx), math.Floor(sy)
	k := clampToGrid(int32(fx), int32(fy), z)
	return k, sx - fx, sy - fy
}

// SphericalAt maps latitude linearly to tile-Y, with no Mercator
// stretch. Used only to pick tiles for the spherical globe mesh.
func SphericalAt(lat, lon float64, z int32) Key {
	lon = wrapLongitude(lon)
	scale := float64(int64(1) << z)
	x := int32(math.Floor((lon + 180) / 360 * scale))
	y := int32(math.Floor((90 - lat) / 180 * scale))
	return clampToGrid(x, y, z)
}

func clampToGrid(x, y, z int32) Key {
	max := int32(1) << z
	if x < 0 {
		x = 0
	} else if x >= max {
		x = max - 1
	}
	if y < 0 {
		y = 0
	} else if y >= max {
		y = max - 1
	}
	return Key{X: x, Y: y, Z: z}
}

// GeoBounds returns the geographic rectangle covered by the tile under
// the slippy projection.
func (k Key) GeoBounds() (minLat, maxLat, minLon, maxLon float64) {
	scale := float64(int64(1) << k.Z)
	minLon = float64(k.X)/scale*360 - 180
	maxLon = float64(k.X+1)/scale*360 - 180
	maxLat = slippyYToLat(float64(k.Y) / scale)
	minLat = slippyYToLat(float64(k.Y+1) / scale)
	return minLat, maxLat, minLon, maxLon
}

func slippyYToLat(ny float64) float64 {
	return webMercator.ToLatLng(r2.Point{Y: ny}).Lat.Degrees()
}

// GroundResolution returns the ground distance in meters covered by one
// pixel at the given latitude and zoom.
func GroundResolution(lat float64, z int32) float64 {
	lat = clampLatitude(lat)
	latRad := lat * math.Pi / 180
	return math.Cos(latRad) * 2 * math.Pi * earthRadiusMeters / (Size * float64(int64(1)<<z))
}

// MapScale returns the denominator of the representative map scale at
// the given latitude, zoom and display resolution.
func MapScale(lat float64, z int32, screenDPI float64) float64 {
	return GroundResolution(lat, z) * screenDPI / 0.0254
}
