// Package render drives the per-frame tile pipeline: visible-set
// selection, coordination of fetch/upload/residency, and the globe
// draw with shader-side fallback.
package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Camera is the pose the core consumes. The globe is a unit sphere
// centered at the origin; the camera controller that produces these
// values lives outside the core.
type Camera struct {
	Position   mgl64.Vec3
	View       mgl64.Mat4
	Projection mgl64.Mat4
	ViewportW  int
	ViewportH  int
}

// Altitude returns the camera height above the unit sphere.
func (c Camera) Altitude() float64 {
	return c.Position.Len() - 1
}

// Nadir returns the geographic point directly under the camera in
// degrees.
func (c Camera) Nadir() (lat, lon float64) {
	p := c.Position.Normalize()
	lat = math.Asin(clamp(p.Y(), -1, 1)) * 180 / math.Pi
	lon = math.Atan2(p.X(), p.Z()) * 180 / math.Pi
	return lat, lon
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
