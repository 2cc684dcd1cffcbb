package render

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/globegl/globeview/tile"
)

func lookAtCamera(position mgl64.Vec3) Camera {
	return Camera{
		Position:   position,
		View:       mgl64.LookAtV(position, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0}),
		Projection: mgl64.Perspective(mgl64.DegToRad(45), 800.0/600.0, 0.001, 10),
		ViewportW:  800,
		ViewportH:  600,
	}
}

// positionAt places the camera at the given altitude over a geographic
// point, matching the world convention lat=asin(y), lon=atan2(x, z).
func positionAt(lat, lon, alt float64) mgl64.Vec3 {
	latR, lonR := lat*math.Pi/180, lon*math.Pi/180
	r := 1 + alt
	return mgl64.Vec3{
		r * math.Cos(latR) * math.Sin(lonR),
		r * math.Sin(latR),
		r * math.Cos(latR) * math.Cos(lonR),
	}
}

func TestZoomForAltitude(t *testing.T) {
	tests := []struct {
		alt  float64
		want int32
	}{
		{2.0, 2},
		{1.0, 3},
		{4.0, 1},
		{8.0, 0},
		{100.0, 0},
		{8.0 / (1 << 17), 17},
		{1e-9, 21},
		{0, 21},
	}
	for _, test := range tests {
		if got := ZoomForAltitude(test.alt, tile.MaxZoom); got != test.want {
			t.Errorf("ZoomForAltitude(%v) = %d, want %d", test.alt, got, test.want)
		}
	}
}

func TestColdGlobeSelectsWholeLevel(t *testing.T) {
	cam := lookAtCamera(mgl64.Vec3{0, 0, 3})
	sel := Select(cam, tile.MaxZoom, 256)
	if sel.Zoom != 2 {
		t.Fatalf("Zoom = %d, want 2", sel.Zoom)
	}
	if !sel.FullLevel || len(sel.Tiles) != 16 {
		t.Fatalf("Expected all 16 tiles at zoom 2, got %d (full=%v)", len(sel.Tiles), sel.FullLevel)
	}
	seen := map[tile.Key]bool{}
	for _, k := range sel.Tiles {
		if !k.Valid() || k.Z != 2 {
			t.Errorf("Bad tile in full-level selection: %v", k)
		}
		seen[k] = true
	}
	if len(seen) != 16 {
		t.Errorf("Duplicate tiles in selection")
	}
}

func TestDeepZoomSelectionIsBounded(t *testing.T) {
	alt := 8.0 / (1 << 17)
	cam := lookAtCamera(positionAt(37.7749, -122.4194, alt))
	sel := Select(cam, tile.MaxZoom, 256)
	if sel.Zoom != 17 {
		t.Fatalf("Zoom = %d, want 17", sel.Zoom)
	}
	if sel.FullLevel {
		t.Fatal("Deep zoom must not select the whole level")
	}
	if len(sel.Tiles) == 0 || len(sel.Tiles) > 256 {
		t.Fatalf("Visible set size %d out of bounds", len(sel.Tiles))
	}
	// The tile under the camera comes first.
	nadir := tile.SphericalAt(37.7749, -122.4194, 17)
	if sel.Tiles[0] != nadir {
		t.Errorf("First tile %v, want nadir tile %v", sel.Tiles[0], nadir)
	}
	for _, k := range sel.Tiles {
		if !k.Valid() || k.Z != 17 {
			t.Errorf("Invalid tile %v in selection", k)
		}
	}
	if !sel.Bounds.Contains(37.7749, -122.4194) {
		t.Errorf("Visible bounds %+v do not contain the nadir", sel.Bounds)
	}
}

func TestNearestToCenterOrdering(t *testing.T) {
	alt := 8.0 / (1 << 12)
	cam := lookAtCamera(positionAt(0, 0, alt))
	sel := Select(cam, tile.MaxZoom, 64)
	center := tile.SphericalAt(0, 0, sel.Zoom)
	side := int32(1) << sel.Zoom
	last := int64(-1)
	for _, k := range sel.Tiles {
		d := tileDistance(k, center, side)
		if d < last {
			t.Fatalf("Selection not ordered by distance: %v after distance %d", k, last)
		}
		last = d
	}
}

// At high latitude the visible-bounds tile midpoint under the slippy
// projection must lie poleward of the nadir tile: the projection
// stretches the northern half of the view over more tile rows.
func TestHighLatitudeWindowCenterPoleward(t *testing.T) {
	cam := lookAtCamera(positionAt(60, 0, 0.125))
	bounds := visibleBounds(cam)
	if !bounds.Contains(60, 0) {
		t.Fatalf("Visible bounds %+v do not contain the nadir", bounds)
	}
	nadir := tile.SlippyAt(60, 0, 15)
	_, cy := bounds.WindowCenter(15)
	if cy >= nadir.Y {
		t.Errorf("Window center y %d must be poleward (smaller) of nadir y %d", cy, nadir.Y)
	}

	south := lookAtCamera(positionAt(-60, 0, 0.125))
	nadirS := tile.SlippyAt(-60, 0, 15)
	_, cyS := visibleBounds(south).WindowCenter(15)
	if cyS <= nadirS.Y {
		t.Errorf("Window center y %d must be poleward (larger) of nadir y %d", cyS, nadirS.Y)
	}
}

func TestRaySphere(t *testing.T) {
	o := mgl64.Vec3{0, 0, 3}
	if p, ok := raySphere(o, mgl64.Vec3{0, 0, -1}); !ok || math.Abs(p.Z()-1) > 1e-12 {
		t.Errorf("Head-on ray should hit the near pole, got %v %v", p, ok)
	}
	if _, ok := raySphere(o, mgl64.Vec3{0, 0, 1}); ok {
		t.Error("Ray pointing away should miss")
	}
	if _, ok := raySphere(o, mgl64.Vec3{0, 1, 0}); ok {
		t.Error("Tangent-missing ray should miss")
	}
	// Limb fallback stays on the sphere.
	p := limbPoint(o, mgl64.Vec3{0, 1, 0})
	if math.Abs(p.Len()-1) > 1e-12 {
		t.Errorf("Limb point not on the sphere: %v", p)
	}
}

func TestCameraNadir(t *testing.T) {
	cam := Camera{Position: positionAt(37.0, -122.0, 0.5)}
	lat, lon := cam.Nadir()
	if math.Abs(lat-37) > 1e-9 || math.Abs(lon+122) > 1e-9 {
		t.Errorf("Nadir = %v,%v", lat, lon)
	}
	if math.Abs(cam.Altitude()-0.5) > 1e-12 {
		t.Errorf("Altitude = %v", cam.Altitude())
	}
}
