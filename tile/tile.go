package tile

import (
	"fmt"
	"strings"
)

const (
	// Size is the edge length in pixels of every tile raster.
	Size = 256
	// MaxZoom is the deepest zoom level the pyramid supports.
	MaxZoom = 21
	// MaxLatitude is the Web Mercator latitude limit in degrees.
	MaxLatitude = 85.05112877980659
)

// Key identifies one tile in the pyramid.
type Key struct {
	X, Y, Z int32
}

// Valid reports whether the key lies inside the pyramid.
func (k Key) Valid() bool {
	if k.Z < 0 || k.Z > MaxZoom {
		return false
	}
	max := int32(1) << k.Z
	return k.X >= 0 && k.X < max && k.Y >= 0 && k.Y < max
}

// WrapX returns the key with X wrapped into [0, 2^z), leaving Y untouched.
func (k Key) WrapX() Key {
	max := int32(1) << k.Z
	w := k
	for w.X < 0 {
		w.X += max
	}
	w.X %= max
	return w
}

// Less orders keys by zoom, then Y, then X.
func (k Key) Less(o Key) bool {
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.X < o.X
}

// Parent returns the covering tile one zoom level up.
func (k Key) Parent() Key {
	if k.Z == 0 {
		return k
	}
	return Key{X: k.X / 2, Y: k.Y / 2, Z: k.Z - 1}
}

// Children returns the four tiles covering k at the next zoom level.
func (k Key) Children() [4]Key {
	z := k.Z + 1
	x, y := k.X*2, k.Y*2
	return [4]Key{
		{X: x, Y: y, Z: z},
		{X: x + 1, Y: y, Z: z},
		{X: x, Y: y + 1, Z: z},
		{X: x + 1, Y: y + 1, Z: z},
	}
}

// Neighbors returns the up to 8 valid adjacent tiles at the same zoom,
// wrapping in X across the antimeridian.
func (k Key) Neighbors() []Key {
	var out []Key
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := Key{X: k.X + dx, Y: k.Y + dy, Z: k.Z}.WrapX()
			if n.Valid() {
				out = append(out, n)
			}
		}
	}
	return out
}

// Quadkey returns the Bing-style quadkey string for the tile.
func (k Key) Quadkey() string {
	var sb strings.Builder
	for i := k.Z; i > 0; i-- {
		digit := byte('0')
		mask := int32(1) << (i - 1)
		if k.X&mask != 0 {
			digit++
		}
		if k.Y&mask != 0 {
			digit += 2
		}
		sb.WriteByte(digit)
	}
	return sb.String()
}

// FromQuadkey parses a quadkey back into a tile key.
func FromQuadkey(q string) (Key, error) {
	z := int32(len(q))
	if z > MaxZoom {
		return Key{}, fmt.Errorf("quadkey too long: %q", q)
	}
	var k Key
	k.Z = z
	for i := z; i > 0; i-- {
		mask := int32(1) << (i - 1)
		switch q[z-i] {
		case '0':
		case '1':
			k.X |= mask
		case '2':
			k.Y |= mask
		case '3':
			k.X |= mask
			k.Y |= mask
		default:
			return Key{}, fmt.Errorf("invalid quadkey digit %q in %q", q[z-i], q)
		}
	}
	return k, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}
