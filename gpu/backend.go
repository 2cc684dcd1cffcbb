// Package gpu manages GPU residency for tile rasters: a fixed pool of
// texture-array layers and per-zoom indirection grids that map tile
// coordinates to pool layers.
package gpu

// TextureID identifies a texture object in the active backend.
type TextureID = uint32

// Backend abstracts the texture operations the pool and indirection
// tables need. The GL implementation must only be used on the thread
// that owns the GL context; tests substitute an in-memory fake.
type Backend interface {
	// NewTileArray allocates a layered RGBA8 texture of
	// tile.Size×tile.Size×layers.
	NewTileArray(layers int32) (TextureID, error)
	// TileSubImage replaces one layer with a tightly packed RGBA
	// raster of tile.Size×tile.Size.
	TileSubImage(tex TextureID, layer int32, pix []byte) error
	// NewIndexTexture allocates a size×size single-channel 16-bit
	// unsigned integer texture.
	NewIndexTexture(size int32) (TextureID, error)
	// IndexSubImage replaces the w×h region at (x, y) with entries,
	// given in row-major order.
	IndexSubImage(tex TextureID, x, y, w, h int32, entries []uint16) error
	// DeleteTexture releases a texture object.
	DeleteTexture(tex TextureID)
}
