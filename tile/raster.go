package tile

import "fmt"

// Raster is a decoded tile image: Size×Size pixels, 4 bytes per pixel,
// tightly packed RGBA. Immutable after decode.
type Raster struct {
	Key Key
	Pix []byte
}

// NewRaster wraps a pixel buffer, rejecting anything that is not a
// tightly packed Size×Size RGBA image.
func NewRaster(k Key, pix []byte) (*Raster, error) {
	if len(pix) != Size*Size*4 {
		return nil, fmt.Errorf("raster for %v has %d bytes, want %d", k, len(pix), Size*Size*4)
	}
	return &Raster{Key: k, Pix: pix}, nil
}

// SizeBytes returns the memory footprint of the pixel buffer.
func (r *Raster) SizeBytes() int64 {
	return int64(len(r.Pix))
}
