package fetch

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/globegl/globeview/metrics"
	"github.com/globegl/globeview/tile"
)

// Decode turns an encoded tile payload into a tightly packed RGBA
// raster. Payloads that do not decode to exactly Size×Size pixels are
// rejected; the pool never handles mixed tile sizes.
func Decode(k tile.Key, encoded []byte) (*tile.Raster, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, &Error{Kind: KindDecode, Key: k, Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() != tile.Size || bounds.Dy() != tile.Size {
		metrics.DecodeFailures.Inc()
		return nil, &Error{Kind: KindDecode, Key: k,
			Err: fmt.Errorf("tile decoded to %dx%d", bounds.Dx(), bounds.Dy())}
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != tile.Size*4 || bounds.Min != (image.Point{}) {
		converted := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))
		draw.Draw(converted, converted.Bounds(), img, bounds.Min, draw.Src)
		rgba = converted
	}
	return tile.NewRaster(k, rgba.Pix)
}
