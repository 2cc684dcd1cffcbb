package gpu

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v3.3-core/gl"

	"github.com/globegl/globeview/tile"
)

// GLBackend implements Backend against an OpenGL 3.3 core context.
// Every method must run on the thread that owns the context.
type GLBackend struct{}

func NewGLBackend() *GLBackend { return &GLBackend{} }

func glError(op string) error {
	if err := gl.GetError(); err != gl.NO_ERROR {
		return fmt.Errorf("%s: GL error 0x%04x", op, err)
	}
	return nil
}

func (b *GLBackend) NewTileArray(layers int32) (TextureID, error) {
	var texture uint32
	gl.GenTextures(1, &texture)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, texture)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage3D(gl.TEXTURE_2D_ARRAY, 0, gl.RGBA8,
		tile.Size, tile.Size, layers, 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	if err := glError("allocating tile array"); err != nil {
		gl.DeleteTextures(1, &texture)
		return 0, err
	}
	return texture, nil
}

func (b *GLBackend) TileSubImage(tex TextureID, layer int32, pix []byte) error {
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, tex)
	gl.TexSubImage3D(gl.TEXTURE_2D_ARRAY, 0, 0, 0, layer,
		tile.Size, tile.Size, 1, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix))
	return glError("uploading tile layer")
}

func (b *GLBackend) NewIndexTexture(size int32) (TextureID, error) {
	var texture uint32
	gl.GenTextures(1, &texture)
	gl.BindTexture(gl.TEXTURE_2D, texture)
	// Integer textures must use NEAREST filtering.
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.R16UI, size, size, 0,
		gl.RED_INTEGER, gl.UNSIGNED_SHORT, nil)
	if err := glError("allocating index texture"); err != nil {
		gl.DeleteTextures(1, &texture)
		return 0, err
	}
	return texture, nil
}

func (b *GLBackend) IndexSubImage(tex TextureID, x, y, w, h int32, entries []uint16) error {
	if int(w)*int(h) != len(entries) {
		return fmt.Errorf("index upload region %dx%d does not match %d entries", w, h, len(entries))
	}
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, x, y, w, h,
		gl.RED_INTEGER, gl.UNSIGNED_SHORT, unsafe.Pointer(&entries[0]))
	return glError("uploading index region")
}

func (b *GLBackend) DeleteTexture(tex TextureID) {
	gl.DeleteTextures(1, &tex)
}
