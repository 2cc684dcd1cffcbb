package gpu

import (
	"fmt"

	"github.com/globegl/globeview/tile"
)

// MemBackend implements Backend entirely in CPU memory. It backs
// headless runs (cache seeding, benchmarks) and tests, mirroring what
// the GL backend would hold on the GPU.
type MemBackend struct {
	// FailTileUploads makes TileSubImage return an error, simulating
	// a GL upload failure.
	FailTileUploads bool

	nextID     TextureID
	tileArrays map[TextureID][][]byte
	indexData  map[TextureID][]uint16
	indexSide  map[TextureID]int32
	uploads    int
}

func NewMemBackend() *MemBackend {
	return &MemBackend{
		nextID:     1,
		tileArrays: make(map[TextureID][][]byte),
		indexData:  make(map[TextureID][]uint16),
		indexSide:  make(map[TextureID]int32),
	}
}

func (b *MemBackend) NewTileArray(layers int32) (TextureID, error) {
	id := b.nextID
	b.nextID++
	b.tileArrays[id] = make([][]byte, layers)
	return id, nil
}

func (b *MemBackend) TileSubImage(tex TextureID, layer int32, pix []byte) error {
	if b.FailTileUploads {
		return fmt.Errorf("simulated upload failure")
	}
	layers, ok := b.tileArrays[tex]
	if !ok || int(layer) >= len(layers) {
		return fmt.Errorf("bad tile upload: tex %d layer %d", tex, layer)
	}
	if len(pix) != tile.Size*tile.Size*4 {
		return fmt.Errorf("bad tile upload size %d", len(pix))
	}
	layers[layer] = append([]byte(nil), pix...)
	b.uploads++
	return nil
}

func (b *MemBackend) NewIndexTexture(size int32) (TextureID, error) {
	id := b.nextID
	b.nextID++
	b.indexData[id] = make([]uint16, int(size)*int(size))
	b.indexSide[id] = size
	return id, nil
}

func (b *MemBackend) IndexSubImage(tex TextureID, x, y, w, h int32, entries []uint16) error {
	data, ok := b.indexData[tex]
	if !ok {
		return fmt.Errorf("unknown index texture %d", tex)
	}
	side := b.indexSide[tex]
	if x < 0 || y < 0 || x+w > side || y+h > side || int(w)*int(h) != len(entries) {
		return fmt.Errorf("bad index upload region %d,%d %dx%d", x, y, w, h)
	}
	for row := int32(0); row < h; row++ {
		dst := data[int(y+row)*int(side)+int(x):]
		copy(dst[:w], entries[int(row)*int(w):int(row+1)*int(w)])
	}
	return nil
}

func (b *MemBackend) DeleteTexture(tex TextureID) {
	delete(b.tileArrays, tex)
	delete(b.indexData, tex)
	delete(b.indexSide, tex)
}

// TileLayer returns the pixels last uploaded to a layer, or nil.
func (b *MemBackend) TileLayer(tex TextureID, layer uint16) []byte {
	layers, ok := b.tileArrays[tex]
	if !ok || int(layer) >= len(layers) {
		return nil
	}
	return layers[layer]
}

// IndexData returns the current contents of an index texture.
func (b *MemBackend) IndexData(tex TextureID) []uint16 {
	return b.indexData[tex]
}

// TileUploads returns the number of successful tile uploads.
func (b *MemBackend) TileUploads() int { return b.uploads }
