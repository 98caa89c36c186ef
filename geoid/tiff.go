package geoid

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff"
)

// LoadTIFF builds a geoid tile from a TIFF height raster. Gray16 images
// are read directly; other image kinds are converted through the Gray16
// color model. The raw 16-bit values are mapped to meters by scale and
// offset, and the raster is assumed to cover the given native extent with
// its first row at the top edge.
func LoadTIFF(r io.Reader, project Projection, native Extent, scale, offset float64) (*Tile, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("geoid: decode tiff: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	buf := make([]byte, w*h*2)
	switch src := img.(type) {
	case *image.Gray16:
		for row := 0; row < h; row++ {
			copy(buf[row*w*2:], src.Pix[row*src.Stride:row*src.Stride+w*2])
		}
	default:
		gray := image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		copy(buf, gray.Pix)
	}

	t := &Tile{
		Buffer: buf,
		Width:  w,
		Height: h,
		Layout: Layout{
			Type:      Uint16,
			ByteOrder: binary.BigEndian,
			Scale:     scale,
			Offset:    offset,
		},
		Project: project,
		Native:  native,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}
