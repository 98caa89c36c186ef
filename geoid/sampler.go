package geoid

import (
	"encoding/binary"
	"math"
)

// Sample bilinearly interpolates the raster at a native-coordinate point
// and converts the result to meters via the layout's scale and offset.
//
// The fractional pixel position is a linear map from the native extent
// onto a (width-1) x (height-1) grid. Rows are stored top to bottom while
// sampling proceeds bottom to up, so row indices are flipped. The "next"
// pixel index is clamped at the tile edge; there is no wraparound.
//
// Callers must pre-test containment (Contains); Sample does not
// extrapolate and its behavior outside the extent is unspecified.
func (t *Tile) Sample(x, y float64) float64 {
	fx := (x - t.Native.MinX) / (t.Native.MaxX - t.Native.MinX) * float64(t.Width-1)
	fy := (y - t.Native.MinY) / (t.Native.MaxY - t.Native.MinY) * float64(t.Height-1)

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 > t.Width-1 {
		x1 = t.Width - 1
	}
	if y1 > t.Height-1 {
		y1 = t.Height - 1
	}

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	// fy counts rows from the bottom edge; storage counts from the top.
	r0 := t.Height - 1 - y0
	r1 := t.Height - 1 - y1

	v00 := t.raw(x0, r0)
	v10 := t.raw(x1, r0)
	v01 := t.raw(x0, r1)
	v11 := t.raw(x1, r1)

	bottom := v00 + (v10-v00)*tx
	top := v01 + (v11-v01)*tx
	raw := bottom + (top-bottom)*ty

	return raw*t.Layout.Scale + t.Layout.Offset
}

// raw decodes the sample at (col, storedRow) per the layout descriptor.
func (t *Tile) raw(col, row int) float64 {
	order := t.Layout.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	off := (row*t.Width + col) * t.Layout.stride()
	switch t.Layout.Type {
	case Float64:
		return math.Float64frombits(order.Uint64(t.Buffer[off:]))
	case Int16:
		return float64(int16(order.Uint16(t.Buffer[off:])))
	case Uint16:
		return float64(order.Uint16(t.Buffer[off:]))
	case Uint8:
		return float64(t.Buffer[off])
	default:
		return float64(math.Float32frombits(order.Uint32(t.Buffer[off:])))
	}
}
