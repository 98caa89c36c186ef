// Package geoid models the auxiliary height rasters used for
// vertical-datum correction. A geoid tile gives the geoid-to-ellipsoid
// height offset over a region; node positions and decoded vertices add the
// sampled offset to their ellipsoidal height.
//
// Tiles are immutable once built and are read concurrently by many nodes.
package geoid

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// ElementType identifies the storage type of one raster sample.
type ElementType int

const (
	Float32 ElementType = iota
	Float64
	Int16
	Uint16
	Uint8
)

// size returns the element size in bytes.
func (e ElementType) size() int {
	switch e {
	case Float64:
		return 8
	case Int16, Uint16:
		return 2
	case Uint8:
		return 1
	default:
		return 4
	}
}

// Layout describes how raw samples are stored in a tile's buffer and how
// they map to meters.
type Layout struct {
	Type      ElementType
	ByteOrder binary.ByteOrder

	// Stride is the distance in bytes between consecutive samples.
	// Zero means tightly packed.
	Stride int

	// Scale and Offset convert an interpolated raw sample to meters:
	// meters = raw*Scale + Offset.
	Scale  float64
	Offset float64
}

func (l Layout) stride() int {
	if l.Stride > 0 {
		return l.Stride
	}
	return l.Type.size()
}

// Extent is an axis-aligned rectangle in the tile's native projection.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Projection maps geographic degrees to the tile's native coordinates.
type Projection func(lon, lat float64) (x, y float64)

// Tile is a vertical-offset raster. The buffer stores rows top to bottom.
type Tile struct {
	Buffer []byte
	Width  int
	Height int
	Layout Layout

	// Project converts geographic positions into native coordinates
	// before containment testing and sampling. Nil means the native
	// coordinates are geographic degrees.
	Project Projection

	Native Extent
}

// project applies the tile's projection, defaulting to identity.
func (t *Tile) project(lon, lat float64) (float64, float64) {
	if t.Project == nil {
		return lon, lat
	}
	return t.Project(lon, lat)
}

// Contains reports whether the native point lies strictly inside the
// tile's extent. Points on the boundary are excluded so that adjacent
// tiles never both claim a position.
func (t *Tile) Contains(x, y float64) bool {
	return x > t.Native.MinX && x < t.Native.MaxX &&
		y > t.Native.MinY && y < t.Native.MaxY
}

// CorrectionFor projects a geographic position into the tile and, when it
// falls strictly inside the extent, returns the sampled height offset in
// meters. The second result reports containment.
func (t *Tile) CorrectionFor(lon, lat float64) (float64, bool) {
	x, y := t.project(lon, lat)
	if !t.Contains(x, y) {
		return 0, false
	}
	return t.Sample(x, y), true
}

// Correction scans tiles in list order and returns the sampled offset from
// the first tile strictly containing the position. First match wins; there
// is no blending across tiles.
func Correction(tiles []*Tile, lon, lat float64) float64 {
	for _, t := range tiles {
		if c, ok := t.CorrectionFor(lon, lat); ok {
			return c
		}
	}
	return 0
}

// Source provides geoid tiles for a tiling scheme. Only level-0 tiles are
// requested. A nil Source means no vertical correction is applied.
type Source interface {
	Tile(ctx context.Context, tile maptile.Tile) (*Tile, error)
}

// validate reports obvious construction errors; used by loaders.
func (t *Tile) validate() error {
	if t.Width < 2 || t.Height < 2 {
		return fmt.Errorf("geoid: raster must be at least 2x2, got %dx%d", t.Width, t.Height)
	}
	if need := t.Height * t.Width * t.Layout.stride(); len(t.Buffer) < need {
		return fmt.Errorf("geoid: buffer holds %d bytes, need %d", len(t.Buffer), need)
	}
	return nil
}
