package engine

import (
	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/vec3"
)

// RefineMode selects how children replace their parent during LOD
// traversal.
type RefineMode int

const (
	// RefineReplace renders children instead of the parent once refined.
	RefineReplace RefineMode = iota

	// RefineAdd renders children in addition to the parent.
	RefineAdd
)

// OrientedBox is a bounding box described by its center and three
// half-axes (columns of HalfAxes), all in the tile's frame.
type OrientedBox struct {
	Center   vec3.T
	HalfAxes mat3.T
}

// BoundingSphere is a center and radius in the tile's frame.
type BoundingSphere struct {
	Center vec3.T
	Radius float64
}

// TileDefinition is the renderable description of one tile, synthesized by
// the provider from a node's metadata. Exactly one of Box and Sphere is
// non-nil.
type TileDefinition struct {
	Box    *OrientedBox
	Sphere *BoundingSphere

	// GeometricError is the screen-space refinement metric in meters.
	GeometricError float64

	// Transform is the tile's local transform, relative to the parent
	// tile's accumulated global transform. For a root tile it equals
	// the global transform.
	Transform mat4.T

	Refine RefineMode

	// ContentURL locates the tile's content resource; empty when the
	// node resolved no resource.
	ContentURL string

	Children []*TileDefinition
}
