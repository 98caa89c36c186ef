package i3s

import (
	"math"

	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/quaternion"

	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/geoid"
	"github.com/geocast/i3s/internal/geomath"
)

const (
	// defaultMetersPerPixel is used when no LOD hint yields a finite
	// screen threshold.
	defaultMetersPerPixel = 100000.0

	// screenSpacePixelSize converts meters-per-pixel into a geometric
	// error, reflecting a 16-pixel screen-space trigger size.
	screenSpacePixelSize = 16.0
)

// metric type names as declared by the service.
const (
	metricMaxScreenThreshold   = "maxScreenThreshold"
	metricMaxScreenThresholdSQ = "maxScreenThresholdSQ"
)

// buildTileDefinition synthesizes the node's renderable description:
// bounding volume, geometric error, and local transform. It is a pure
// function of the node's metadata and the parent's cached global
// transform, and caches the rotation pair consumed later by the decode
// pipeline.
func (n *Node) buildTileDefinition() error {
	obb := n.obb()
	mbs := n.mbs()

	boxValid := obb != nil && len(obb.Center) >= 3 && len(obb.HalfSize) >= 3
	sphereValid := len(mbs) >= 4

	var centerGeo [3]float64
	switch {
	case boxValid:
		centerGeo = [3]float64{obb.Center[0], obb.Center[1], obb.Center[2]}
	case sphereValid:
		centerGeo = [3]float64{mbs[0], mbs[1], mbs[2]}
	default:
		return ErrMissingBoundingVolume
	}

	// Vertical-datum correction: first loaded geoid tile containing the
	// position wins.
	height := centerGeo[2] + geoid.Correction(n.layer.provider.GeoidTiles(), centerGeo[0], centerGeo[1])
	n.cartographic = [3]float64{centerGeo[0], centerGeo[1], height}

	lon := centerGeo[0] * math.Pi / 180
	lat := centerGeo[1] * math.Pi / 180
	n.position = geomath.WGS84.CartographicToCartesian(lon, lat, height)

	// Orientation: the ellipsoid-surface heading/pitch/roll-zero frame,
	// overridden by an oriented box's explicit unit quaternion.
	if boxValid && len(obb.Quaternion) >= 4 {
		q := quaternion.T{obb.Quaternion[0], obb.Quaternion[1], obb.Quaternion[2], obb.Quaternion[3]}
		n.rotation = geomath.Mat3FromQuaternion(&q)
	} else {
		n.rotation = geomath.EastNorthUp(lon, lat)
	}
	n.invRotation = geomath.TransposeMat3(&n.rotation)

	// Global pose: orthonormal rotation plus ellipsoid translation, no
	// scale. The engine accumulates transforms down the tree, so the
	// local transform composes with the parent's inverse global.
	n.global = geomath.RigidTransform(&n.rotation, &n.position)
	n.invGlobal = geomath.InvertRigid(&n.global)

	local := n.global
	if n.parent != nil {
		local = geomath.MulMat4(&n.parent.invGlobal, &n.global)
	}

	def := &engine.TileDefinition{
		Transform:  local,
		Refine:     engine.RefineReplace,
		ContentURL: n.resourceURL,
	}

	var span float64
	if boxValid {
		var axes mat3.T
		axes[0][0] = obb.HalfSize[0]
		axes[1][1] = obb.HalfSize[1]
		axes[2][2] = obb.HalfSize[2]
		def.Box = &engine.OrientedBox{HalfAxes: axes}
		span = 2 * math.Max(obb.HalfSize[0], math.Max(obb.HalfSize[1], obb.HalfSize[2]))
	} else {
		def.Sphere = &engine.BoundingSphere{Radius: mbs[3]}
		span = 2 * mbs[3]
	}

	metersPerPixel := defaultMetersPerPixel
	if threshold, ok := n.screenThreshold(); ok && threshold > 0 && !math.IsInf(threshold, 0) && !math.IsNaN(threshold) {
		metersPerPixel = span / threshold
	}
	def.GeometricError = metersPerPixel * screenSpacePixelSize

	for _, child := range n.Children() {
		if child.tileDef != nil {
			def.Children = append(def.Children, child.tileDef)
		}
	}

	n.tileDef = def
	return nil
}

// screenThreshold derives the screen-space threshold in pixels from
// whichever LOD hint the node carries, in priority order: the paged
// scalar threshold interpreted per the layer's declared metric type, then
// the legacy LOD-selection list scanned for a maxScreenThreshold entry.
func (n *Node) screenThreshold() (float64, bool) {
	if raw, ok := n.lodThreshold(); ok {
		metric := ""
		if np := n.layer.doc.NodePages; np != nil {
			metric = np.LODSelectionMetricType
		}
		switch metric {
		case metricMaxScreenThresholdSQ:
			// The squared metric measures screen area; convert to the
			// diameter of the circle with that area.
			return math.Sqrt(raw / (math.Pi * 0.25)), true
		case metricMaxScreenThreshold:
			return raw, true
		default:
			Logger().Warn("i3s unsupported LOD metric, using default geometric error",
				"layer", n.layer.Name(), "node", n.id(), "metric", metric,
				"err", ErrUnsupportedLODMetric)
			return 0, false
		}
	}

	for _, ls := range n.lodSelection() {
		if ls.MetricType == metricMaxScreenThreshold {
			return ls.MaxError, true
		}
	}
	return 0, false
}
