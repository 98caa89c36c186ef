package i3s

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/mat4"

	"github.com/geocast/i3s/geoid"
	"github.com/geocast/i3s/internal/geomath"
)

func newTestLayer(t *testing.T, doc *LayerDocument) *Layer {
	t.Helper()
	p := New("http://svc", WithFetcher(newMapFetcher(nil)))
	t.Cleanup(p.Destroy)
	return newLayer(p, doc, "http://svc")
}

func pagedTestNode(l *Layer, rec *PagedNode) *Node {
	n := newPagedNode(l, nil, 0)
	n.paged = rec
	return n
}

func TestGeometricErrorFromScreenThreshold(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{
		NodePages: &NodePageDescriptor{LODSelectionMetricType: "maxScreenThreshold"},
	})
	n := pagedTestNode(l, &PagedNode{
		OBB: &OBB{
			Center:   []float64{8.0, 47.0, 100.0},
			HalfSize: []float64{20000, 20000, 500},
		},
		LODThreshold: 2,
	})

	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	// Span 40000m over a 2px threshold gives 20000 m/px, scaled by the
	// 16px trigger size.
	if got := n.tileDef.GeometricError; got != 320000 {
		t.Errorf("geometric error = %v, want 320000", got)
	}
	if n.tileDef.Box == nil {
		t.Fatal("no oriented box")
	}
	if n.tileDef.Sphere != nil {
		t.Error("both bounding volumes set")
	}
}

func TestGeometricErrorSquaredMetric(t *testing.T) {
	// The squared metric stores screen area; a circle of area pi*0.25*4
	// has diameter 2, matching the linear-metric case above.
	l := newTestLayer(t, &LayerDocument{
		NodePages: &NodePageDescriptor{LODSelectionMetricType: "maxScreenThresholdSQ"},
	})
	n := pagedTestNode(l, &PagedNode{
		OBB: &OBB{
			Center:   []float64{8.0, 47.0, 100.0},
			HalfSize: []float64{20000, 20000, 500},
		},
		LODThreshold: math.Pi * 0.25 * 4,
	})

	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	if got := n.tileDef.GeometricError; math.Abs(got-320000) > 1e-6 {
		t.Errorf("geometric error = %v, want 320000", got)
	}
}

func TestGeometricErrorDefaults(t *testing.T) {
	tests := []struct {
		name  string
		layer *LayerDocument
		node  *PagedNode
	}{
		{
			name:  "no threshold",
			layer: &LayerDocument{NodePages: &NodePageDescriptor{LODSelectionMetricType: "maxScreenThreshold"}},
			node: &PagedNode{
				OBB: &OBB{Center: []float64{0, 0, 0}, HalfSize: []float64{10, 10, 10}},
			},
		},
		{
			name:  "unsupported metric",
			layer: &LayerDocument{NodePages: &NodePageDescriptor{LODSelectionMetricType: "screenSpaceRelative"}},
			node: &PagedNode{
				OBB:          &OBB{Center: []float64{0, 0, 0}, HalfSize: []float64{10, 10, 10}},
				LODThreshold: 2,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLayer(t, tt.layer)
			n := pagedTestNode(l, tt.node)
			if err := n.buildTileDefinition(); err != nil {
				t.Fatalf("buildTileDefinition: %v", err)
			}
			want := defaultMetersPerPixel * screenSpacePixelSize
			if got := n.tileDef.GeometricError; got != want {
				t.Errorf("geometric error = %v, want default %v", got, want)
			}
		})
	}
}

func TestLegacyScreenThresholdScan(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{})
	n := &Node{layer: l, pageIndex: -1, doc: &NodeDocument{
		MBS: []float64{8, 47, 0, 1000},
		LODSelection: []LODSelection{
			{MetricType: "distanceRangeFromDefaultCamera", MaxError: 9},
			{MetricType: "maxScreenThreshold", MaxError: 40},
		},
	}}

	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	// Sphere span 2000m over 40px, times the 16px trigger size.
	if got := n.tileDef.GeometricError; got != 800 {
		t.Errorf("geometric error = %v, want 800", got)
	}
	if n.tileDef.Sphere == nil || n.tileDef.Sphere.Radius != 1000 {
		t.Errorf("sphere = %+v", n.tileDef.Sphere)
	}
}

func TestMissingBoundingVolume(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{})
	tests := []struct {
		name string
		doc  *NodeDocument
	}{
		{"empty node", &NodeDocument{}},
		{"short mbs", &NodeDocument{MBS: []float64{8, 47, 0}}},
		{"short obb", &NodeDocument{OBB: &OBB{Center: []float64{8, 47}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Node{layer: l, pageIndex: -1, doc: tt.doc}
			if err := n.buildTileDefinition(); err != ErrMissingBoundingVolume {
				t.Errorf("err = %v, want ErrMissingBoundingVolume", err)
			}
		})
	}
}

func TestOrientationFromQuaternion(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{NodePages: &NodePageDescriptor{}})
	n := pagedTestNode(l, &PagedNode{
		OBB: &OBB{
			Center:     []float64{8, 47, 0},
			HalfSize:   []float64{1, 1, 1},
			Quaternion: []float64{0, 0, 0, 1},
		},
	})
	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	if !mat3Near(&n.rotation, &mat3.Ident) {
		t.Errorf("identity quaternion rotation = %v", n.rotation)
	}
}

func TestOrientationDefaultsToSurfaceFrame(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{NodePages: &NodePageDescriptor{}})
	n := pagedTestNode(l, &PagedNode{
		OBB: &OBB{Center: []float64{8, 47, 0}, HalfSize: []float64{1, 1, 1}},
	})
	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	want := geomath.EastNorthUp(8*math.Pi/180, 47*math.Pi/180)
	if !mat3Near(&n.rotation, &want) {
		t.Errorf("rotation = %v, want surface frame %v", n.rotation, want)
	}
	inv := geomath.TransposeMat3(&want)
	if !mat3Near(&n.invRotation, &inv) {
		t.Errorf("inverse rotation not the transpose")
	}
}

func TestLocalTransformComposition(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{})
	root := &Node{layer: l, pageIndex: -1, doc: &NodeDocument{
		MBS: []float64{8, 47, 0, 5000},
	}}
	if err := root.buildTileDefinition(); err != nil {
		t.Fatalf("root: %v", err)
	}
	if root.tileDef.Transform != root.global {
		t.Error("root local transform is not its global transform")
	}

	child := &Node{layer: l, parent: root, level: 1, pageIndex: -1, doc: &NodeDocument{
		MBS: []float64{8.01, 47.01, 20, 1000},
	}}
	if err := child.buildTileDefinition(); err != nil {
		t.Fatalf("child: %v", err)
	}

	// Accumulating the root's global over the child's local transform
	// must land back on the child's global pose.
	got := geomath.MulMat4(&root.global, &child.tileDef.Transform)
	if !mat4Near(&got, &child.global) {
		t.Errorf("parent.global * child.local = %v, want %v", got, child.global)
	}
}

func TestBoundingBoxHalfAxes(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{NodePages: &NodePageDescriptor{}})
	n := pagedTestNode(l, &PagedNode{
		OBB: &OBB{Center: []float64{0, 0, 0}, HalfSize: []float64{10, 20, 30}},
	})
	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	axes := n.tileDef.Box.HalfAxes
	if axes[0][0] != 10 || axes[1][1] != 20 || axes[2][2] != 30 {
		t.Errorf("half axes diagonal = %v %v %v", axes[0][0], axes[1][1], axes[2][2])
	}
}

func TestGeoidCorrectionAppliedToHeight(t *testing.T) {
	l := newTestLayer(t, &LayerDocument{})
	p := l.provider

	// A flat 7.25m offset raster covering the node position.
	buf := make([]byte, 4*8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(7.25))
	}
	p.mu.Lock()
	p.geoidTiles = []*geoid.Tile{{
		Buffer: buf,
		Width:  2,
		Height: 2,
		Layout: geoid.Layout{Type: geoid.Float64, Scale: 1},
		Native: geoid.Extent{MinX: 0, MinY: 40, MaxX: 20, MaxY: 50},
	}}
	p.geoidLoaded = true
	p.mu.Unlock()

	n := &Node{layer: l, pageIndex: -1, doc: &NodeDocument{
		MBS: []float64{8, 47, 100, 1000},
	}}
	if err := n.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	if got := n.cartographic[2]; got != 107.25 {
		t.Errorf("corrected height = %v, want 107.25", got)
	}

	// Outside the raster no correction applies.
	far := &Node{layer: l, pageIndex: -1, doc: &NodeDocument{
		MBS: []float64{100, -30, 100, 1000},
	}}
	if err := far.buildTileDefinition(); err != nil {
		t.Fatalf("buildTileDefinition: %v", err)
	}
	if got := far.cartographic[2]; got != 100 {
		t.Errorf("uncorrected height = %v, want 100", got)
	}
}

func mat3Near(a, b *mat3.T) bool {
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			if math.Abs(a[c][r]-b[c][r]) > 1e-9 {
				return false
			}
		}
	}
	return true
}

func mat4Near(a, b *mat4.T) bool {
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			// Translations are earth-radius sized; compare loosely.
			if math.Abs(a[c][r]-b[c][r]) > 1e-6 {
				return false
			}
		}
	}
	return true
}
