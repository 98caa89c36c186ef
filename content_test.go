package i3s

import (
	"context"
	"sync"
	"testing"

	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/internal/geomath"
)

// captureDecoder records every decode request and returns a fixed mesh.
type captureDecoder struct {
	mu   sync.Mutex
	reqs []*DecodeRequest
}

func (d *captureDecoder) Decode(ctx context.Context, req *DecodeRequest) (*DecodedMesh, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	return &DecodedMesh{Positions: []float64{1, 2, 3}}, nil
}

func (d *captureDecoder) last() *DecodeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reqs) == 0 {
		return nil
	}
	return d.reqs[len(d.reqs)-1]
}

func contentService() map[string]string {
	return map[string]string{
		"http://svc": `{"id": 0, "name": "content",
			"store": {"extent": [0, 0, 10, 10], "rootNode": "./nodes/root",
			          "defaultGeometrySchema": {"topology": "triangle"}}}`,
		"http://svc/nodes/root": `{
			"id": "root", "mbs": [5, 5, 0, 5000],
			"children": [{"href": "../1"}],
			"geometryData": [{"href": "./geometries/0"}],
			"featureData": [{"href": "./features/0"}]
		}`,
		"http://svc/nodes/root/geometries/0": "root-geometry",
		"http://svc/nodes/root/features/0":   "root-features",
		"http://svc/nodes/1": `{
			"id": "1", "mbs": [5.01, 5.01, 10, 1000],
			"geometryData": [{"href": "./geometries/0"}]
		}`,
		"http://svc/nodes/1/geometries/0": "child-geometry",
	}
}

func (n *Node) contentPhase() contentPhase {
	n.content.mu.Lock()
	defer n.content.mu.Unlock()
	return n.content.phase
}

func TestRequestContentLifecycle(t *testing.T) {
	bin := NewMemoryBinarizer()
	dec := &captureDecoder{}
	p := bootstrapProvider(t, newMapFetcher(contentService()),
		WithDecoder(dec), WithBinarizer(bin))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestIssued {
		t.Fatalf("first request = %v, want RequestIssued", status)
	}
	if status := root.RequestContent(context.Background(), tile); status != engine.RequestAlreadyIssued {
		t.Errorf("second request = %v, want RequestAlreadyIssued", status)
	}

	waitFor(t, "content ready", func() bool { return tile.ContentURL() != "" })

	url, ok := root.ContentURL()
	if !ok || url != tile.ContentURL() {
		t.Errorf("node locator %q (ok=%v), tile locator %q", url, ok, tile.ContentURL())
	}
	asset, ok := bin.Take(url)
	if !ok {
		t.Fatalf("no asset behind %q", url)
	}
	if len(asset.Mesh.Positions) != 3 {
		t.Errorf("asset mesh = %+v", asset.Mesh)
	}
	if _, ok := bin.Take(url); ok {
		t.Error("locator served twice; locators are single-use")
	}

	// A completed node never re-synthesizes.
	if status := root.RequestContent(context.Background(), tile); status != engine.RequestAlreadyIssued {
		t.Errorf("post-ready request = %v, want RequestAlreadyIssued", status)
	}
	dec.mu.Lock()
	runs := len(dec.reqs)
	dec.mu.Unlock()
	if runs != 1 {
		t.Errorf("decoder ran %d times, want 1", runs)
	}
}

func TestRequestContentConcurrent(t *testing.T) {
	p := bootstrapProvider(t, newMapFetcher(contentService()))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	const callers = 8
	statuses := make([]engine.RequestStatus, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = root.RequestContent(context.Background(), tile)
		}()
	}
	wg.Wait()

	issued := 0
	for _, s := range statuses {
		if s == engine.RequestIssued {
			issued++
		} else if s != engine.RequestAlreadyIssued {
			t.Errorf("unexpected status %v", s)
		}
	}
	if issued != 1 {
		t.Errorf("%d callers issued, want exactly 1", issued)
	}
}

func TestRequestContentFailure(t *testing.T) {
	data := contentService()
	delete(data, "http://svc/nodes/root/geometries/0")
	p := bootstrapProvider(t, newMapFetcher(data))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestIssued {
		t.Fatalf("first request = %v, want RequestIssued", status)
	}
	waitFor(t, "terminal failure", func() bool { return root.contentPhase() == contentFailed })

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestFailed {
		t.Errorf("post-failure request = %v, want RequestFailed", status)
	}
	if url := tile.ContentURL(); url != "" {
		t.Errorf("failed tile has content %q", url)
	}
}

func TestRequestContentPostponedOnSaturation(t *testing.T) {
	fetcher := newMapFetcher(contentService())
	p := bootstrapProvider(t, fetcher, WithDecodeWorkers(1))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	// Occupy the single worker, then fill the one-slot queue.
	started := make(chan struct{})
	release := make(chan struct{})
	if err := p.pool.TrySubmit(func() { close(started); <-release }); err != nil {
		t.Fatalf("occupy worker: %v", err)
	}
	<-started
	if err := p.pool.TrySubmit(func() {}); err != nil {
		t.Fatalf("fill queue: %v", err)
	}

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestIssued {
		t.Fatalf("request = %v, want RequestIssued", status)
	}
	waitFor(t, "postponement", func() bool {
		root.content.mu.Lock()
		defer root.content.mu.Unlock()
		return root.content.phase == contentIdle && root.content.payloads != nil
	})
	geomFetches := fetcher.count("http://svc/nodes/root/geometries/0")
	if geomFetches != 1 {
		t.Fatalf("geometry fetched %d times before retry, want 1", geomFetches)
	}

	close(release)

	// The engine re-requests on later frames until the pool accepts the
	// dispatch; the retry reuses cached payloads instead of refetching.
	waitFor(t, "content ready", func() bool {
		if tile.ContentURL() != "" {
			return true
		}
		root.RequestContent(context.Background(), tile)
		return false
	})
	if got := fetcher.count("http://svc/nodes/root/geometries/0"); got != 1 {
		t.Errorf("geometry fetched %d times in total, want 1", got)
	}
}

func TestRequestContentDestroyedTileDiscards(t *testing.T) {
	p := bootstrapProvider(t, newMapFetcher(contentService()))
	defer p.Destroy()
	layer := p.Layers()[0]
	root := layer.RootNode()
	tile := root.Tile()

	layer.Tileset().Destroy()

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestIssued {
		t.Fatalf("request = %v, want RequestIssued", status)
	}
	waitFor(t, "discard", func() bool { return root.contentPhase() == contentIdle })
	if url := tile.ContentURL(); url != "" {
		t.Errorf("destroyed tile has content %q", url)
	}
}

func TestContentWithoutGeometryIsPlaceholder(t *testing.T) {
	bin := NewMemoryBinarizer()
	data := map[string]string{
		"http://svc":            `{"id": 0, "store": {"extent": [0, 0, 10, 10], "rootNode": "./nodes/root"}}`,
		"http://svc/nodes/root": `{"id": "root", "mbs": [5, 5, 0, 5000]}`,
	}
	p := bootstrapProvider(t, newMapFetcher(data), WithBinarizer(bin))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	if status := root.RequestContent(context.Background(), tile); status != engine.RequestIssued {
		t.Fatalf("request = %v, want RequestIssued", status)
	}
	waitFor(t, "placeholder", func() bool { return tile.ContentURL() != "" })

	asset, ok := bin.Take(tile.ContentURL())
	if !ok {
		t.Fatal("no placeholder asset")
	}
	if len(asset.Mesh.Positions) != 0 {
		t.Errorf("placeholder mesh has %d positions", len(asset.Mesh.Positions))
	}
}

func TestDecodeRequestCarriesRootFrame(t *testing.T) {
	dec := &captureDecoder{}
	p := bootstrapProvider(t, newMapFetcher(contentService()), WithDecoder(dec))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()
	tile := root.Tile()

	root.RequestContent(context.Background(), tile)
	waitFor(t, "decode", func() bool { return dec.last() != nil })

	req := dec.last()
	if string(req.Geometry) != "root-geometry" {
		t.Errorf("geometry payload = %q", req.Geometry)
	}
	if string(req.Features) != "root-features" {
		t.Errorf("features payload = %q", req.Features)
	}
	if string(req.Schema) != `{"topology": "triangle"}` {
		t.Errorf("schema = %s", req.Schema)
	}
	if req.GeometryURL != "http://svc/nodes/root/geometries/0" {
		t.Errorf("geometry URL = %q", req.GeometryURL)
	}
	if req.EllipsoidRadiiSquared != geomath.WGS84.RadiiSquared() {
		t.Errorf("radii squared = %v", req.EllipsoidRadiiSquared)
	}
	// The root is its own decode-local origin.
	if req.ParentCartographic != root.cartographic {
		t.Errorf("origin = %v, want %v", req.ParentCartographic, root.cartographic)
	}
	if req.ParentPosition != root.position {
		t.Errorf("origin position = %v, want %v", req.ParentPosition, root.position)
	}
	want := geomath.MulMat3(&axisRealignment, &root.invRotation)
	if !mat3Near(&req.RelativeRotation, &want) {
		t.Errorf("relative rotation = %v, want %v", req.RelativeRotation, want)
	}
}

func TestDecodeRequestCarriesParentFrame(t *testing.T) {
	dec := &captureDecoder{}
	p := bootstrapProvider(t, newMapFetcher(contentService()), WithDecoder(dec))
	defer p.Destroy()
	root := p.Layers()[0].RootNode()

	if err := root.loadChildren(context.Background()); err != nil {
		t.Fatalf("loadChildren: %v", err)
	}
	child := root.Children()[0]

	child.RequestContent(context.Background(), child.Tile())
	waitFor(t, "decode", func() bool { return dec.last() != nil })

	req := dec.last()
	if string(req.Geometry) != "child-geometry" {
		t.Errorf("geometry payload = %q", req.Geometry)
	}
	// Child vertices decode relative to the parent's frame, not the
	// child's own.
	if req.ParentCartographic != root.cartographic {
		t.Errorf("origin = %v, want parent %v", req.ParentCartographic, root.cartographic)
	}
	if req.ParentPosition != root.position {
		t.Errorf("origin position = %v, want parent %v", req.ParentPosition, root.position)
	}
	want := geomath.MulMat3(&axisRealignment, &root.invRotation)
	if !mat3Near(&req.RelativeRotation, &want) {
		t.Errorf("relative rotation not built from the parent frame")
	}
}

func TestMemoryBinarizerSequence(t *testing.T) {
	bin := NewMemoryBinarizer()
	a, err := bin.Write(&Asset{Mesh: &DecodedMesh{}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := bin.Write(&Asset{Mesh: &DecodedMesh{}})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("locators collide: %q", a)
	}
	if a != "i3s-asset://1" || b != "i3s-asset://2" {
		t.Errorf("locators = %q, %q", a, b)
	}
}
