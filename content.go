package i3s

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/vec3"
	"golang.org/x/sync/errgroup"

	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/geoid"
	"github.com/geocast/i3s/internal/geomath"
)

// contentPhase is the per-node content request state:
// Idle -> Requested -> Decoding -> Ready, with Failed terminal and a
// saturation refusal returning Decoding work to Idle for a later retry.
type contentPhase int

const (
	contentIdle contentPhase = iota
	contentRequested
	contentDecoding
	contentReady
	contentFailed
)

type contentState struct {
	mu    sync.Mutex
	phase contentPhase
	url   string

	// payloads caches fetched geometry/feature buffers across a decode
	// postponement so the retry skips refetching.
	payloads *contentPayloads
}

type contentPayloads struct {
	geometry    []byte
	features    []byte
	geometryURL string
}

// DecodeRequest carries everything the external geometry codec needs to
// decode one node's geometry buffer into mesh data, including the geoid
// tiles for per-vertex height correction and the parent node's frame as
// the decode-local origin.
type DecodeRequest struct {
	Geometry []byte

	// Features is the first feature payload's data, nil when the node
	// declares none.
	Features []byte

	// Schema is the layer's declared geometry schema, raw.
	Schema json.RawMessage

	// BufferInfo is the selected geometry buffer's layout description,
	// raw; nil for legacy nodes.
	BufferInfo json.RawMessage

	EllipsoidRadiiSquared vec3.T
	GeometryURL           string
	GeoidTiles            []*geoid.Tile

	// ParentCartographic and ParentPosition locate the decode-local
	// origin: the parent node's corrected position, not this node's own.
	ParentCartographic [3]float64
	ParentPosition     vec3.T

	// RelativeRotation re-expresses vertex data from the east-north-up
	// convention into the target local frame: the fixed axis
	// realignment composed with the inverse of the parent's rotation.
	RelativeRotation mat3.T
}

// DecodedMesh is the codec's output, consumed by the asset binarizer.
type DecodedMesh struct {
	Positions  []float64
	Normals    []float32
	UVs        []float32
	Colors     []uint8
	Indices    []uint32
	FeatureIDs []uint64
}

// GeometryDecoder is the external binary geometry codec.
type GeometryDecoder interface {
	Decode(ctx context.Context, req *DecodeRequest) (*DecodedMesh, error)
}

// placeholderDecoder stands in when no codec is injected; every node
// decodes to an empty mesh.
type placeholderDecoder struct{}

func (placeholderDecoder) Decode(context.Context, *DecodeRequest) (*DecodedMesh, error) {
	return &DecodedMesh{}, nil
}

// Asset is the minimal renderable-asset description handed to the
// binarizer.
type Asset struct {
	Mesh *DecodedMesh
	URL  string
}

// Binarizer serializes an asset and returns its content locator.
type Binarizer interface {
	Write(asset *Asset) (string, error)
}

// MemoryBinarizer keeps assets in memory behind synthetic single-use
// i3s-asset:// locators. It is the default Binarizer.
type MemoryBinarizer struct {
	mu     sync.Mutex
	seq    int
	assets map[string]*Asset
}

func NewMemoryBinarizer() *MemoryBinarizer {
	return &MemoryBinarizer{assets: make(map[string]*Asset)}
}

func (b *MemoryBinarizer) Write(a *Asset) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	url := fmt.Sprintf("i3s-asset://%d", b.seq)
	b.assets[url] = a
	return url, nil
}

// Take retrieves and removes an asset; locators are single-use.
func (b *MemoryBinarizer) Take(url string) (*Asset, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.assets[url]
	if ok {
		delete(b.assets, url)
	}
	return a, ok
}

// axisRealignment rotates decoded east-north-up vertex data into the
// engine's local frame (-90 degrees about x).
var axisRealignment = mat3.T{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}}

// RequestContent bridges the host engine's per-tile content protocol onto
// the decode pipeline. The first request starts content synthesis and
// reports the request outstanding; a request observed while synthesis is
// in flight (or already complete) issues nothing new. Synthesis runs at
// most once per node; a pool-saturation postponement returns the state to
// Idle so the engine's next request retries the dispatch.
func (n *Node) RequestContent(ctx context.Context, tile engine.Tile) engine.RequestStatus {
	st := &n.content
	st.mu.Lock()
	switch st.phase {
	case contentRequested, contentDecoding, contentReady:
		st.mu.Unlock()
		return engine.RequestAlreadyIssued
	case contentFailed:
		st.mu.Unlock()
		return engine.RequestFailed
	}
	st.phase = contentRequested
	st.mu.Unlock()

	go n.synthesizeContent(context.WithoutCancel(ctx), tile)
	return engine.RequestIssued
}

// ContentURL returns the synthesized content locator once ready.
func (n *Node) ContentURL() (string, bool) {
	n.content.mu.Lock()
	defer n.content.mu.Unlock()
	return n.content.url, n.content.phase == contentReady
}

func (n *Node) synthesizeContent(ctx context.Context, tile engine.Tile) {
	if tile.IsDestroyed() {
		n.discardContent()
		return
	}

	payloads, err := n.loadContentPayloads(ctx)
	if err != nil {
		n.failContent(err)
		return
	}

	// No geometry: synthesize an empty placeholder asset, no decode.
	if len(payloads.geometry) == 0 {
		n.finishContent(tile, &Asset{Mesh: &DecodedMesh{}, URL: payloads.geometryURL})
		return
	}

	p := n.layer.provider
	req := n.decodeRequest(payloads)

	st := &n.content
	st.mu.Lock()
	st.phase = contentDecoding
	st.mu.Unlock()

	job := func() {
		if tile.IsDestroyed() {
			n.discardContent()
			return
		}
		mesh, err := p.decoder.Decode(ctx, req)
		if err != nil {
			n.failContent(err)
			return
		}
		n.finishContent(tile, &Asset{Mesh: mesh, URL: req.GeometryURL})
	}

	if err := p.pool.TrySubmit(job); err != nil {
		// Saturated: postponed, not failed. Keep the fetched payloads
		// so the engine's retry goes straight back to dispatch.
		p.metrics.decodePostponed.Inc()
		st.mu.Lock()
		st.phase = contentIdle
		st.payloads = payloads
		st.mu.Unlock()
		return
	}
	p.metrics.decodeDispatches.Inc()
}

// loadContentPayloads concurrently fetches the node's geometry and
// feature payloads, reusing buffers cached by a postponed dispatch.
func (n *Node) loadContentPayloads(ctx context.Context) (*contentPayloads, error) {
	n.content.mu.Lock()
	cached := n.content.payloads
	n.content.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	p := n.layer.provider
	out := &contentPayloads{geometryURL: n.geometryURL()}

	g, gctx := errgroup.WithContext(ctx)
	if out.geometryURL != "" {
		g.Go(func() error {
			data, err := p.fetchBinary(gctx, out.geometryURL)
			if err != nil {
				return err
			}
			out.geometry = data
			return nil
		})
	}
	if n.doc != nil && n.resourceURL != "" {
		for i, res := range n.doc.FeatureData {
			i, res := i, res
			g.Go(func() error {
				data, err := p.fetchBinary(gctx, resolveHref(n.resourceURL, res.Href))
				if err != nil {
					return err
				}
				if i == 0 {
					out.features = data
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// geometryURL resolves the node's geometry payload address: the selected
// buffer of a paged mesh, or the first legacy geometryData reference.
func (n *Node) geometryURL() string {
	if n.resourceURL == "" {
		return ""
	}
	if n.paged != nil {
		if n.paged.Mesh == nil || n.paged.Mesh.Geometry == nil {
			return ""
		}
		idx, _ := n.layer.selectBestGeometryBuffer(n.paged.Mesh)
		return fmt.Sprintf("%s/geometry/%d", n.resourceURL, idx)
	}
	if n.doc != nil && len(n.doc.GeometryData) > 0 {
		return resolveHref(n.resourceURL, n.doc.GeometryData[0].Href)
	}
	return ""
}

func (n *Node) decodeRequest(payloads *contentPayloads) *DecodeRequest {
	// The decode-local origin is the parent's frame; the root is its own
	// origin.
	parent := n.parent
	if parent == nil {
		parent = n
	}

	var bufferInfo json.RawMessage
	if n.paged != nil {
		if _, buf := n.layer.selectBestGeometryBuffer(n.paged.Mesh); buf != nil {
			bufferInfo = buf.Raw
		}
	}

	return &DecodeRequest{
		Geometry:              payloads.geometry,
		Features:              payloads.features,
		Schema:                n.layer.geometrySchema(),
		BufferInfo:            bufferInfo,
		EllipsoidRadiiSquared: geomath.WGS84.RadiiSquared(),
		GeometryURL:           payloads.geometryURL,
		GeoidTiles:            n.layer.provider.GeoidTiles(),
		ParentCartographic:    parent.cartographic,
		ParentPosition:        parent.position,
		RelativeRotation:      geomath.MulMat3(&axisRealignment, &parent.invRotation),
	}
}

func (n *Node) finishContent(tile engine.Tile, asset *Asset) {
	url, err := n.layer.provider.binarizer.Write(asset)
	if err != nil {
		n.failContent(err)
		return
	}
	n.content.mu.Lock()
	n.content.phase = contentReady
	n.content.url = url
	n.content.payloads = nil
	n.content.mu.Unlock()
	tile.SetContent(url)
}

func (n *Node) failContent(err error) {
	Logger().Warn("i3s content synthesis failed",
		"layer", n.layer.Name(), "node", n.id(), "err", err)
	n.content.mu.Lock()
	n.content.phase = contentFailed
	n.content.payloads = nil
	n.content.mu.Unlock()
}

// discardContent drops a request whose owning tile was destroyed.
func (n *Node) discardContent() {
	n.content.mu.Lock()
	n.content.phase = contentIdle
	n.content.payloads = nil
	n.content.mu.Unlock()
}
