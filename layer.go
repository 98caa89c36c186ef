package i3s

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/geocast/i3s/cache"
	"github.com/geocast/i3s/engine"
)

// defaultNodesPerPage is used when a paged layer omits the page size.
const defaultNodesPerPage = 64

// Layer is one scene layer: it owns the root node of the node hierarchy
// and the engine instance that renders it. Node records of paged layers
// are resolved through an LRU-cached node-page index.
type Layer struct {
	provider *Provider
	doc      *LayerDocument
	baseURL  string

	mu      sync.Mutex
	root    *Node
	tileset engine.Tileset

	pages *cache.Sharded[int, *NodePage]
}

func newLayer(p *Provider, doc *LayerDocument, baseURL string) *Layer {
	return &Layer{
		provider: p,
		doc:      doc,
		baseURL:  baseURL,
		pages:    cache.NewSharded[int, *NodePage](0, cache.IntHasher),
	}
}

// Name returns the layer's declared name, or its id when unnamed.
func (l *Layer) Name() string {
	if l.doc.Name != "" {
		return l.doc.Name
	}
	return fmt.Sprintf("layer %d", l.doc.ID)
}

// Document returns the layer's metadata document.
func (l *Layer) Document() *LayerDocument { return l.doc }

// RootNode returns the layer's root node once loaded.
func (l *Layer) RootNode() *Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// Tileset returns the layer's engine instance, or nil while the root is
// still loading.
func (l *Layer) Tileset() engine.Tileset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tileset
}

// paged reports whether the layer indexes nodes through node pages rather
// than legacy per-node documents.
func (l *Layer) paged() bool { return l.doc.NodePages != nil }

// declaredExtent returns the layer's own extent in degrees.
func (l *Layer) declaredExtent() (orb.Bound, bool) {
	if s := l.doc.Store; s != nil && len(s.Extent) >= 4 {
		return orb.Bound{
			Min: orb.Point{s.Extent[0], s.Extent[1]},
			Max: orb.Point{s.Extent[2], s.Extent[3]},
		}, true
	}
	if fe := l.doc.FullExtent; fe != nil {
		return orb.Bound{
			Min: orb.Point{fe.XMin, fe.YMin},
			Max: orb.Point{fe.XMax, fe.YMax},
		}, true
	}
	return orb.Bound{}, false
}

// geometrySchema returns the layer's declared default geometry schema,
// handed raw to the decoders.
func (l *Layer) geometrySchema() json.RawMessage {
	if l.doc.Store != nil {
		return l.doc.Store.DefaultGeometrySchema
	}
	return nil
}

// loadRoot loads the layer's root node and constructs the engine
// instance. A failure here fails the whole provider bootstrap.
func (l *Layer) loadRoot(ctx context.Context) error {
	var root *Node
	if l.paged() {
		root = newPagedNode(l, nil, 0)
	} else {
		root = newLegacyRootNode(l)
	}
	if err := root.load(ctx); err != nil {
		return fmt.Errorf("i3s: layer %s root: %w", l.Name(), err)
	}
	l.mu.Lock()
	l.root = root
	l.mu.Unlock()
	return nil
}

// attachTile constructs the node's engine tile: the root node's tile comes
// from a fresh tileset, every other from NewChild on the layer's tileset.
// Each node gets exactly one tile, with the node itself injected as the
// tile's content source.
func (l *Layer) attachTile(n *Node) {
	if n.parent == nil {
		ts := l.provider.cfg.factory(n.tileDef, n, l.provider.cfg.tilesetOptions)
		l.mu.Lock()
		l.tileset = ts
		l.mu.Unlock()
		n.tile = ts.Root()
		return
	}
	l.mu.Lock()
	ts := l.tileset
	l.mu.Unlock()
	n.tile = ts.NewChild(n.parent.tile, n.tileDef, n)
}

// resolveNodeByIndex fetches a paged node record by its global index,
// going through the shared node-page cache.
func (l *Layer) resolveNodeByIndex(ctx context.Context, index int) (*PagedNode, error) {
	per := defaultNodesPerPage
	if l.doc.NodePages != nil && l.doc.NodePages.NodesPerPage > 0 {
		per = l.doc.NodePages.NodesPerPage
	}
	pageIndex := index / per

	page, ok := l.pages.Get(pageIndex)
	if !ok {
		url := fmt.Sprintf("%s/nodepages/%d", l.baseURL, pageIndex)
		var fetched NodePage
		if err := l.provider.fetchJSON(ctx, url, &fetched); err != nil {
			return nil, err
		}
		page = &fetched
		l.pages.Put(pageIndex, page)
	}

	rel := index - pageIndex*per
	if rel < 0 || rel >= len(page.Nodes) {
		return nil, fmt.Errorf("i3s: node %d missing from page %d", index, pageIndex)
	}
	return page.Nodes[rel], nil
}

// selectBestGeometryBuffer picks the geometry buffer a mesh reference
// should stream: the first uncompressed buffer of the mesh's geometry
// definition, falling back to buffer 0.
func (l *Layer) selectBestGeometryBuffer(mesh *Mesh) (int, *GeometryBuffer) {
	if mesh == nil || mesh.Geometry == nil {
		return 0, nil
	}
	defIdx := mesh.Geometry.Definition
	if defIdx < 0 || defIdx >= len(l.doc.GeometryDefinitions) {
		return 0, nil
	}
	buffers := l.doc.GeometryDefinitions[defIdx].GeometryBuffers
	for i := range buffers {
		if !buffers[i].Compressed {
			return i, &buffers[i]
		}
	}
	if len(buffers) > 0 {
		return 0, &buffers[0]
	}
	return 0, nil
}

// nodeURL addresses a paged node's sub-resource space by mesh resource
// index.
func (l *Layer) nodeURL(resource int) string {
	return fmt.Sprintf("%s/nodes/%d", l.baseURL, resource)
}
