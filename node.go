package i3s

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/flywave/go3d/float64/mat3"
	"github.com/flywave/go3d/float64/mat4"
	"github.com/flywave/go3d/float64/vec3"
	"golang.org/x/sync/errgroup"

	"github.com/geocast/i3s/engine"
)

// Node is one entity of a layer's scene hierarchy. Before load exactly one
// of {page index, resource URL} is known; after load the resource URL is
// resolved whenever the encoding allows. A node owns its children and
// holds non-owning references to its parent and layer.
type Node struct {
	layer  *Layer
	parent *Node
	level  int

	// pageIndex is the node's global index in a paged layer, -1 when the
	// node is addressed by URL.
	pageIndex   int
	resourceURL string

	// Exactly one of doc/paged is set after load; inline legacy child
	// records arrive with doc pre-populated.
	doc   *NodeDocument
	paged *PagedNode

	children []*Node

	fieldsMu sync.Mutex
	fields   map[string]*Field

	// Cached by tile-definition synthesis; read by the decode pipeline.
	cartographic [3]float64 // corrected lon, lat (degrees), height (meters)
	position     vec3.T     // earth-fixed cartesian of cartographic
	rotation     mat3.T
	invRotation  mat3.T
	global       mat4.T
	invGlobal    mat4.T

	tileDef *engine.TileDefinition
	tile    engine.Tile

	content contentState

	childrenMu  sync.Mutex
	childrenFut *childLoad
}

// Field is one loaded per-feature attribute field. Decoding the binary
// layout belongs to the attribute codec; the provider stores the raw
// payload keyed by the field's declared name.
type Field struct {
	Key  string
	Name string
	Data []byte
}

// childLoad is the shared in-flight/completed result of loadChildren.
type childLoad struct {
	done chan struct{}
	err  error
}

func newLegacyRootNode(l *Layer) *Node {
	sub := "nodes/root"
	if s := l.doc.Store; s != nil && s.RootNode != "" {
		sub = strings.TrimPrefix(s.RootNode, "./")
	}
	return &Node{
		layer:       l,
		pageIndex:   -1,
		resourceURL: l.baseURL + "/" + sub,
	}
}

func newPagedNode(l *Layer, parent *Node, index int) *Node {
	n := &Node{layer: l, parent: parent, pageIndex: index}
	if parent != nil {
		n.level = parent.level + 1
	}
	return n
}

// newLegacyChildNode wraps one entry of a legacy node's children list,
// which is either an href reference or an inline record.
func newLegacyChildNode(l *Layer, parent *Node, doc *NodeDocument) *Node {
	n := &Node{layer: l, parent: parent, level: parent.level + 1, pageIndex: -1}
	if doc.Href != "" {
		n.resourceURL = resolveHref(parent.resourceURL, doc.Href)
	} else {
		n.doc = doc
	}
	return n
}

// Level returns the node's depth; the root is 0.
func (n *Node) Level() int { return n.level }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Layer returns the owning layer.
func (n *Node) Layer() *Layer { return n.layer }

// ResourceURL returns the node's resolved resource locator, empty when the
// encoding resolved none.
func (n *Node) ResourceURL() string { return n.resourceURL }

// TileDefinition returns the synthesized tile definition.
func (n *Node) TileDefinition() *engine.TileDefinition { return n.tileDef }

// Tile returns the node's engine tile handle.
func (n *Node) Tile() engine.Tile { return n.tile }

// Children returns the loaded child nodes in declaration order.
func (n *Node) Children() []*Node {
	n.childrenMu.Lock()
	defer n.childrenMu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// load fetches the node's metadata (by URL, or through the layer's paged
// node index), resolves the node's resource locator, synthesizes the tile
// definition, and constructs the node's engine tile.
func (n *Node) load(ctx context.Context) error {
	switch {
	case n.doc != nil:
		// Inline legacy record, metadata already present.
	case n.resourceURL != "":
		var doc NodeDocument
		if err := n.layer.provider.fetchJSON(ctx, n.resourceURL, &doc); err != nil {
			return err
		}
		n.doc = &doc
	default:
		paged, err := n.layer.resolveNodeByIndex(ctx, n.pageIndex)
		if err != nil {
			return err
		}
		n.paged = paged
	}

	n.resolveResourceURL()

	if err := n.buildTileDefinition(); err != nil {
		if errors.Is(err, ErrMissingBoundingVolume) {
			Logger().Warn("i3s node has no bounding volume, dropping",
				"layer", n.layer.Name(), "node", n.id(), "level", n.level)
		}
		return err
	}
	n.layer.attachTile(n)
	n.layer.provider.metrics.nodesLoaded.Inc()
	return nil
}

// resolveResourceURL fills in the node's locator when metadata allows: a
// paged node declaring a mesh is addressed through the mesh's geometry
// resource; anything else without a URL stays unresolved.
func (n *Node) resolveResourceURL() {
	if n.resourceURL != "" {
		return
	}
	if n.paged != nil && n.paged.Mesh != nil && n.paged.Mesh.Geometry != nil {
		n.resourceURL = n.layer.nodeURL(n.paged.Mesh.Geometry.Resource)
	}
}

// id returns a loggable node identifier.
func (n *Node) id() string {
	if n.doc != nil && n.doc.ID != "" {
		return n.doc.ID
	}
	if n.pageIndex >= 0 {
		return fmt.Sprintf("#%d", n.pageIndex)
	}
	return n.resourceURL
}

// Metadata accessors over the two node encodings.

func (n *Node) obb() *OBB {
	if n.doc != nil {
		return n.doc.OBB
	}
	if n.paged != nil {
		return n.paged.OBB
	}
	return nil
}

func (n *Node) mbs() []float64 {
	if n.doc != nil {
		return n.doc.MBS
	}
	return nil
}

func (n *Node) lodSelection() []LODSelection {
	if n.doc != nil {
		return n.doc.LODSelection
	}
	return nil
}

func (n *Node) lodThreshold() (float64, bool) {
	if n.paged != nil && n.paged.LODThreshold > 0 {
		return n.paged.LODThreshold, true
	}
	return 0, false
}

// loadFields loads one attribute field per descriptor declared by the
// layer, keyed by declared name. All loads run concurrently; an empty
// descriptor set resolves immediately.
func (n *Node) loadFields(ctx context.Context) error {
	infos := n.layer.doc.AttributeStorageInfo
	if len(infos) == 0 {
		return nil
	}
	if n.resourceURL == "" {
		return fmt.Errorf("i3s: node %s has no resource for attribute loading", n.id())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, info := range infos {
		info := info
		g.Go(func() error {
			url := fmt.Sprintf("%s/attributes/%s/0", n.resourceURL, info.Key)
			data, err := n.layer.provider.fetchBinary(gctx, url)
			if err != nil {
				return err
			}
			n.setField(&Field{Key: info.Key, Name: info.Name, Data: data})
			return nil
		})
	}
	return g.Wait()
}

func (n *Node) setField(f *Field) {
	n.fieldsMu.Lock()
	if n.fields == nil {
		n.fields = make(map[string]*Field)
	}
	n.fields[f.Name] = f
	n.fieldsMu.Unlock()
}

// Fields returns the loaded attribute fields keyed by declared name.
func (n *Node) Fields() map[string]*Field {
	n.fieldsMu.Lock()
	defer n.fieldsMu.Unlock()
	out := make(map[string]*Field, len(n.fields))
	for k, v := range n.fields {
		out[k] = v
	}
	return out
}

// loadChildren materializes and loads every declared child. It is
// idempotent: a second call joins the same in-flight or completed result.
// The engine tile's children list is appended only inside the
// continuation of the joined child loads, in declaration order.
func (n *Node) loadChildren(ctx context.Context) error {
	n.childrenMu.Lock()
	fut := n.childrenFut
	if fut == nil {
		fut = &childLoad{done: make(chan struct{})}
		n.childrenFut = fut
		go func() {
			fut.err = n.doLoadChildren(context.WithoutCancel(ctx))
			close(fut.done)
		}()
	}
	n.childrenMu.Unlock()

	select {
	case <-fut.done:
		return fut.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) doLoadChildren(ctx context.Context) error {
	var kids []*Node
	switch {
	case n.paged != nil:
		for _, idx := range n.paged.Children {
			kids = append(kids, newPagedNode(n.layer, n, idx))
		}
	case n.doc != nil:
		for _, child := range n.doc.Children {
			kids = append(kids, newLegacyChildNode(n.layer, n, child))
		}
	}
	if len(kids) == 0 {
		return nil
	}

	dropped := make([]bool, len(kids))
	g, gctx := errgroup.WithContext(ctx)
	for i, kid := range kids {
		i, kid := i, kid
		g.Go(func() error {
			err := kid.load(gctx)
			if errors.Is(err, ErrMissingBoundingVolume) {
				// Defective node: drop it, keep its siblings.
				dropped[i] = true
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Join barrier passed: every child finished loading. Attach in
	// declaration order.
	kept := kids[:0]
	for i, kid := range kids {
		if dropped[i] {
			continue
		}
		kept = append(kept, kid)
		n.tile.AddChild(kid.tile)
		n.tileDef.Children = append(n.tileDef.Children, kid.tileDef)
	}
	n.childrenMu.Lock()
	n.children = kept
	n.childrenMu.Unlock()
	return nil
}

// resolveHref resolves a node-relative href (typically "../<id>") against
// the referencing node's resource URL, treated as a directory.
func resolveHref(base, href string) string {
	bu, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return base + "/" + href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return base + "/" + href
	}
	return strings.TrimSuffix(bu.ResolveReference(hu).String(), "/")
}
