package engine

import (
	"context"
	"sync"
)

// BasicTileset is a minimal in-memory Tileset. It performs no rendering:
// Update walks the tree and issues content requests for tiles that have
// none yet, which is enough to drive the provider's decode pipeline in
// tests and in the i3sinfo command.
type BasicTileset struct {
	mu        sync.Mutex
	root      *BasicTile
	ready     bool
	show      bool
	destroyed bool
	opts      Options
}

// NewBasicTileset constructs a tileset with a root tile wrapping def.
func NewBasicTileset(def *TileDefinition, src ContentSource, opts Options) *BasicTileset {
	ts := &BasicTileset{ready: true, show: true, opts: opts}
	ts.root = &BasicTile{def: def, src: src}
	return ts
}

// BasicFactory is a Factory producing BasicTilesets.
func BasicFactory(def *TileDefinition, src ContentSource, opts Options) Tileset {
	return NewBasicTileset(def, src, opts)
}

func (ts *BasicTileset) Root() Tile {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.root
}

func (ts *BasicTileset) Ready() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.ready
}

// SetReady overrides the readiness flag. Mainly of use to tests that need
// a constructed-but-not-ready engine instance.
func (ts *BasicTileset) SetReady(ready bool) {
	ts.mu.Lock()
	ts.ready = ready
	ts.mu.Unlock()
}

func (ts *BasicTileset) Update(fs *FrameState) {
	ts.mu.Lock()
	root := ts.root
	show := ts.show && !ts.destroyed
	ts.mu.Unlock()
	if !show || root == nil {
		return
	}
	root.walk(func(t *BasicTile) {
		if t.ContentURL() == "" && t.src != nil && !t.IsDestroyed() {
			t.src.RequestContent(context.Background(), t)
		}
	})
}

func (ts *BasicTileset) PrePassesUpdate(fs *FrameState)              {}
func (ts *BasicTileset) PostPassesUpdate(fs *FrameState)             {}
func (ts *BasicTileset) UpdateForPass(fs *FrameState, ps *PassState) {}

func (ts *BasicTileset) SetShow(show bool) {
	ts.mu.Lock()
	ts.show = show
	ts.mu.Unlock()
}

func (ts *BasicTileset) Show() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.show
}

func (ts *BasicTileset) NewChild(parent Tile, def *TileDefinition, src ContentSource) Tile {
	child := &BasicTile{def: def, src: src, parent: parent}
	return child
}

func (ts *BasicTileset) Destroy() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.destroyed {
		return
	}
	ts.destroyed = true
	if ts.root != nil {
		ts.root.walk(func(t *BasicTile) { t.destroy() })
	}
}

func (ts *BasicTileset) IsDestroyed() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.destroyed
}

// BasicTile is the in-memory tile used by BasicTileset.
type BasicTile struct {
	mu        sync.Mutex
	def       *TileDefinition
	src       ContentSource
	parent    Tile
	children  []Tile
	content   string
	destroyed bool

	readyOnce sync.Once

	// OnContentReady, when set, is invoked exactly once after SetContent.
	OnContentReady func(*BasicTile)
}

func (t *BasicTile) Definition() *TileDefinition { return t.def }

func (t *BasicTile) AddChild(child Tile) {
	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()
}

func (t *BasicTile) Children() []Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Tile, len(t.children))
	copy(out, t.children)
	return out
}

func (t *BasicTile) SetContent(url string) {
	t.mu.Lock()
	t.content = url
	cb := t.OnContentReady
	t.mu.Unlock()
	t.readyOnce.Do(func() {
		if cb != nil {
			cb(t)
		}
	})
}

func (t *BasicTile) ContentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content
}

func (t *BasicTile) IsDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

func (t *BasicTile) destroy() {
	t.mu.Lock()
	t.destroyed = true
	t.mu.Unlock()
}

// walk visits this tile and every descendant.
func (t *BasicTile) walk(visit func(*BasicTile)) {
	visit(t)
	for _, c := range t.Children() {
		if bt, ok := c.(*BasicTile); ok {
			bt.walk(visit)
		}
	}
}
