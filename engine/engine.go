// Package engine declares the contracts of the host tile-rendering engine
// that the streaming provider drives. The engine itself (tile lifecycle,
// frustum culling, LOD traversal, GPU upload) is an external collaborator;
// the provider only constructs tilesets and tiles, forwards frame updates,
// and answers content requests through the injectable ContentSource.
//
// A minimal in-memory implementation (BasicTileset, BasicTile) backs tests
// and the i3sinfo command.
package engine

import "context"

// FrameState carries per-frame data forwarded verbatim from the host
// application to each tileset.
type FrameState struct {
	FrameNumber uint64
	Time        float64
}

// PassState identifies a render pass within a frame.
type PassState struct {
	Pass string
}

// RequestStatus is the result of a tile content request.
type RequestStatus int

const (
	// RequestIssued means this call started a new content synthesis;
	// the request is outstanding.
	RequestIssued RequestStatus = iota + 1

	// RequestAlreadyIssued means a synthesis was already in flight and
	// no new request was started.
	RequestAlreadyIssued

	// RequestPostponed means the decode pool refused the dispatch;
	// the engine must re-request on a later frame. Not a failure.
	RequestPostponed

	// RequestFailed means synthesis failed terminally for this tile.
	RequestFailed
)

// ContentSource is the injectable capability a tile consults to produce
// its content. The provider registers one implementation per tile at
// construction time; the engine never synthesizes content itself.
type ContentSource interface {
	RequestContent(ctx context.Context, tile Tile) RequestStatus
}

// Tile is one node of the engine's tile tree.
type Tile interface {
	// Definition returns the immutable tile description the tile was
	// constructed with.
	Definition() *TileDefinition

	// AddChild appends a child tile. The provider only calls this after
	// all of the node's children have finished loading.
	AddChild(Tile)
	Children() []Tile

	// SetContent installs the synthesized content locator, clears the
	// tile's loading flag, and fires the content-ready notification
	// exactly once.
	SetContent(url string)
	ContentURL() string

	IsDestroyed() bool
}

// Tileset is one engine instance, owning one tile tree per layer.
type Tileset interface {
	Root() Tile

	// Ready reports whether the engine instance has finished its own
	// initialization. Frame updates are forwarded only to ready
	// tilesets; visibility applies regardless.
	Ready() bool

	Update(fs *FrameState)
	PrePassesUpdate(fs *FrameState)
	PostPassesUpdate(fs *FrameState)
	UpdateForPass(fs *FrameState, ps *PassState)

	SetShow(show bool)
	Show() bool

	// NewChild constructs a tile under parent with the given definition
	// and per-tile content source.
	NewChild(parent Tile, def *TileDefinition, src ContentSource) Tile

	Destroy()
	IsDestroyed() bool
}

// Options is opaque pass-through configuration handed verbatim to each
// constructed tileset.
type Options map[string]any

// Factory constructs a tileset from a root tile definition and that root's
// content source.
type Factory func(def *TileDefinition, src ContentSource, opts Options) Tileset
