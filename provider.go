package i3s

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/geoid"
	"github.com/geocast/i3s/internal/workerpool"
)

// Provider streams one I3S service: it bootstraps the layer hierarchy,
// fans frame updates out to per-layer engine instances, and owns the
// shared decode pool and geoid data.
//
// All exported methods except IsDestroyed and Err are invalid after
// Destroy and panic with ErrDestroyed; that is a programming error, not a
// runtime condition.
type Provider struct {
	url       string
	cfg       config
	fetcher   Fetcher
	metrics   *providerMetrics
	pool      *workerpool.Pool
	decoder   GeometryDecoder
	binarizer Binarizer

	mu          sync.Mutex
	layers      []*Layer
	extent      orb.Bound
	hasExtent   bool
	geoidTiles  []*geoid.Tile
	geoidLoaded bool
	ready       bool
	err         error
	show        bool
	destroyed   bool

	readyCh   chan struct{}
	readyOnce sync.Once
}

// New creates a provider for the service at url. Construction is
// synchronous and performs no I/O; call Bootstrap to load the service.
func New(url string, opts ...Option) *Provider {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Provider{
		url:     url,
		cfg:     cfg,
		metrics: newProviderMetrics(cfg.registerer),
		pool:    workerpool.New(cfg.decodeWorkers),
		show:    true,
		readyCh: make(chan struct{}),
	}
	p.fetcher = cfg.fetcher
	if p.fetcher == nil {
		p.fetcher = &HTTPFetcher{}
	}
	p.decoder = cfg.decoder
	if p.decoder == nil {
		p.decoder = placeholderDecoder{}
	}
	p.binarizer = cfg.binarizer
	if p.binarizer == nil {
		p.binarizer = NewMemoryBinarizer()
	}
	return p
}

// Bootstrap fetches the service document, constructs one layer per
// declared entry (or a single layer when the URL addresses a layer
// sub-resource directly), loads every layer's root node, and loads the
// geoid tiles overlapping the union extent. The provider becomes ready
// only when all of that has completed; any root-load failure fails the
// whole bootstrap and the provider stays not-ready.
func (p *Provider) Bootstrap(ctx context.Context) error {
	p.checkNotDestroyed()

	docs, baseURLs, err := p.fetchLayerDocuments(ctx)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	for i, doc := range docs {
		p.layers = append(p.layers, newLayer(p, doc, baseURLs[i]))
	}
	layers := p.layers
	p.mu.Unlock()

	// Layer extents come from the already-fetched metadata, so the
	// union extent is known before any root finishes loading and geoid
	// loading can proceed concurrently with the root fan-out.
	p.computeExtent()

	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range layers {
		layer := layer
		g.Go(func() error { return layer.loadRoot(gctx) })
	}
	g.Go(func() error { return p.loadGeoidTiles(gctx) })
	if err := g.Wait(); err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.readyCh) })

	Logger().Info("i3s provider ready", "provider", p.cfg.name, "layers", len(layers))
	return nil
}

// fetchLayerDocuments resolves the configured URL into layer metadata. A
// document with a layers array is a multi-layer service; anything else is
// treated as one layer's own metadata.
func (p *Provider) fetchLayerDocuments(ctx context.Context) ([]*LayerDocument, []string, error) {
	data, err := p.fetchBinary(ctx, p.url)
	if err != nil {
		return nil, nil, err
	}
	if svcErr := serviceErrorIn(data); svcErr != nil {
		p.metrics.fetchErrors.Inc()
		return nil, nil, svcErr
	}

	var svc ServiceDocument
	if err := decodeJSON(data, p.url, &svc); err != nil {
		return nil, nil, err
	}
	if len(svc.Layers) > 0 {
		urls := make([]string, len(svc.Layers))
		for i, doc := range svc.Layers {
			urls[i] = fmt.Sprintf("%s/layers/%d", p.url, doc.ID)
		}
		return svc.Layers, urls, nil
	}

	var layer LayerDocument
	if err := decodeJSON(data, p.url, &layer); err != nil {
		return nil, nil, err
	}
	return []*LayerDocument{&layer}, []string{p.url}, nil
}

// fail records the terminal bootstrap error. The readiness channel closes
// so waiters wake, with Err reporting the failure.
func (p *Provider) fail(err error) error {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.readyCh) })
	return err
}

// computeExtent folds each layer's declared extent into the running union
// (west and south minimized, east and north maximized). Layers without an
// extent are skipped; with no extents at all the provider has none.
func (p *Provider) computeExtent() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, layer := range p.layers {
		b, ok := layer.declaredExtent()
		if !ok {
			continue
		}
		if !p.hasExtent {
			p.extent = b
			p.hasExtent = true
			continue
		}
		p.extent = p.extent.Union(b)
	}
}

// loadGeoidTiles loads every level-0 geoid tile overlapping the union
// extent, in enumeration order. Without a configured source this is a
// no-op and GeoidTiles stays nil.
func (p *Provider) loadGeoidTiles(ctx context.Context) error {
	if p.cfg.geoidSource == nil {
		return nil
	}

	p.mu.Lock()
	extent, ok := p.extent, p.hasExtent
	p.mu.Unlock()

	tiles := []maptile.Tile{}
	if ok {
		tiles = coverTiles(extent, 0)
	}

	loaded := make([]*geoid.Tile, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tiles {
		i, t := i, t
		g.Go(func() error {
			gt, err := p.cfg.geoidSource.Tile(gctx, t)
			if err != nil {
				return fmt.Errorf("i3s: geoid tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
			}
			loaded[i] = gt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	p.geoidTiles = loaded
	p.geoidLoaded = true
	p.mu.Unlock()
	return nil
}

// coverTiles enumerates the tiles at the given zoom overlapping a
// geographic bound, west to east then north to south.
func coverTiles(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	sw := maptile.At(b.Min, z)
	ne := maptile.At(b.Max, z)

	var out []maptile.Tile
	for x := sw.X; x <= ne.X; x++ {
		for y := ne.Y; y <= sw.Y; y++ {
			out = append(out, maptile.Tile{X: x, Y: y, Z: z})
		}
	}
	return out
}

// Ready returns a channel closed once bootstrap finishes, successfully or
// not; Err distinguishes the two.
func (p *Provider) Ready() <-chan struct{} { return p.readyCh }

// IsReady reports whether bootstrap completed successfully.
func (p *Provider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Err returns the terminal bootstrap error, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Layers returns the provider's layers in declaration order.
func (p *Provider) Layers() []*Layer {
	p.checkNotDestroyed()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Layer, len(p.layers))
	copy(out, p.layers)
	return out
}

// Extent returns the union of all layer extents and whether any layer
// declared one.
func (p *Provider) Extent() (orb.Bound, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extent, p.hasExtent
}

// GeoidTiles returns the loaded geoid tile list, or nil when no geoid
// source was configured.
func (p *Provider) GeoidTiles() []*geoid.Tile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geoidTiles
}

// readyTilesets snapshots the engine instances that exist and report
// ready. Layers still bootstrapping are silently skipped.
func (p *Provider) readyTilesets() []engine.Tileset {
	p.checkNotDestroyed()
	p.mu.Lock()
	layers := p.layers
	p.mu.Unlock()

	var out []engine.Tileset
	for _, layer := range layers {
		if ts := layer.Tileset(); ts != nil && ts.Ready() {
			out = append(out, ts)
		}
	}
	return out
}

// Update forwards the frame state to every ready engine instance. It
// never blocks on pending loads.
func (p *Provider) Update(fs *engine.FrameState) {
	for _, ts := range p.readyTilesets() {
		ts.Update(fs)
	}
}

// PrePassesUpdate forwards to every ready engine instance.
func (p *Provider) PrePassesUpdate(fs *engine.FrameState) {
	for _, ts := range p.readyTilesets() {
		ts.PrePassesUpdate(fs)
	}
}

// PostPassesUpdate forwards to every ready engine instance.
func (p *Provider) PostPassesUpdate(fs *engine.FrameState) {
	for _, ts := range p.readyTilesets() {
		ts.PostPassesUpdate(fs)
	}
}

// UpdateForPass forwards to every ready engine instance.
func (p *Provider) UpdateForPass(fs *engine.FrameState, ps *engine.PassState) {
	for _, ts := range p.readyTilesets() {
		ts.UpdateForPass(fs, ps)
	}
}

// SetShow toggles visibility on every constructed engine instance,
// including not-yet-ready ones; visibility is independent of readiness.
func (p *Provider) SetShow(show bool) {
	p.checkNotDestroyed()
	p.mu.Lock()
	p.show = show
	layers := p.layers
	p.mu.Unlock()

	for _, layer := range layers {
		if ts := layer.Tileset(); ts != nil {
			ts.SetShow(show)
		}
	}
}

// Show reports the provider-level visibility flag.
func (p *Provider) Show() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.show
}

// Destroy releases every layer's engine instance and the decode pool.
// Calling Destroy again is a safe no-op; every other operation on a
// destroyed provider panics.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	layers := p.layers
	p.mu.Unlock()

	for _, layer := range layers {
		if ts := layer.Tileset(); ts != nil {
			ts.Destroy()
		}
	}
	p.pool.Close()
}

// IsDestroyed reports whether Destroy has been called; once true it stays
// true.
func (p *Provider) IsDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *Provider) checkNotDestroyed() {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		panic(ErrDestroyed)
	}
}
