package i3s

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/geoid"
)

// Option configures a Provider during creation.
//
// Example:
//
//	p := i3s.New(url,
//	    i3s.WithName("campus"),
//	    i3s.WithFetchTracing(true),
//	    i3s.WithGeoidSource(src),
//	)
type Option func(*config)

// config holds resolved provider configuration.
type config struct {
	name           string
	fetchTracing   bool
	geoidSource    geoid.Source
	fetcher        Fetcher
	factory        engine.Factory
	tilesetOptions engine.Options
	decodeWorkers  int
	decoder        GeometryDecoder
	binarizer      Binarizer
	registerer     prometheus.Registerer
}

// defaultConfig returns the configuration used when no options are given.
func defaultConfig() config {
	return config{
		factory: engine.BasicFactory,
	}
}

// WithName sets the provider's display name, used in log records.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithFetchTracing enables per-fetch diagnostic logging: every fetch logs
// its resolved address before the request is issued.
func WithFetchTracing(enabled bool) Option {
	return func(c *config) { c.fetchTracing = enabled }
}

// WithGeoidSource sets the optional vertical-datum collaborator. When
// present, geoid tiles overlapping the union of all layer extents are
// loaded during bootstrap and every node height is corrected by bilinear
// sampling. Absent, no vertical correction is applied anywhere.
func WithGeoidSource(src geoid.Source) Option {
	return func(c *config) { c.geoidSource = src }
}

// WithFetcher replaces the default HTTP fetcher. Mainly of use for tests
// and exotic transports.
func WithFetcher(f Fetcher) Option {
	return func(c *config) { c.fetcher = f }
}

// WithTilesetFactory sets the host-engine factory used to construct one
// tileset per layer. The default builds engine.BasicTileset instances.
func WithTilesetFactory(f engine.Factory) Option {
	return func(c *config) { c.factory = f }
}

// WithTilesetOptions sets opaque configuration forwarded verbatim to each
// constructed tileset.
func WithTilesetOptions(opts engine.Options) Option {
	return func(c *config) { c.tilesetOptions = opts }
}

// WithDecodeWorkers bounds the geometry decode worker pool. Zero or
// negative selects GOMAXPROCS.
func WithDecodeWorkers(n int) Option {
	return func(c *config) { c.decodeWorkers = n }
}

// WithDecoder injects the binary geometry codec. The default decoder
// produces empty meshes; real deployments supply their codec here.
func WithDecoder(d GeometryDecoder) Option {
	return func(c *config) { c.decoder = d }
}

// WithBinarizer injects the renderable-asset serializer that turns a
// decoded mesh into a content locator. The default keeps assets in memory
// behind i3s-asset:// locators.
func WithBinarizer(b Binarizer) Option {
	return func(c *config) { c.binarizer = b }
}

// WithMetrics registers the provider's counters on the given registerer.
// A nil registerer leaves the counters unregistered but still functional.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}
