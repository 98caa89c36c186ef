// Package i3s streams Indexed 3D Scene (I3S) services and converts each
// node of the scene hierarchy into a tile description consumable by a
// generic quadtree/octree tile-rendering engine.
//
// # Overview
//
// A Provider is created from a service URL and bootstrapped once:
//
//	p := i3s.New("https://example.com/SceneServer", i3s.WithName("city"))
//	if err := p.Bootstrap(ctx); err != nil {
//	    // a layer root or geoid tile failed to load
//	}
//
// Bootstrap fetches the service document, constructs one Layer per
// declared layer, loads every layer's root node concurrently, and - when a
// geoid terrain source is configured - loads the geoid tiles overlapping
// the union of all layer extents. The provider becomes ready only after
// all of that has completed.
//
// Each loaded node synthesizes a tile definition (bounding volume,
// geometric error, local transform) and registers exactly one tile with
// the host engine. Tile content is produced lazily on the engine's first
// content request: binary geometry payloads are fetched, dispatched to a
// bounded decode worker pool, and assembled into a renderable asset
// exposed through a transient content locator.
//
// # Frame loop
//
// Update, PrePassesUpdate, PostPassesUpdate and UpdateForPass forward
// verbatim to each layer's engine instance, skipping layers whose instance
// does not exist yet or is not ready. The Show property fans out to every
// constructed instance regardless of readiness.
//
// # Collaborators
//
// The host tile engine, the binary geometry codec, and the asset
// serializer are consumed through the narrow contracts in the engine
// package and the GeometryDecoder/Binarizer interfaces; see their
// documentation for the injection points.
package i3s
