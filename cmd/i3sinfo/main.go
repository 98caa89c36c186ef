// Command i3sinfo bootstraps an I3S provider against a scene service and
// prints the resolved layer tree: extents, root tile definitions, and
// synthesized content locators.
//
// Usage:
//
//	i3sinfo -url https://example.com/SceneServer [-trace] [-geoid geoid.tif -geoid-extent w,s,e,n]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/geocast/i3s"
	"github.com/geocast/i3s/engine"
	"github.com/geocast/i3s/geoid"
)

func main() {
	var (
		url         = flag.String("url", "", "scene service or layer URL (required)")
		name        = flag.String("name", "i3sinfo", "provider display name")
		trace       = flag.Bool("trace", false, "log every fetch before it is issued")
		verbose     = flag.Bool("v", false, "debug logging")
		timeout     = flag.Duration("timeout", 60*time.Second, "bootstrap timeout")
		workers     = flag.Int("workers", 0, "decode workers (0 = GOMAXPROCS)")
		geoidPath   = flag.String("geoid", "", "optional geoid TIFF for vertical correction")
		geoidExtent = flag.String("geoid-extent", "", "geoid raster extent as west,south,east,north")
		geoidScale  = flag.Float64("geoid-scale", 1, "geoid raster scale to meters")
		geoidOffset = flag.Float64("geoid-offset", 0, "geoid raster offset in meters")
	)
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "i3sinfo: -url is required")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	i3s.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := []i3s.Option{
		i3s.WithName(*name),
		i3s.WithFetchTracing(*trace),
		i3s.WithDecodeWorkers(*workers),
	}
	if *geoidPath != "" {
		src, err := loadGeoidSource(*geoidPath, *geoidExtent, *geoidScale, *geoidOffset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "i3sinfo: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, i3s.WithGeoidSource(src))
	}

	p := i3s.New(*url, opts...)
	defer p.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := p.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "i3sinfo: bootstrap: %v\n", err)
		os.Exit(1)
	}

	if b, ok := p.Extent(); ok {
		fmt.Printf("extent: west=%.6f south=%.6f east=%.6f north=%.6f\n",
			b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	}
	if tiles := p.GeoidTiles(); tiles != nil {
		fmt.Printf("geoid tiles: %d\n", len(tiles))
	}

	// A few frames drive the engine's content requests so root locators
	// get synthesized.
	for frame := uint64(0); frame < 4; frame++ {
		p.Update(&engine.FrameState{FrameNumber: frame})
		time.Sleep(50 * time.Millisecond)
	}

	for _, layer := range p.Layers() {
		root := layer.RootNode()
		fmt.Printf("layer %q\n", layer.Name())
		if root == nil {
			continue
		}
		def := root.TileDefinition()
		fmt.Printf("  root: level=%d geometricError=%.1f children=%d\n",
			root.Level(), def.GeometricError, len(def.Children))
		switch {
		case def.Box != nil:
			fmt.Printf("  bounds: oriented box halfAxes=%v\n", def.Box.HalfAxes)
		case def.Sphere != nil:
			fmt.Printf("  bounds: sphere r=%.1f\n", def.Sphere.Radius)
		}
		if url, ok := root.ContentURL(); ok {
			fmt.Printf("  content: %s\n", url)
		}
	}
}

// loadGeoidSource reads a single geoid raster and serves it for every
// requested tile.
func loadGeoidSource(path, extent string, scale, offset float64) (geoid.Source, error) {
	parts := strings.Split(extent, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("-geoid-extent must be west,south,east,north")
	}
	var vals [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("-geoid-extent: %w", err)
		}
		vals[i] = v
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tile, err := geoid.LoadTIFF(f, nil, geoid.Extent{
		MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3],
	}, scale, offset)
	if err != nil {
		return nil, err
	}
	return singleTileSource{tile: tile}, nil
}

type singleTileSource struct {
	tile *geoid.Tile
}

func (s singleTileSource) Tile(ctx context.Context, t maptile.Tile) (*geoid.Tile, error) {
	return s.tile, nil
}
