package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "kiddoverse.ai/internal/persistence/log"
	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/world"
	"kiddoverse.ai/internal/sim/world/terrain/gen"
	"kiddoverse.ai/internal/sim/world/terrain/store"
)

var errMismatch = errors.New("digest mismatch")

func main() {
	var (
		worldDir  = flag.String("world_dir", "", "world data dir containing chunks/ (e.g. ./data/worlds/world_1)")
		configDir = flag.String("configs", "./configs", "config directory")
		chunkSize = flag.Int("chunk_size", 16, "chunk edge length the log was written with")
		fromFrame = flag.Uint64("from_frame", 0, "start verifying from frame (inclusive, optional)")
		toFrame   = flag.Uint64("to_frame", 0, "stop at frame (inclusive, optional)")
		keepGoing = flag.Bool("keep_going", false, "report every mismatch instead of stopping at the first")
	)
	flag.Parse()

	if *worldDir == "" {
		fmt.Fprintln(os.Stderr, "missing -world_dir")
		os.Exit(2)
	}
	if _, err := os.Stat(filepath.Join(*worldDir, "chunks")); err != nil {
		fmt.Fprintln(os.Stderr, "chunk log:", err)
		os.Exit(1)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	r := &replayer{cats: cats, chunkSize: *chunkSize, gens: map[genKey]*gen.Generator{}}
	err = persistlog.ReadChunkEvents(*worldDir, func(ev world.ChunkEvent) error {
		if ev.Frame < *fromFrame || (*toFrame != 0 && ev.Frame > *toFrame) {
			return nil
		}
		err := r.apply(ev)
		if errors.Is(err, errMismatch) && *keepGoing {
			fmt.Fprintln(os.Stderr, err)
			return nil
		}
		return err
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay: generated=%d mismatched=%d meshed=%d edited=%d evicted=%d\n",
		r.generated, r.mismatched, r.meshed, r.edited, r.evicted)
	if r.mismatched > 0 {
		os.Exit(1)
	}
	fmt.Println("replay ok")
}

type genKey struct {
	theme string
	seed  int64
}

// replayer regenerates every GENERATED chunk from its logged theme and seed
// and checks the digest against the logged one.
type replayer struct {
	cats      *catalogs.Catalogs
	chunkSize int
	gens      map[genKey]*gen.Generator

	generated, mismatched, meshed, edited, evicted int
}

func (r *replayer) generator(theme string, seed int64) (*gen.Generator, error) {
	k := genKey{theme: theme, seed: seed}
	if g, ok := r.gens[k]; ok {
		return g, nil
	}
	t, err := r.cats.Themes.Get(theme)
	if err != nil {
		return nil, err
	}
	g, err := gen.New(t, seed, r.chunkSize)
	if err != nil {
		return nil, err
	}
	r.gens[k] = g
	return g, nil
}

func (r *replayer) apply(ev world.ChunkEvent) error {
	switch ev.Kind {
	case world.ChunkGenerated:
		r.generated++
		g, err := r.generator(ev.Theme, ev.Seed)
		if err != nil {
			return fmt.Errorf("frame %d chunk %v: %w", ev.Frame, ev.Chunk, err)
		}
		got := store.Digest(g.Generate(ev.Chunk[0], ev.Chunk[1], ev.Chunk[2]))
		if got != ev.Digest {
			r.mismatched++
			return fmt.Errorf("frame %d chunk %v: %w: logged=%s regenerated=%s", ev.Frame, ev.Chunk, errMismatch, ev.Digest, got)
		}
	case world.ChunkMeshed:
		r.meshed++
	case world.ChunkEdited:
		r.edited++
	case world.ChunkEvicted:
		r.evicted++
	default:
		return fmt.Errorf("frame %d: unknown chunk event kind %q", ev.Frame, ev.Kind)
	}
	return nil
}
