package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "kiddoverse.ai/internal/persistence/log"
	"kiddoverse.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "edits":
			editsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// editsCmd prints EDITED chunk events inside an AABB, oldest first.
func editsCmd(args []string) {
	fs := flag.NewFlagSet("edits", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (optional)")
	sinceFrame := fs.Uint64("since_frame", 0, "edits since frame (inclusive)")
	toFrame := fs.Uint64("to_frame", 0, "edits up to frame (inclusive, optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	var (
		box      bool
		min, max [3]int
	)
	if strings.TrimSpace(*aabb) != "" {
		var err error
		min, max, err = parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		box = true
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	enc := json.NewEncoder(os.Stdout)
	n := 0
	err := persistlog.ReadChunkEvents(worldDir, func(ev world.ChunkEvent) error {
		if ev.Kind != world.ChunkEdited || ev.Pos == nil {
			return nil
		}
		if ev.Frame < *sinceFrame || (*toFrame != 0 && ev.Frame > *toFrame) {
			return nil
		}
		if box && !withinAABB(*ev.Pos, min, max) {
			return nil
		}
		n++
		return enc.Encode(ev)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read chunk log:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "edits: %d\n", n)
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
