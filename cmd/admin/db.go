package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kiddoverse.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	chunk := fs.String("chunk", "", "chunk key cx,cy,cz (chunk query)")
	limit := fs.Int("limit", 20, "result limit (frames query)")
	_ = fs.Parse(args)

	q := "summary"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out any
	switch q {
	case "summary":
		out, err = r.Summary(ctx)
	case "frames":
		out, err = r.RecentFrames(ctx, *limit)
	case "chunk":
		if strings.TrimSpace(*chunk) == "" {
			fmt.Fprintln(os.Stderr, "missing -chunk")
			os.Exit(2)
		}
		key, perr := parseVec3(*chunk)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", perr)
			os.Exit(2)
		}
		out, err = r.ChunkHistory(ctx, key)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(summary|frames|chunk)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
