package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"kiddoverse.ai/internal/sim/world"
)

// worldState mirrors the server's /admin/v1/state payload.
type worldState struct {
	WorldID string             `json:"world_id"`
	Metrics world.WorldMetrics `json:"metrics"`
	Viewers int                `json:"viewers"`
	Chunks  []world.ChunkInfo  `json:"chunks"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	chunks := fs.Bool("chunks", false, "list every resident chunk")
	raw := fs.Bool("raw", false, "print the raw JSON payload")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if *raw || resp.StatusCode/100 != 2 {
		fmt.Println(string(b))
		if resp.StatusCode/100 != 2 {
			os.Exit(1)
		}
		return
	}
	if err := printState(os.Stdout, b, *chunks); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
}

// printState summarizes the resident chunk list: totals first, then one line
// per chunk when listChunks is set.
func printState(out io.Writer, body []byte, listChunks bool) error {
	var st worldState
	if err := json.Unmarshal(body, &st); err != nil {
		return err
	}
	var dirty, building, faces int
	for _, c := range st.Chunks {
		if c.Dirty {
			dirty++
		}
		if c.Building {
			building++
		}
		faces += c.Faces
	}
	m := st.Metrics
	fmt.Fprintf(out, "world=%s theme=%s seed=%d frame=%d view=%v viewers=%d\n",
		st.WorldID, m.Theme, m.Seed, m.Frame, m.View, st.Viewers)
	fmt.Fprintf(out, "chunks resident=%d dirty=%d building=%d faces=%d materials=%d\n",
		len(st.Chunks), dirty, building, faces, m.Materials)
	if !listChunks {
		return nil
	}
	for _, c := range st.Chunks {
		flags := ""
		if c.Dirty {
			flags += " dirty"
		}
		if c.Building {
			flags += " building"
		}
		fmt.Fprintf(out, "%d,%d,%d faces=%d idle=%dms%s\n", c.Key[0], c.Key[1], c.Key[2], c.Faces, c.IdleMS, flags)
	}
	return nil
}
