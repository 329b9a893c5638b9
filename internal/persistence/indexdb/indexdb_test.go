package indexdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/tuning"
	"kiddoverse.ai/internal/sim/world"
)

func TestSQLiteIndexRecordsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteFrame(world.FrameLogEntry{Frame: 1, View: [3]int{0, 0, 0}, Moved: true, Generated: 2, Resident: 2, Dirty: 2})
	_ = idx.WriteFrame(world.FrameLogEntry{Frame: 2, Rebuilt: 2, Resident: 2})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 1, Kind: world.ChunkGenerated, Chunk: [3]int{0, 0, 0}, Digest: "d0"})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 1, Kind: world.ChunkGenerated, Chunk: [3]int{1, 0, 0}, Digest: "d1"})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 2, Kind: world.ChunkMeshed, Chunk: [3]int{0, 0, 0}, Faces: 40})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 9, Kind: world.ChunkEvicted, Chunk: [3]int{0, 0, 0}})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	sum, err := idx.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Frames != 2 || sum.LastFrame != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum.Events[world.ChunkGenerated] != 2 || sum.Events[world.ChunkMeshed] != 1 || sum.Events[world.ChunkEvicted] != 1 {
		t.Fatalf("events=%v", sum.Events)
	}

	hist, err := idx.ChunkHistory(ctx, [3]int{0, 0, 0})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history=%+v", hist)
	}
	if hist[0].Kind != world.ChunkGenerated || hist[0].Digest != "d0" || hist[1].Faces != 40 || hist[2].Kind != world.ChunkEvicted {
		t.Fatalf("history=%+v", hist)
	}
}

func TestUpsertCatalogs(t *testing.T) {
	configDir := filepath.Join("..", "..", "..", "configs")
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "world.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	if err := idx.UpsertCatalogs(configDir, cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	sum, err := idx.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, name := range []string{"blocks_defs", "blocks_palette", "textures", "themes", "tuning"} {
		if sum.Catalogs[name] == "" {
			t.Fatalf("catalog %s missing: %v", name, sum.Catalogs)
		}
	}
	if sum.Catalogs["blocks_defs"] != cats.Blocks.DefsDigest {
		t.Fatalf("blocks digest mismatch")
	}
}

func TestRemoteIndexPostsBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds = map[string]int{}
		token string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []struct {
				Kind    string `json:"kind"`
				WorldID string `json:"world_id"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		token = r.Header.Get("x-kv-index-token")
		for _, ev := range body.Events {
			if ev.WorldID == "w1" {
				kinds[ev.Kind]++
			}
		}
		mu.Unlock()
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{Endpoint: srv.URL, Token: "secret", WorldID: "w1", BatchSize: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteFrame(world.FrameLogEntry{Frame: 1})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 1, Kind: world.ChunkGenerated})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Frame: 1, Kind: world.ChunkGenerated})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if kinds["frame"] != 1 || kinds["chunk"] != 2 {
		t.Fatalf("kinds=%v", kinds)
	}
	if token != "secret" {
		t.Fatalf("token=%q", token)
	}
}

func TestOpenRemoteRequiresEndpoint(t *testing.T) {
	if _, err := OpenRemote(RemoteConfig{WorldID: "w"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReaderSeesClosedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for f := uint64(1); f <= 5; f++ {
		_ = idx.WriteFrame(world.FrameLogEntry{Frame: f, View: [3]int{int(f), 0, -1}, Moved: f == 1, Resident: 27})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	frames, err := r.RecentFrames(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(frames) != 2 || frames[0].Frame != 5 || frames[1].Frame != 4 {
		t.Fatalf("frames=%+v", frames)
	}
	if frames[0].View != [3]int{5, 0, -1} || frames[0].Moved || frames[0].Resident != 27 {
		t.Fatalf("frame=%+v", frames[0])
	}

	if _, err := OpenReader(filepath.Join(t.TempDir(), "missing.sqlite")); err == nil {
		t.Fatalf("expected error for missing db")
	}
}
