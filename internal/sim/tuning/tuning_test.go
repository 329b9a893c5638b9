package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRepoTuning(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.ChunkSize != 16 || tu.RenderDistance != 3 || tu.VerticalRenderDistance != 2 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if want := 9 * 9 * 7; tu.MaxChunksToKeep != want {
		t.Fatalf("max chunks: got %d want %d", tu.MaxChunksToKeep, want)
	}
	if tu.UnloadDelay() != 30*time.Second {
		t.Fatalf("unload delay: %v", tu.UnloadDelay())
	}
	if tu.GenerationWorkers < 1 {
		t.Fatalf("generation workers not normalized: %d", tu.GenerationWorkers)
	}
}

func TestLoadRejectsCeilingBelowShell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("render_distance: 2\nvertical_render_distance: 1\nmax_chunks_to_keep: 10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("chunk_size: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
