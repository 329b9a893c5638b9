package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiddoverse.ai/internal/sim/world"
)

func TestChunkLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewChunkLogger(dir)
	want := []world.ChunkEvent{
		{Frame: 1, Kind: world.ChunkGenerated, Chunk: [3]int{0, -1, 2}, Seed: 42, Theme: "DEFAULT", Digest: "abc"},
		{Frame: 2, Kind: world.ChunkMeshed, Chunk: [3]int{0, -1, 2}, Faces: 12, Materials: 3},
		{Frame: 3, Kind: world.ChunkEvicted, Chunk: [3]int{0, -1, 2}},
	}
	for _, ev := range want {
		if err := l.WriteChunkEvent(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []world.ChunkEvent
	if err := ReadChunkEvents(dir, func(ev world.ChunkEvent) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("events=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "frames")
	ts := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return ts }
	if err := w.Write(world.FrameLogEntry{Frame: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts = ts.Add(2 * time.Minute)
	if err := w.Write(world.FrameLogEntry{Frame: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, name := range []string{"frames-2026-03-01-10.jsonl.zst", "frames-2026-03-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	n := 0
	if err := ReadJSONL(dir, "frames", func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines=%d want 2", n)
	}
}

func TestWriteAfterCloseOpensNothing(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)
	if err := l.WriteFrame(world.FrameLogEntry{Frame: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	before, _ := filepath.Glob(filepath.Join(dir, "frames", "*.jsonl.zst"))
	if err := l.WriteFrame(world.FrameLogEntry{Frame: 2}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("write after close err=%v want ErrWriterClosed", err)
	}
	after, _ := filepath.Glob(filepath.Join(dir, "frames", "*.jsonl.zst"))
	if len(after) != len(before) {
		t.Fatalf("files=%v want %v", after, before)
	}
	n := 0
	if err := ReadJSONL(filepath.Join(dir, "frames"), "frames", func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 1 {
		t.Fatalf("lines=%d want 1", n)
	}
}
