package main

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	"kiddoverse.ai/internal/sim/world"
)

func TestWriteMetricsSeries(t *testing.T) {
	rec := httptest.NewRecorder()
	writeMetrics(rec, "w1", world.WorldMetrics{Frame: 7, Resident: 27, Dirty: 3, Meshed: 20, GeneratedTotal: 27, StepMS: 1.25}, 2)
	body := rec.Body.String()
	for _, want := range []string{
		`kiddoverse_world_frame{world="w1"} 7`,
		`kiddoverse_world_chunks{world="w1",state="resident"} 27`,
		`kiddoverse_world_chunks{world="w1",state="dirty"} 3`,
		`kiddoverse_world_chunk_ops_total{world="w1",op="generated"} 27`,
		`kiddoverse_world_step_ms{world="w1"} 1.250`,
		`kiddoverse_viewers{world="w1"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestOpenRuntimeIndexBackends(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	idx, err := openRuntimeIndex(dir, "w1", true, logger)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("KV_INDEX_BACKEND", "none")
	if idx, err := openRuntimeIndex(dir, "w1", false, logger); err != nil || idx != nil {
		t.Fatalf("none: idx=%v err=%v", idx, err)
	}

	t.Setenv("KV_INDEX_BACKEND", "remote")
	t.Setenv("KV_INDEX_REMOTE_URL", "")
	if _, err := openRuntimeIndex(dir, "w1", false, logger); err == nil {
		t.Fatalf("remote without url: expected error")
	}

	t.Setenv("KV_INDEX_BACKEND", "bogus")
	if _, err := openRuntimeIndex(dir, "w1", false, logger); err == nil {
		t.Fatalf("bogus backend: expected error")
	}

	t.Setenv("KV_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(dir, "w1", false, logger)
	if err != nil || idx == nil {
		t.Fatalf("sqlite: idx=%v err=%v", idx, err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
