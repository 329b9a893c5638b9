package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"kiddoverse.ai/internal/sim/world"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("log writer closed")

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under dir.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	hour   string
	f      *os.File
	enc    *zstd.Encoder
	buf    *bufio.Writer
	closed bool
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Dir() string { return w.dir }

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes and closes the current file. Later writes fail.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if w.f != nil {
		_ = w.f.Close()
	}
	w.f, w.enc, w.buf, w.hour = nil, nil, nil, ""
	return err
}

// ReadJSONL decodes every line of the <prefix>-*.jsonl.zst files in dir, in
// file-name order, and passes the raw JSON to fn.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			if ferr := fn([]byte(trimmed)); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// FrameLogger writes one entry per frame that did work.
type FrameLogger struct{ w *JSONLZstdWriter }

func NewFrameLogger(worldDir string) *FrameLogger {
	return &FrameLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "frames"), "frames")}
}

func (l *FrameLogger) WriteFrame(v world.FrameLogEntry) error { return l.w.Write(v) }
func (l *FrameLogger) Close() error                           { return l.w.Close() }

// ChunkLogger writes chunk lifecycle events.
type ChunkLogger struct{ w *JSONLZstdWriter }

func NewChunkLogger(worldDir string) *ChunkLogger {
	return &ChunkLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "chunks"), "chunks")}
}

func (l *ChunkLogger) WriteChunkEvent(ev world.ChunkEvent) error { return l.w.Write(ev) }
func (l *ChunkLogger) Close() error                              { return l.w.Close() }

// ReadChunkEvents replays the chunk log under worldDir.
func ReadChunkEvents(worldDir string, fn func(world.ChunkEvent) error) error {
	return ReadJSONL(filepath.Join(worldDir, "chunks"), "chunks", func(line []byte) error {
		var ev world.ChunkEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		return fn(ev)
	})
}
