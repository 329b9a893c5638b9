package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/tuning"
	"kiddoverse.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of the frame and chunk logs.
// Writes are queued and applied by one goroutine; a full queue drops rows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqChunk
)

type req struct {
	kind  reqKind
	frame world.FrameLogEntry
	chunk world.ChunkEvent
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 65536)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			moved INTEGER NOT NULL,
			generated INTEGER NOT NULL,
			rebuilt INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			edits INTEGER NOT NULL,
			resident INTEGER NOT NULL,
			dirty INTEGER NOT NULL,
			step_ms REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			digest TEXT,
			faces INTEGER,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_key ON chunk_events(cx, cy, cz, frame);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_kind ON chunk_events(kind, frame);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts rows discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) WriteFrame(entry world.FrameLogEntry) error {
	s.enqueue(req{kind: reqFrame, frame: entry})
	return nil
}

func (s *SQLiteIndex) WriteChunkEvent(ev world.ChunkEvent) error {
	s.enqueue(req{kind: reqChunk, chunk: ev})
	return nil
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

// UpsertCatalogs records the catalogs and tuning the server runs with.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	rows, err := catalogRows(configDir, cats, tune)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Name, r.Digest, string(r.JSON), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetMeta stores a free-form key such as the world id or seed.
func (s *SQLiteIndex) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

type catalogRow struct {
	Name   string
	Digest string
	JSON   []byte
}

func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) ([]catalogRow, error) {
	var rows []catalogRow
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil {
			rows = append(rows, catalogRow{Name: "blocks_defs", Digest: cats.Blocks.DefsDigest, JSON: b})
		}
	}
	if b, err := json.Marshal(cats.Blocks.Palette); err == nil {
		rows = append(rows, catalogRow{Name: "blocks_palette", Digest: cats.Blocks.PaletteDigest, JSON: b})
	}
	if cats.Textures != nil {
		if b, err := json.Marshal(cats.Textures.ByKey); err == nil {
			rows = append(rows, catalogRow{Name: "textures", Digest: cats.Textures.Digest, JSON: b})
		}
	}
	if cats.Themes != nil {
		if b, err := json.Marshal(cats.Themes.ByName); err == nil {
			rows = append(rows, catalogRow{Name: "themes", Digest: cats.Themes.Digest, JSON: b})
		}
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	rows = append(rows, catalogRow{Name: "tuning", Digest: hex.EncodeToString(sum[:]), JSON: b})
	return rows, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(frame,cx,cy,cz,moved,generated,rebuilt,evicted,edits,resident,dirty,step_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunk_events(frame,seq,kind,cx,cy,cz,digest,faces,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertFrame != nil {
			_ = insertFrame.Close()
		}
		if insertChunk != nil {
			_ = insertChunk.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastChunkFrame uint64
		chunkSeq       int
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx, opCount, lastCommit = txx, 0, time.Now()
	}
	end := func(commit bool) {
		if tx == nil {
			return
		}
		if commit {
			_ = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
		tx, opCount, lastCommit = nil, 0, time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			f := r.frame
			if insertFrame == nil {
				break
			}
			if _, err := tx.Stmt(insertFrame).Exec(
				int64(f.Frame), f.View[0], f.View[1], f.View[2], boolInt(f.Moved),
				f.Generated, f.Rebuilt, f.Evicted, f.Edits, f.Resident, f.Dirty, f.StepMS,
			); err != nil {
				end(false)
				continue
			}
			opCount++

		case reqChunk:
			ev := r.chunk
			if ev.Frame != lastChunkFrame {
				lastChunkFrame, chunkSeq = ev.Frame, 0
			}
			seq := chunkSeq
			chunkSeq++
			if insertChunk == nil {
				break
			}
			raw, _ := json.Marshal(ev)
			var digest, faces any
			if ev.Digest != "" {
				digest = ev.Digest
			}
			if ev.Kind == world.ChunkMeshed {
				faces = ev.Faces
			}
			if _, err := tx.Stmt(insertChunk).Exec(
				int64(ev.Frame), seq, ev.Kind, ev.Chunk[0], ev.Chunk[1], ev.Chunk[2], digest, faces, string(raw),
			); err != nil {
				end(false)
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			end(true)
		}
	}
	end(true)
}
