package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// Reader queries an index written by another process.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing index database without starting a writer.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Summary(ctx context.Context) (Summary, error) {
	return querySummary(ctx, r.db)
}

func (r *Reader) ChunkHistory(ctx context.Context, key [3]int) ([]ChunkHistoryRow, error) {
	return queryChunkHistory(ctx, r.db, key)
}

func (r *Reader) RecentFrames(ctx context.Context, limit int) ([]FrameRow, error) {
	return queryRecentFrames(ctx, r.db, limit)
}

type Summary struct {
	Frames    int               `json:"frames"`
	LastFrame int64             `json:"last_frame"`
	Events    map[string]int    `json:"events"`
	Catalogs  map[string]string `json:"catalogs"`
}

// Summary counts indexed rows. Safe to call while the writer is running.
func (s *SQLiteIndex) Summary(ctx context.Context) (Summary, error) {
	return querySummary(ctx, s.db)
}

func querySummary(ctx context.Context, db *sql.DB) (Summary, error) {
	out := Summary{Events: map[string]int{}, Catalogs: map[string]string{}}
	var last sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(frame) FROM frames`).Scan(&out.Frames, &last); err != nil {
		return out, err
	}
	out.LastFrame = last.Int64

	rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM chunk_events GROUP BY kind`)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return out, err
		}
		out.Events[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	rows, err = db.QueryContext(ctx, `SELECT name, digest FROM catalogs ORDER BY name`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, digest string
		if err := rows.Scan(&name, &digest); err != nil {
			return out, err
		}
		out.Catalogs[name] = digest
	}
	return out, rows.Err()
}

type ChunkHistoryRow struct {
	Frame  int64  `json:"frame"`
	Kind   string `json:"kind"`
	Digest string `json:"digest,omitempty"`
	Faces  int    `json:"faces,omitempty"`
}

// ChunkHistory lists the lifecycle events recorded for one chunk, oldest
// first.
func (s *SQLiteIndex) ChunkHistory(ctx context.Context, key [3]int) ([]ChunkHistoryRow, error) {
	return queryChunkHistory(ctx, s.db, key)
}

func queryChunkHistory(ctx context.Context, db *sql.DB, key [3]int) ([]ChunkHistoryRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT frame, kind, COALESCE(digest,''), COALESCE(faces,0)
		FROM chunk_events WHERE cx=? AND cy=? AND cz=? ORDER BY frame, seq`, key[0], key[1], key[2])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkHistoryRow
	for rows.Next() {
		var r ChunkHistoryRow
		if err := rows.Scan(&r.Frame, &r.Kind, &r.Digest, &r.Faces); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type FrameRow struct {
	Frame     int64   `json:"frame"`
	View      [3]int  `json:"view"`
	Moved     bool    `json:"moved"`
	Generated int     `json:"generated"`
	Rebuilt   int     `json:"rebuilt"`
	Evicted   int     `json:"evicted"`
	Edits     int     `json:"edits"`
	Resident  int     `json:"resident"`
	Dirty     int     `json:"dirty"`
	StepMS    float64 `json:"step_ms"`
}

// RecentFrames lists the newest indexed frames, newest first.
func (s *SQLiteIndex) RecentFrames(ctx context.Context, limit int) ([]FrameRow, error) {
	return queryRecentFrames(ctx, s.db, limit)
}

func queryRecentFrames(ctx context.Context, db *sql.DB, limit int) ([]FrameRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT frame,cx,cy,cz,moved,generated,rebuilt,evicted,edits,resident,dirty,step_ms
		FROM frames ORDER BY frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FrameRow
	for rows.Next() {
		var r FrameRow
		var moved int
		if err := rows.Scan(&r.Frame, &r.View[0], &r.View[1], &r.View[2], &moved,
			&r.Generated, &r.Rebuilt, &r.Evicted, &r.Edits, &r.Resident, &r.Dirty, &r.StepMS); err != nil {
			return nil, err
		}
		r.Moved = moved != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
