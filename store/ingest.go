package store

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// record is the shape of a single NDJSON line as written by eventlog.Logger.
type record = map[string]any

// IngestFile reads NDJSON lines from path and inserts each into db,
// skipping malformed lines and duplicates (by session_id+seq). If session
// is non-empty, only records with a matching session_id are ingested. If
// limit is positive, ingestion stops after that many records. It returns
// the number of lines successfully inserted or ignored as duplicates.
func IngestFile(db *sql.DB, path string, session string, limit int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	stmt, err := db.Prepare(insertSQL)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if session != "" && asString(rec["session_id"]) != session {
			continue
		}
		if err := insertRecord(stmt, rec); err != nil {
			return n, fmt.Errorf("store: insert: %w", err)
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("store: scan %s: %w", path, err)
	}
	return n, nil
}

func insertRecord(stmt *sql.Stmt, rec record) error {
	dataJSON, err := json.Marshal(rec["data"])
	if err != nil {
		dataJSON = []byte("{}")
	}
	_, err = stmt.Exec(
		asInt(rec["seq"]),
		computeTsMs(rec),
		asString(rec["type"]),
		nullableString(rec["msg"]),
		nullableString(rec["plate"]),
		nullableFloat(rec["t_rel_ms"]),
		nullableString(rec["session_id"]),
		nullablePid(rec["pid"]),
		nullableString(rec["schema"]),
		string(dataJSON),
	)
	return err
}

// computeTsMs prefers the recorded ts_ms, falling back to t_rel_ms and
// finally to the current wall clock, matching the compatibility chain
// ingest_sqlite.py's _compute_ts_ms applies now that the logger omits
// machine timestamps by default.
func computeTsMs(rec record) float64 {
	if v, ok := numeric(rec["ts_ms"]); ok {
		return v
	}
	if v, ok := numeric(rec["t_rel_ms"]); ok {
		return v
	}
	return float64(time.Now().UnixNano()) / 1e6
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	n, _ := numeric(v)
	return int(n)
}

func nullableString(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return s
}

func nullableFloat(v any) any {
	n, ok := numeric(v)
	if !ok {
		return nil
	}
	return n
}

func nullablePid(v any) any {
	n, ok := numeric(v)
	if !ok {
		return nil
	}
	return int(n)
}

// CurrentDailyFile returns the path of the day's active NDJSON log under
// dir, named "<prefix>_YYYYMMDD.ndjson" — the daily alias eventlog.Logger
// maintains.
func CurrentDailyFile(dir, prefix string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.ndjson", prefix, now.Format(dayLayout)))
}

const dayLayout = "20060102"

// Follower tails a daily NDJSON log, ingesting newly appended lines into db
// as they arrive, and reopening across day rollover. It mirrors
// original_source/tools/ingest_follow.py's follow_and_ingest.
type Follower struct {
	db        *sql.DB
	dir       string
	prefix    string
	fromStart bool

	path    string
	f       *os.File
	offset  int64
	pending []byte
	stmt    *sql.Stmt
}

// NewFollower prepares a Follower against db. fromStart reads the current
// day's file from its beginning instead of only new lines.
func NewFollower(db *sql.DB, dir, prefix string, fromStart bool) (*Follower, error) {
	stmt, err := db.Prepare(insertSQL)
	if err != nil {
		return nil, fmt.Errorf("store: prepare insert: %w", err)
	}
	return &Follower{db: db, dir: dir, prefix: prefix, fromStart: fromStart, stmt: stmt}, nil
}

// Close releases the Follower's prepared statement and open file handle.
func (fo *Follower) Close() error {
	if fo.f != nil {
		fo.f.Close()
	}
	return fo.stmt.Close()
}

// Poll reopens the current day's file if it has rolled over, reads any
// newly appended lines, and ingests them. It returns the number of records
// ingested this call.
func (fo *Follower) Poll(now time.Time) (int, error) {
	want := CurrentDailyFile(fo.dir, fo.prefix, now)
	if want != fo.path {
		if fo.f != nil {
			fo.f.Close()
			fo.f = nil
		}
		if fo.path != "" {
			// Everything in the new day's file arrived after the previous poll.
			fo.fromStart = true
		}
		fo.path = want
		fo.offset = 0
		fo.pending = nil
	}
	if fo.f == nil {
		f, err := os.Open(fo.path)
		if os.IsNotExist(err) {
			// Once the file appears, all of its lines are new.
			fo.fromStart = true
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("store: open %s: %w", fo.path, err)
		}
		fo.f = f
		if !fo.fromStart {
			end, err := f.Seek(0, io.SeekEnd)
			if err != nil {
				return 0, fmt.Errorf("store: seek %s: %w", fo.path, err)
			}
			fo.offset = end
		}
		fo.fromStart = false
	}

	chunk, err := io.ReadAll(io.NewSectionReader(fo.f, fo.offset, 1<<30))
	if err != nil {
		return 0, fmt.Errorf("store: read %s: %w", fo.path, err)
	}
	if len(chunk) == 0 {
		return 0, nil
	}
	fo.offset += int64(len(chunk))
	fo.pending = append(fo.pending, chunk...)

	n := 0
	for {
		i := bytes.IndexByte(fo.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(fo.pending[:i]))
		fo.pending = fo.pending[i+1:]
		if line == "" {
			continue
		}
		var rec record
		if jerr := json.Unmarshal([]byte(line), &rec); jerr != nil {
			continue
		}
		if ierr := insertRecord(fo.stmt, rec); ierr == nil {
			n++
		}
	}
	return n, nil
}
