package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeLog(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return path
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngestFileInsertsRecords(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeLog(t, dir, "bridge_20260101.ndjson",
		`{"seq":1,"ts_ms":100.0,"type":"event","msg":"T0","session_id":"s1","data":{}}`,
		`{"seq":2,"ts_ms":101.5,"type":"event","msg":"SHOT_RAW","session_id":"s1","data":{"hex":"ab"}}`,
	)

	n, err := IngestFile(db, path, "", 0)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("ingested %d, want 2", n)
	}
	if got := countRows(t, db); got != 2 {
		t.Fatalf("row count = %d, want 2", got)
	}
}

func TestIngestFileIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeLog(t, dir, "bridge_20260101.ndjson",
		`{"seq":1,"ts_ms":100.0,"type":"event","msg":"T0","session_id":"s1","data":{}}`,
	)

	if _, err := IngestFile(db, path, "", 0); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := IngestFile(db, path, "", 0); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if got := countRows(t, db); got != 1 {
		t.Fatalf("row count = %d after re-ingest, want 1 (session_id+seq unique)", got)
	}
}

func TestIngestFileFiltersBySession(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeLog(t, dir, "bridge_20260101.ndjson",
		`{"seq":1,"ts_ms":100.0,"type":"event","msg":"T0","session_id":"s1"}`,
		`{"seq":1,"ts_ms":100.0,"type":"event","msg":"T0","session_id":"s2"}`,
	)

	n, err := IngestFile(db, path, "s1", 0)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 1 {
		t.Fatalf("ingested %d, want 1", n)
	}
}

func TestIngestFileSkipsMalformedLines(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	path := writeLog(t, dir, "bridge_20260101.ndjson",
		`not json`,
		`{"seq":1,"ts_ms":100.0,"type":"event","msg":"T0","session_id":"s1"}`,
	)

	n, err := IngestFile(db, path, "", 0)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 1 {
		t.Fatalf("ingested %d, want 1", n)
	}
}

func TestComputeTsMsFallsBackToTRelMs(t *testing.T) {
	rec := record{"t_rel_ms": 42.0}
	if got := computeTsMs(rec); got != 42.0 {
		t.Fatalf("computeTsMs = %v, want 42.0", got)
	}
}

func TestComputeTsMsFallsBackToWallClock(t *testing.T) {
	before := float64(time.Now().UnixNano()) / 1e6
	got := computeTsMs(record{})
	if got < before {
		t.Fatalf("computeTsMs = %v, want >= %v", got, before)
	}
}

func TestFollowerIngestsAppendedLines(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	path := CurrentDailyFile(dir, "bridge", now)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.WriteString(`{"seq":1,"ts_ms":1.0,"type":"event","msg":"T0","session_id":"s1"}` + "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	fo, err := NewFollower(db, dir, "bridge", true)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}
	defer fo.Close()

	n, err := fo.Poll(now)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll ingested %d, want 1", n)
	}

	if _, err := f.WriteString(`{"seq":2,"ts_ms":2.0,"type":"event","msg":"SHOT_RAW","session_id":"s1"}` + "\n"); err != nil {
		t.Fatalf("write second line: %v", err)
	}
	f.Close()

	n, err = fo.Poll(now)
	if err != nil {
		t.Fatalf("Poll 2: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll 2 ingested %d, want 1", n)
	}

	if got := countRows(t, db); got != 2 {
		t.Fatalf("row count = %d, want 2", got)
	}
}

func TestFollowerSkipsPartialTrailingLine(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	path := CurrentDailyFile(dir, "bridge", now)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.WriteString(`{"seq":1,"ts_ms":1.0,"type":"event","session_id":"s1"}` + "\n{\"seq\":2"); err != nil {
		t.Fatalf("write: %v", err)
	}

	fo, err := NewFollower(db, dir, "bridge", true)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}
	defer fo.Close()

	n, err := fo.Poll(now)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll ingested %d, want 1 (partial line held back)", n)
	}
	if got := countRows(t, db); got != 1 {
		t.Fatalf("row count = %d, want 1", got)
	}

	if _, err := f.WriteString(`,"ts_ms":2.0,"type":"event","session_id":"s1"}` + "\n"); err != nil {
		t.Fatalf("complete partial line: %v", err)
	}
	f.Close()

	n, err = fo.Poll(now)
	if err != nil {
		t.Fatalf("Poll 2: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll 2 ingested %d, want 1 once the line is complete", n)
	}
}
