// Package eventlog is the bridge's domain event log: an append-only,
// line-delimited JSON writer with mode-based filtering, optional dual-file
// (compact + full debug) output, daily rotation with an alias, and
// timer-frame enrichment. It is hand-rolled on encoding/json rather than a
// structured-logging framework because no generic logger can express this
// filtering/enrichment/rotation combination; process-level operational
// diagnostics go through zap instead, in the bridge package.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one log entry, keyed the same way the on-disk JSON object is.
type Record = map[string]any

// Config configures a Logger.
type Config struct {
	Dir              string
	FilePrefix       string
	Mode             Mode
	VerboseWhitelist []string
	DualFile         bool
	DebugSubdir      string

	// CurrentAmpThreshold is the magnitude below which a debug record's
	// data.current_amp is treated as zero. Zero selects the default 1e-6.
	CurrentAmpThreshold float64

	// SessionID overrides the generated per-process session id.
	SessionID string
}

// Logger is the shared, append-only event writer. All producers share one
// instance; Write serializes access so records are never interleaved.
type Logger struct {
	mu sync.Mutex

	dir                 string
	prefix              string
	mode                Mode
	verboseWhitelist    map[string]bool
	currentAmpThreshold float64
	dualFile            bool
	debugSubdir         string

	sessionID string
	pid       int
	seq       int

	fh        *os.File
	path      string
	debugFh   *os.File
	debugPath string
	debugDir  string
	rotDay    string
}

// New creates the log directory, opens the first rotation, and returns a
// ready Logger.
func New(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create log dir: %w", err)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeRegular
	}
	threshold := cfg.CurrentAmpThreshold
	if threshold == 0 {
		threshold = 1e-6
	}
	debugSubdir := cfg.DebugSubdir
	if debugSubdir == "" {
		debugSubdir = "debug"
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()[:12]
	}
	wl := make(map[string]bool, len(cfg.VerboseWhitelist))
	for _, m := range cfg.VerboseWhitelist {
		wl[m] = true
	}

	l := &Logger{
		dir:                 cfg.Dir,
		prefix:              cfg.FilePrefix,
		mode:                mode,
		verboseWhitelist:    wl,
		currentAmpThreshold: threshold,
		dualFile:            cfg.DualFile,
		debugSubdir:         debugSubdir,
		sessionID:           sessionID,
		pid:                 os.Getpid(),
	}
	if err := l.rotate(time.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

// SessionID returns the per-process session id used to stamp every record.
func (l *Logger) SessionID() string { return l.sessionID }

// Write filters, enriches, and appends rec. Machine timestamps (ts_ms,
// t_iso) are stripped if present; seq, hms, schema, session_id and pid are
// filled in when absent. A day rollover triggers rotation before the write.
// Log I/O failures are swallowed (per the Config/IO/Protocol/Transient/
// Malformed error taxonomy this logger is not allowed to abort the
// process), so Write never returns an error the caller must handle beyond
// best-effort delivery.
func (l *Logger) Write(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	allow := l.allow(rec)
	enrich(rec)

	now := time.Now()
	delete(rec, "ts_ms")
	delete(rec, "t_iso")
	setdefault(rec, "hms", formatHMS(now))
	l.seq++
	setdefault(rec, "seq", l.seq)
	setdefault(rec, "schema", "v1")
	setdefault(rec, "session_id", l.sessionID)
	setdefault(rec, "pid", l.pid)

	if now.Format(dayLayout) != l.rotDay {
		if err := l.rotate(now); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: rotate: %v\n", err)
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventlog: marshal record: %v\n", err)
		return
	}
	line = append(line, '\n')

	if l.dualFile && l.debugFh != nil {
		if _, err := l.debugFh.Write(line); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: write debug file: %v\n", err)
		}
	}
	if allow && l.fh != nil {
		if _, err := l.fh.Write(line); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: write log file: %v\n", err)
		}
	}
}

// Close flushes and releases the underlying file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.fh != nil {
		err = l.fh.Close()
		l.fh = nil
	}
	if l.debugFh != nil {
		if e := l.debugFh.Close(); e != nil && err == nil {
			err = e
		}
		l.debugFh = nil
	}
	return err
}

func setdefault(rec Record, key string, v any) {
	if _, ok := rec[key]; !ok {
		rec[key] = v
	}
}

func formatHMS(t time.Time) string {
	return fmt.Sprintf("%s.%03d", t.Format("15:04:05"), t.Nanosecond()/1e6)
}
