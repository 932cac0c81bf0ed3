package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timestampLayout = "20060102_150405"
const dayLayout = "20060102"

// rotate closes the current file handles (if any) and opens fresh ones
// named for the current local time, maintaining a daily alias that existing
// tools expect: "<prefix>_YYYYMMDD.ndjson", hardlinked to the timestamped
// file when possible, symlinked otherwise, and touched into existence as a
// last resort.
func (l *Logger) rotate(now time.Time) error {
	if l.fh != nil {
		l.fh.Close()
		l.fh = nil
	}
	if l.debugFh != nil {
		l.debugFh.Close()
		l.debugFh = nil
	}

	stamp := now.Format(timestampLayout)
	day := now.Format(dayLayout)

	path := filepath.Join(l.dir, fmt.Sprintf("%s_%s.ndjson", l.prefix, stamp))
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open log file: %w", err)
	}
	l.fh = fh
	l.path = path
	l.rotDay = day
	maintainAlias(l.dir, fmt.Sprintf("%s_%s.ndjson", l.prefix, day), path)

	if l.dualFile {
		debugDir := filepath.Join(l.dir, l.debugSubdir)
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			debugDir = l.dir
		}
		l.debugDir = debugDir
		dpath := filepath.Join(debugDir, fmt.Sprintf("%s_debug_%s.ndjson", l.prefix, stamp))
		if dfh, err := os.OpenFile(dpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			l.debugFh = dfh
			l.debugPath = dpath
			maintainAlias(debugDir, fmt.Sprintf("%s_debug_%s.ndjson", l.prefix, day), dpath)
		}
	}

	return nil
}

// maintainAlias points aliasName (inside dir) at target, preferring a
// hardlink (same filesystem), falling back to a symlink, and finally to an
// empty touched file if neither succeeds. Alias failures are non-fatal.
func maintainAlias(dir, aliasName, target string) {
	alias := filepath.Join(dir, aliasName)
	if _, err := os.Lstat(alias); err == nil {
		os.Remove(alias)
	}
	if err := os.Link(target, alias); err == nil {
		return
	}
	if err := os.Symlink(target, alias); err == nil {
		return
	}
	if f, err := os.OpenFile(alias, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}
}
