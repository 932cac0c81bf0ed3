package eventlog

import "reflect"

// Mode selects how aggressively records are filtered before the main log
// file. Verbose mode writes everything; regular mode drops noise.
type Mode string

const (
	ModeRegular Mode = "regular"
	ModeVerbose Mode = "verbose"
)

// allow reports whether rec passes the main-file filter under mode. It
// never touches rec; callers still write the unfiltered record to the
// debug file when dual-file mode is enabled.
func (l *Logger) allow(rec Record) bool {
	if l.mode != ModeRegular {
		return true
	}

	typ, _ := rec["type"].(string)
	msg, _ := rec["msg"].(string)
	data, _ := rec["data"].(Record)

	if typ == "status" && msg == "alive" {
		if n, ok := sliceLen(data["sensors"]); ok && n == 0 {
			return false
		}
	}

	if typ != "debug" {
		return true
	}

	if msg == "bt50_buffer_status" && !l.whitelisted(msg) {
		return false
	}

	ca, hasAmp := numeric(data["current_amp"])
	if hasAmp {
		if abs(ca) <= l.currentAmpThreshold {
			return false
		}
		return true
	}

	return l.whitelisted(msg)
}

func (l *Logger) whitelisted(msg string) bool {
	return msg != "" && l.verboseWhitelist[msg]
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// sliceLen reports the length of v when it is any slice type, so the
// heartbeat filter works whether a caller built data["sensors"] as
// []string, []int, or []any.
func sliceLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, false
	}
	return rv.Len(), true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
