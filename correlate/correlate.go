// Package correlate implements the offline T0/HIT matching algorithm:
// for each timer start, pair the best vibration HIT within a bounded lag,
// preferring a strong match on the decoded timer sub-object over the
// earliest in-window candidate. Grounded verbatim (matching policy) on
// original_source/tools/timing_correlation_report.py's generate_matches,
// with the per-T0 amg lookup corrected to use each T0's own data instead of
// always the session's first.
package correlate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Event is a minimal projection of an events row needed for matching.
type Event struct {
	Seq       int
	TsMs      float64
	SessionID string
	Msg       string
	DataJSON  string
}

// amg is the decoded data.amg sub-object, when present.
type amg struct {
	ShotIdx *int    `json:"shot_idx"`
	TailHex *string `json:"tail_hex"`
}

func (e Event) amg() *amg {
	if e.DataJSON == "" {
		return nil
	}
	var data struct {
		AMG *amg `json:"amg"`
	}
	if err := json.Unmarshal([]byte(e.DataJSON), &data); err != nil {
		return nil
	}
	return data.AMG
}

func (a *amg) matches(b *amg) bool {
	if a == nil || b == nil {
		return false
	}
	if a.ShotIdx != nil && b.ShotIdx != nil && *a.ShotIdx == *b.ShotIdx {
		return true
	}
	if a.TailHex != nil && b.TailHex != nil && *a.TailHex == *b.TailHex {
		return true
	}
	return false
}

// Match is one paired T0/HIT, ready for CSV output.
type Match struct {
	SessionID string
	T0Seq     int
	T0TsMs    float64
	HitSeq    int
	HitTsMs   float64
	OffsetMs  float64
}

// LoadEvents reads every row from the events table ordered by ts_ms,
// optionally restricted to one session.
func LoadEvents(db *sql.DB, session string) ([]Event, error) {
	query := "SELECT seq, ts_ms, session_id, msg, data_json FROM events"
	args := []any{}
	if session != "" {
		query += " WHERE session_id = ?"
		args = append(args, session)
	}
	query += " ORDER BY ts_ms"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("correlate: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var sid, msg, data sql.NullString
		if err := rows.Scan(&e.Seq, &e.TsMs, &sid, &msg, &data); err != nil {
			return nil, fmt.Errorf("correlate: scan event: %w", err)
		}
		e.SessionID = sid.String
		e.Msg = msg.String
		e.DataJSON = data.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// GenerateMatches pairs T0 and HIT events per session, per spec: for each
// T0, among unused HITs with ts within (t0, t0+maxLagMs], prefer the first
// whose decoded data.amg shares a shot_idx or tail_hex with the T0's
// (strong match); otherwise take the earliest in-window HIT (weak match).
// Each HIT is consumed by at most one T0.
func GenerateMatches(events []Event, maxLagMs float64) []Match {
	bySession := map[string]*sessionEvents{}
	order := []string{}
	for _, e := range events {
		se, ok := bySession[e.SessionID]
		if !ok {
			se = &sessionEvents{}
			bySession[e.SessionID] = se
			order = append(order, e.SessionID)
		}
		switch e.Msg {
		case "T0":
			se.t0s = append(se.t0s, e)
		case "HIT":
			se.hits = append(se.hits, e)
		}
	}
	sort.Strings(order)

	var matches []Match
	for _, sid := range order {
		se := bySession[sid]
		used := make([]bool, len(se.hits))
		for _, t0 := range se.t0s {
			idx := pickMatch(t0, se.hits, used, maxLagMs)
			if idx < 0 {
				continue
			}
			used[idx] = true
			hit := se.hits[idx]
			matches = append(matches, Match{
				SessionID: sid,
				T0Seq:     t0.Seq,
				T0TsMs:    t0.TsMs,
				HitSeq:    hit.Seq,
				HitTsMs:   hit.TsMs,
				OffsetMs:  hit.TsMs - t0.TsMs,
			})
		}
	}
	return matches
}

type sessionEvents struct {
	t0s  []Event
	hits []Event
}

// pickMatch returns the index into hits of the HIT this T0 should consume,
// or -1 if none qualifies.
func pickMatch(t0 Event, hits []Event, used []bool, maxLagMs float64) int {
	t0AMG := t0.amg()
	firstInWindow := -1
	for i, h := range hits {
		if used[i] {
			continue
		}
		offset := h.TsMs - t0.TsMs
		if offset <= 0 || offset > maxLagMs {
			continue
		}
		if firstInWindow < 0 {
			firstInWindow = i
		}
		if t0AMG != nil && t0AMG.matches(h.amg()) {
			return i
		}
	}
	return firstInWindow
}

// Summary holds aggregate stats over a set of matches.
type Summary struct {
	Count        int
	Sessions     int
	MeanOffsetMs float64
	StdDevMs     float64
}

// Summarize computes population (not sample) mean/stddev of match offsets.
func Summarize(matches []Match) Summary {
	if len(matches) == 0 {
		return Summary{}
	}
	sessions := map[string]struct{}{}
	var sum float64
	for _, m := range matches {
		sessions[m.SessionID] = struct{}{}
		sum += m.OffsetMs
	}
	n := float64(len(matches))
	mean := sum / n
	var variance float64
	for _, m := range matches {
		d := m.OffsetMs - mean
		variance += d * d
	}
	variance /= n
	return Summary{
		Count:        len(matches),
		Sessions:     len(sessions),
		MeanOffsetMs: mean,
		StdDevMs:     math.Sqrt(variance),
	}
}
