package bridge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"steelcitybridge.dev/detector"
	"steelcitybridge.dev/eventlog"
	"steelcitybridge.dev/session"
)

func newTestOrchestrator(t *testing.T, plates ...string) (*Orchestrator, func() []eventlog.Record) {
	t.Helper()
	dir := t.TempDir()
	log, err := eventlog.New(eventlog.Config{Dir: dir, FilePrefix: "bridge", Mode: eventlog.ModeVerbose})
	if err != nil {
		t.Fatalf("eventlog.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	var sensors []SensorConfig
	for _, p := range plates {
		sensors = append(sensors, SensorConfig{Plate: p})
	}
	o := New(nil, Config{
		Sensors: sensors,
		Detector: detector.Params{
			TriggerHigh: 8.0, TriggerLow: 2.0, RingMinMs: 30, DeadTimeMs: 100,
			WarmupMs: 0, BaselineMin: 1e-4, MinAmp: 1.0,
		},
		SensorDtMs: 10,
	}, log, nil)

	read := func() []eventlog.Record {
		matches, _ := filepath.Glob(filepath.Join(dir, "bridge_*.ndjson"))
		var path string
		for _, m := range matches {
			if filepath.Base(m)[:7] == "bridge_" && len(filepath.Base(m)) > len("bridge_20260101.ndjson") {
				path = m
			}
		}
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		var recs []eventlog.Record
		for _, line := range splitLines(data) {
			if len(line) == 0 {
				continue
			}
			var r eventlog.Record
			if err := json.Unmarshal(line, &r); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			recs = append(recs, r)
		}
		return recs
	}
	return o, read
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return out
}

func TestHandleTimerFrameOpensAndClosesSession(t *testing.T) {
	o, read := newTestOrchestrator(t)
	now := time.Now()

	t0 := []byte{0x01, 0x05}
	o.handleTimerFrame(t0, now)
	if !o.state.pendingOpen {
		t.Fatal("session not opened after T0")
	}

	end := []byte{0x01, 0x09}
	o.handleTimerFrame(end, now.Add(time.Second))
	if o.state.pendingOpen {
		t.Fatal("session still open after ARROW_END")
	}

	recs := read()
	var sawT0, sawEnd bool
	for _, r := range recs {
		switch r["msg"] {
		case "T0":
			sawT0 = true
		case "SESSION_END":
			sawEnd = true
		}
	}
	if !sawT0 || !sawEnd {
		t.Fatalf("missing expected records: %+v", recs)
	}
}

func TestHandleTimerFrameInfersStartOncePerSession(t *testing.T) {
	o, read := newTestOrchestrator(t)
	now := time.Now()

	t0 := []byte{0x01, 0x05}
	end := []byte{0x01, 0x09}

	o.handleTimerFrame(t0, now)
	o.handleTimerFrame(end, now.Add(time.Second))
	o.handleTimerFrame(t0, now.Add(2*time.Second))

	var starts int
	var method string
	for _, r := range read() {
		if r["msg"] == "Timer_START_BTN" {
			starts++
			if data, ok := r["data"].(map[string]any); ok {
				method, _ = data["method"].(string)
			}
		}
	}
	// ARROW_END closes the first session, so the second T0 opens a new one
	// and infers its own start.
	if starts != 2 {
		t.Fatalf("expected one inferred Timer_START_BTN per session (2), got %d", starts)
	}
	if method != "inferred_at_t0" {
		t.Fatalf("Timer_START_BTN method = %q, want inferred_at_t0", method)
	}
}

func TestLogSessionEventResetsStartLatchOnReconnect(t *testing.T) {
	o, read := newTestOrchestrator(t)
	now := time.Now()

	// T0 without a prior explicit close still only infers once...
	o.handleTimerFrame([]byte{0x01, 0x05}, now)
	// ...but a disconnect/reconnect cycle must let the next T0 infer again.
	o.logSessionEvent("timer", session.Event{Kind: session.EventDisconnected})
	o.logSessionEvent("timer", session.Event{Kind: session.EventConnected})
	o.handleTimerFrame([]byte{0x01, 0x05}, now.Add(time.Second))

	var starts int
	for _, r := range read() {
		if r["msg"] == "Timer_START_BTN" {
			starts++
		}
	}
	if starts != 2 {
		t.Fatalf("expected inferred start on each connection, got %d", starts)
	}
}

func TestHandleSensorFrameEmitsHitOnlyDuringOpenSession(t *testing.T) {
	o, read := newTestOrchestrator(t, "A")
	now := time.Now()

	calm := mustVibration(t, 1, 0, 0)
	loud := mustVibration(t, 100, -1, 0)

	feedHitPattern := func() {
		for i := 0; i < 200; i++ {
			o.handleSensorFrame("A", calm, now)
		}
		o.handleSensorFrame("A", loud, now)
		for i := 0; i < 6; i++ {
			o.handleSensorFrame("A", calm, now)
		}
	}

	// Closed session: even a well-formed hit pattern must not produce a
	// logged HIT.
	feedHitPattern()
	for _, r := range read() {
		if r["msg"] == "HIT" {
			t.Fatalf("HIT logged while session closed: %+v", r)
		}
	}

	o.handleTimerFrame([]byte{0x01, 0x05}, now)
	feedHitPattern()

	var sawHit bool
	for _, r := range read() {
		if r["msg"] == "HIT" {
			sawHit = true
		}
	}
	if !sawHit {
		t.Fatal("expected a HIT record while session open")
	}
}

func mustVibration(t *testing.T, vx, vy, vz int16) []byte {
	t.Helper()
	b := make([]byte, 28)
	b[0], b[1] = 0x55, 0x61
	put := func(off int, v int16) {
		b[off] = byte(uint16(v))
		b[off+1] = byte(uint16(v) >> 8)
	}
	put(2, vx)
	put(4, vy)
	put(6, vz)
	return b
}
