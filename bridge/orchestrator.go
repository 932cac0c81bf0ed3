// Package bridge wires a timer Transport Session and one Transport Session
// per vibration sensor through the frame codec, signal classifier, and hit
// detector into the shared event logger. It owns session lifecycle (T0
// opens an archery session; ARROW_END/TIMEOUT_END closes it) and emits a
// periodic heartbeat.
package bridge

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"steelcitybridge.dev/detector"
	"steelcitybridge.dev/eventlog"
	"steelcitybridge.dev/frame"
	"steelcitybridge.dev/session"
	"steelcitybridge.dev/session/ble"
	"steelcitybridge.dev/signal"
)

// SensorConfig names a vibration sensor's Transport Session and the plate
// label it reports under.
type SensorConfig struct {
	Plate   string
	Session session.Config
}

// Config configures an Orchestrator.
type Config struct {
	Timer    session.Config
	Sensors  []SensorConfig
	Detector detector.Params

	// SensorDtMs is the nominal sample period fed to each detector;
	// vibration sensors report at 100 Hz (10 ms) per §4.3.
	SensorDtMs float64

	HeartbeatInterval time.Duration
}

// Orchestrator is the Bridge Orchestrator (C6).
type Orchestrator struct {
	cfg     Config
	adapter ble.Adapter
	log     *eventlog.Logger
	zlog    *zap.SugaredLogger

	mu        sync.Mutex
	state     sessionState
	detectors map[string]*detector.Detector
}

// New returns an Orchestrator ready to Run. zlog may be nil, in which case
// operational diagnostics are discarded.
func New(adapter ble.Adapter, cfg Config, log *eventlog.Logger, zlog *zap.SugaredLogger) *Orchestrator {
	if zlog == nil {
		zlog = zap.NewNop().Sugar()
	}
	if cfg.SensorDtMs == 0 {
		cfg.SensorDtMs = 10
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	dets := make(map[string]*detector.Detector, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		dets[s.Plate] = detector.New(cfg.Detector)
	}
	return &Orchestrator{
		cfg:       cfg,
		adapter:   adapter,
		log:       log,
		zlog:      zlog,
		detectors: dets,
	}
}

// Run starts the timer session, every sensor session, and the heartbeat,
// and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	timerSess := session.New(o.adapter, o.cfg.Timer, o.zlog.Named("timer"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := timerSess.Run(ctx); err != nil {
			o.zlog.Infow("timer session stopped", "error", err)
		}
	}()
	go o.consumeTimer(timerSess)

	for _, sc := range o.cfg.Sensors {
		sc := sc
		sensorSess := session.New(o.adapter, sc.Session, o.zlog.Named("sensor."+sc.Plate))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sensorSess.Run(ctx); err != nil {
				o.zlog.Infow("sensor session stopped", "plate", sc.Plate, "error", err)
			}
		}()
		go o.consumeSensor(sc.Plate, sensorSess)
	}

	go o.heartbeat(ctx)

	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) consumeTimer(sess *session.Session) {
	for {
		select {
		case raw, ok := <-sess.Frames():
			if !ok {
				return
			}
			o.handleTimerFrame(raw, time.Now())
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			o.logSessionEvent("timer", ev)
		}
	}
}

func (o *Orchestrator) consumeSensor(plate string, sess *session.Session) {
	for {
		select {
		case raw, ok := <-sess.Frames():
			if !ok {
				return
			}
			o.handleSensorFrame(plate, raw, time.Now())
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			o.logSessionEvent(plate, ev)
		}
	}
}

func (o *Orchestrator) logSessionEvent(source string, ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		if source == "timer" {
			o.mu.Lock()
			o.state.resetStart()
			o.mu.Unlock()
		}
		o.log.Write(eventlog.Record{"type": "info", "msg": "connected", "plate": source})
	case session.EventDisconnected:
		if source == "timer" {
			o.mu.Lock()
			o.state.resetStart()
			o.mu.Unlock()
		}
		rec := eventlog.Record{"type": "info", "msg": "disconnected", "plate": source}
		if ev.Err != nil {
			rec["data"] = eventlog.Record{"reason": ev.Err.Error()}
		}
		o.log.Write(rec)
	case session.EventError:
		o.log.Write(eventlog.Record{"type": "error", "msg": "session error", "plate": source,
			"data": eventlog.Record{"error": ev.Err.Error()}})
	}
}

// handleTimerFrame classifies a raw timer notification and updates session
// lifecycle, logging T0/SHOT_RAW/ARROW_END/TIMEOUT_END as events.
func (o *Orchestrator) handleTimerFrame(raw []byte, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, sig := range signal.Classify(raw) {
		switch sig {
		case signal.T0:
			if o.state.open(now) {
				o.log.Write(eventlog.Record{"type": "event", "msg": "Timer_START_BTN",
					"data": eventlog.Record{"hex": hex.EncodeToString(raw), "method": "inferred_at_t0"}})
			}
			o.log.Write(eventlog.Record{"type": "event", "t_rel_ms": 0.0, "msg": "T0",
				"data": eventlog.Record{"hex": hex.EncodeToString(raw)}})
		case signal.ShotRaw:
			rel, _ := o.state.relMs(now)
			o.log.Write(eventlog.Record{"type": "event", "t_rel_ms": rel, "msg": "SHOT_RAW",
				"data": eventlog.Record{"hex": hex.EncodeToString(raw)}})
		case signal.ArrowEnd:
			rel, _ := o.state.relMs(now)
			o.state.close()
			o.log.Write(eventlog.Record{"type": "event", "t_rel_ms": rel, "msg": "SESSION_END",
				"data": eventlog.Record{"reason": "arrow_end"}})
		case signal.TimeoutEnd:
			rel, _ := o.state.relMs(now)
			o.state.close()
			o.log.Write(eventlog.Record{"type": "event", "t_rel_ms": rel, "msg": "SESSION_END",
				"data": eventlog.Record{"reason": "timeout_end"}})
		}
	}
}

// handleSensorFrame decodes a vibration notification (falling back to a
// byte-energy amplitude when decode fails) and feeds the plate's detector,
// logging a HIT event when a ring closes during an open session.
func (o *Orchestrator) handleSensorFrame(plate string, raw []byte, now time.Time) {
	amp := amplitude(raw)

	o.mu.Lock()
	defer o.mu.Unlock()

	det, ok := o.detectors[plate]
	if !ok {
		return
	}
	hit := det.Update(amp, o.cfg.SensorDtMs)
	if hit == nil {
		return
	}
	rel, open := o.state.relMs(now)
	if !open {
		return
	}
	o.log.Write(eventlog.Record{"type": "event", "plate": plate, "t_rel_ms": rel, "msg": "HIT",
		"data": eventlog.Record{"peak": hit.Peak, "rms": hit.RMS, "dur_ms": hit.DurMs}})
}

func amplitude(raw []byte) float64 {
	v, err := frame.DecodeVibration(raw)
	if err != nil {
		return frame.AmplitudeFallback(raw)
	}
	return v.Amplitude()
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	t := time.NewTicker(o.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			o.mu.Lock()
			rel, open := o.state.relMs(now)
			plates := make([]string, 0, len(o.detectors))
			for p := range o.detectors {
				plates = append(plates, p)
			}
			o.mu.Unlock()

			rec := eventlog.Record{"type": "status", "msg": "alive",
				"data": eventlog.Record{"sensors": plates}}
			if open {
				rec["t_rel_ms"] = rel
			}
			o.log.Write(rec)
		}
	}
}

