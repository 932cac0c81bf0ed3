// Package detector turns a scalar amplitude stream into discrete impact
// events using an envelope + hysteresis + ring-min + dead-time state
// machine with an EMA baseline.
package detector

import "math"

// Params tunes a Detector. Zero values are not usable defaults; construct
// with sensible values or decode from config.
type Params struct {
	TriggerHigh float64 // power-ratio threshold to start a ring
	TriggerLow  float64 // power-ratio threshold to close a ring
	RingMinMs   float64 // minimum ring duration before it may close
	DeadTimeMs  float64 // minimum gap since last hit before a new ring may start
	WarmupMs    float64 // elapsed time before the detector can arm
	BaselineMin float64 // minimum idle_rms required to arm
	MinAmp      float64 // absolute floor on amplitude to consider a ring start
}

const epsilon = 1e-9

type state int

const (
	idle state = iota
	ring
)

// Detector is a single sensor's online hit detector. The zero value is not
// ready for use; call New.
type Detector struct {
	p Params

	state          state
	idleRMS        float64
	sinceLastHitMs float64
	elapsedMs      float64
	armed          bool

	peak  float64
	sumSq float64
	count int
}

// New returns a Detector in its initial idle, unarmed, warming-up state.
func New(p Params) *Detector {
	return &Detector{
		p:              p,
		state:          idle,
		idleRMS:        1e-6,
		sinceLastHitMs: 1e9,
	}
}

// Hit describes a completed ring.
type Hit struct {
	Peak  float64
	RMS   float64
	DurMs float64
}

// Update feeds one amplitude sample taken dtMs milliseconds after the
// previous one. It returns a non-nil Hit when this sample closes a ring.
func (d *Detector) Update(amp, dtMs float64) *Hit {
	d.elapsedMs += dtMs
	d.sinceLastHitMs += dtMs

	env := amp
	if env < 0 {
		env = -env
	}

	if env <= d.p.MinAmp*2 {
		d.idleRMS = 0.99*d.idleRMS + 0.01*(amp*amp)
	}

	if !d.armed && d.elapsedMs >= d.p.WarmupMs && d.idleRMS >= d.p.BaselineMin {
		d.armed = true
	}

	powRatio := (env * env) / (d.idleRMS + epsilon)

	switch d.state {
	case idle:
		if d.armed && env >= d.p.MinAmp && powRatio >= d.p.TriggerHigh && d.sinceLastHitMs >= d.p.DeadTimeMs {
			d.state = ring
			d.peak = env
			d.sumSq = env * env
			d.count = 1
		}
		return nil

	case ring:
		if env > d.peak {
			d.peak = env
		}
		d.sumSq += env * env
		d.count++
		if powRatio <= d.p.TriggerLow && float64(d.count)*dtMs >= d.p.RingMinMs {
			count := d.count
			if count < 1 {
				count = 1
			}
			hit := &Hit{
				Peak:  d.peak,
				RMS:   math.Sqrt(d.sumSq / float64(count)),
				DurMs: float64(d.count) * dtMs,
			}
			d.state = idle
			d.sinceLastHitMs = 0
			return hit
		}
		return nil
	}
	return nil
}
