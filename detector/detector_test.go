package detector

import "testing"

func defaultParams() Params {
	return Params{
		TriggerHigh: 8.0,
		TriggerLow:  2.0,
		RingMinMs:   30,
		DeadTimeMs:  100,
		WarmupMs:    300,
		BaselineMin: 1e-4,
		MinAmp:      1.0,
	}
}

func feed(d *Detector, amps []float64, dtMs float64) []Hit {
	var hits []Hit
	for _, a := range amps {
		if h := d.Update(a, dtMs); h != nil {
			hits = append(hits, *h)
		}
	}
	return hits
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Scenario 1: single hit, single session.
func TestDetectorSingleHit(t *testing.T) {
	d := New(defaultParams())
	var amps []float64
	amps = append(amps, repeat(0.2, 40)...)
	amps = append(amps, 5.0)
	amps = append(amps, 4.0, 3.0, 2.0, 1.0)
	amps = append(amps, repeat(0.3, 50)...)

	hits := feed(d, amps, 10)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %+v", len(hits), hits)
	}
	if hits[0].DurMs < 30 {
		t.Fatalf("hit DurMs = %v, want >= 30", hits[0].DurMs)
	}
}

// Scenario 2: dead-time swallows a second hit arriving before dead_time_ms
// has elapsed since the first closed.
func TestDetectorDeadTimeSwallowsSecondHit(t *testing.T) {
	d := New(defaultParams())
	var amps []float64
	amps = append(amps, repeat(0.2, 40)...)
	amps = append(amps, 5, 4, 3, 2)
	amps = append(amps, repeat(0.3, 5)...)
	amps = append(amps, 5, 4, 3, 2)
	amps = append(amps, repeat(0.3, 50)...)

	hits := feed(d, amps, 10)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %+v", len(hits), hits)
	}
}

func TestDetectorStaysIdleBeforeArming(t *testing.T) {
	d := New(defaultParams())
	// Warmup is 300ms; at 10ms/sample that's 30 samples. A loud spike
	// before that must not start a ring.
	amps := append(repeat(0.2, 10), 9.0, 9.0, 9.0, 9.0)
	hits := feed(d, amps, 10)
	if len(hits) != 0 {
		t.Fatalf("got %d hits before arming, want 0: %+v", len(hits), hits)
	}
}

func TestDetectorBaselineOnlyUpdatesDuringCalmPeriods(t *testing.T) {
	d := New(defaultParams())
	feed(d, repeat(0.2, 40), 10)
	before := d.idleRMS
	// Large-amplitude samples above 2*MinAmp must not perturb the baseline.
	feed(d, []float64{9, 9, 9}, 10)
	if d.idleRMS != before {
		t.Fatalf("idleRMS changed during loud samples: before=%v after=%v", before, d.idleRMS)
	}
}
