package session

import (
	"time"

	"steelcitybridge.dev/session/ble"
)

// idleWatchdog forces a reconnect when no notification has arrived for a
// configured duration. Reset on every notification; Expired fires once per
// idle period, and Reset discards an expiry that has not been received.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
}

func newIdleWatchdog(timeout time.Duration) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.NewTimer(timeout)
	}
	return w
}

// Expired reports the channel to select on for idle expiry. A zero timeout
// disables the watchdog; Expired then returns nil, which blocks forever in
// a select, matching the "disabled" intent.
func (w *idleWatchdog) Expired() <-chan time.Time {
	if w.timer == nil {
		return nil
	}
	return w.timer.C
}

func (w *idleWatchdog) Reset() {
	if w.timer == nil {
		return
	}
	if !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}
	w.timer.Reset(w.timeout)
}

func (w *idleWatchdog) Stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// batteryKeepalive performs a benign battery-characteristic read on an
// interval purely to generate traffic; the value itself is discarded and
// read errors are swallowed.
type batteryKeepalive struct {
	interval time.Duration
	ticker   *time.Ticker
}

func newBatteryKeepalive(interval time.Duration) *batteryKeepalive {
	k := &batteryKeepalive{interval: interval}
	if interval > 0 {
		k.ticker = time.NewTicker(interval)
	}
	return k
}

func (k *batteryKeepalive) Tick() <-chan time.Time {
	if k.ticker == nil {
		return nil
	}
	return k.ticker.C
}

func (k *batteryKeepalive) Stop() {
	if k.ticker != nil {
		k.ticker.Stop()
	}
}

// probe issues the read and discards both the value and any error.
func (k *batteryKeepalive) probe(dev ble.Device) {
	batt, err := dev.Characteristic(ble.StandardBatteryUUID)
	if err != nil {
		return
	}
	_, _ = batt.Read()
}
