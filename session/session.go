// Package session implements one device's connect/subscribe/keepalive/
// reconnect loop: a Transport Session in front of a BLE peripheral,
// delivering raw notification bytes to its owner over a channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"steelcitybridge.dev/session/ble"
)

// Config configures one Session.
type Config struct {
	Adapter    string
	MAC        string // preferred: connect by address
	Name       string // fallback: substring match during discovery
	NotifyUUID string
	WriteUUID  string

	InitCommands []InitCommand

	IdleReconnectSec    float64 // 0 selects the default of 15
	KeepaliveBattSec    float64 // 0 selects the default of 60
	ReconnectInitialSec float64
	ReconnectMaxSec     float64
	ReconnectJitterSec  float64
}

func secs(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// EventKind labels a structured Session lifecycle event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)

// Event is delivered to the orchestrator over Events(); device tasks never
// call back into the orchestrator synchronously.
type Event struct {
	Kind EventKind
	Err  error
}

// Session is one device's connect/subscribe/keepalive/reconnect loop. The
// zero value is not usable; construct with New.
type Session struct {
	cfg     Config
	adapter ble.Adapter
	log     *zap.SugaredLogger

	frames chan []byte
	events chan Event
}

// New returns a Session for the given adapter and configuration. log may be
// nil, in which case a no-op logger is used.
func New(adapter ble.Adapter, cfg Config, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		cfg:     cfg,
		adapter: adapter,
		log:     log,
		frames:  make(chan []byte, 64),
		events:  make(chan Event, 16),
	}
}

// Frames delivers raw notification payloads in transport order.
func (s *Session) Frames() <-chan []byte { return s.frames }

// Events delivers structured connect/disconnect/error notices.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warnw("session event dropped, events channel full", "kind", e.Kind)
	}
}

// transientError marks an error as retryable within the same connect
// ladder attempt, as opposed to one that should abort the attempt outright.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t) || errors.Is(err, ble.ErrNotFound) || errors.Is(err, ble.ErrBusy)
}

// Run drives the reconnect loop until ctx is cancelled. Every received
// notification is pushed to Frames(); every lifecycle change is pushed to
// Events(). Run returns ctx.Err() on cancellation; it never returns on its
// own because a failed connect attempt always retries under backoff.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.frames)
	defer close(s.events)

	bo := newReconnectBackoff(secs(orDefault(s.cfg.ReconnectInitialSec, 1)),
		secs(orDefault(s.cfg.ReconnectMaxSec, 30)),
		secs(s.cfg.ReconnectJitterSec))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		dev, err := s.connectLadder(ctx)
		if err != nil {
			s.emit(Event{Kind: EventError, Err: err})
			delay := bo.next()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		bo.reset()
		s.emit(Event{Kind: EventConnected})
		servErr := s.serve(ctx, dev)
		_ = dev.Disconnect()
		s.emit(Event{Kind: EventDisconnected, Err: servErr})

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// connectLadder tries, in order: direct connect by address (retried up to
// three times on transient errors), address-resolution discovery toggling
// the address-type hint, then full passive discovery matching on address
// or name. Each discovery-based step is serialized process-wide.
func (s *Session) connectLadder(ctx context.Context) (ble.Device, error) {
	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("session: enable adapter: %w", err)
	}

	if s.cfg.MAC != "" {
		if dev, err := s.connectDirect(ctx); err == nil {
			return dev, nil
		} else if !isTransient(err) {
			return nil, err
		}

		if dev, err := s.connectByResolution(ctx); err == nil {
			return dev, nil
		}
	}

	return s.connectByDiscovery(ctx)
}

func (s *Session) connectDirect(ctx context.Context) (ble.Device, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, ble.DialTimeout)
		dev, err := s.adapter.ConnectAddress(cctx, s.cfg.MAC, ble.AddressTypePublic)
		cancel()
		if err == nil {
			return dev, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, transient(fmt.Errorf("session: direct connect to %s: %w", s.cfg.MAC, lastErr))
}

func (s *Session) connectByResolution(ctx context.Context) (ble.Device, error) {
	var dev ble.Device
	err := withDiscovery(func() error {
		for _, at := range [...]ble.AddressType{ble.AddressTypePublic, ble.AddressTypeRandom} {
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			d, err := s.adapter.ConnectAddress(cctx, s.cfg.MAC, at)
			cancel()
			if err == nil {
				dev = d
				return nil
			}
		}
		return transient(ble.ErrNotFound)
	})
	return dev, err
}

func (s *Session) connectByDiscovery(ctx context.Context) (ble.Device, error) {
	var found string
	err := withDiscovery(func() error {
		cctx, cancel := context.WithTimeout(ctx, 12*time.Second)
		defer cancel()
		return s.adapter.Scan(cctx, func(r ble.ScanResult) bool {
			if s.matches(r) {
				found = r.Address
				return true
			}
			return false
		})
	})
	if err != nil {
		return nil, transient(fmt.Errorf("session: passive discovery: %w", err))
	}
	if found == "" {
		return nil, transient(ble.ErrNotFound)
	}
	cctx, cancel := context.WithTimeout(ctx, ble.DialTimeout)
	defer cancel()
	dev, err := s.adapter.ConnectAddress(cctx, found, ble.AddressTypePublic)
	if err != nil {
		return nil, transient(err)
	}
	return dev, nil
}

func (s *Session) matches(r ble.ScanResult) bool {
	if s.cfg.MAC != "" {
		return strings.EqualFold(r.Address, s.cfg.MAC)
	}
	if s.cfg.Name != "" {
		return strings.Contains(strings.ToLower(r.Name), strings.ToLower(s.cfg.Name))
	}
	return false
}

// serve subscribes to notifications, runs init commands, and blocks
// servicing the idle watchdog and battery keepalive until the context is
// cancelled or the idle watchdog fires. It returns nil on a clean shutdown
// and a non-nil error when the watchdog forced a reconnect or the notify
// characteristic could not be resolved or subscribed. A dropped device is
// noticed only through the idle watchdog.
func (s *Session) serve(ctx context.Context, dev ble.Device) error {
	notify, err := dev.Characteristic(s.cfg.NotifyUUID)
	if err != nil {
		return fmt.Errorf("session: resolve notify characteristic: %w", err)
	}

	if err := s.runInitCommands(dev); err != nil {
		s.log.Warnw("init command failed", "error", err)
	}

	idle := newIdleWatchdog(secs(orDefault(s.cfg.IdleReconnectSec, 15)))
	defer idle.Stop()
	batt := newBatteryKeepalive(secs(orDefault(s.cfg.KeepaliveBattSec, 60)))
	defer batt.Stop()

	if err := notify.EnableNotifications(func(payload []byte) {
		idle.Reset()
		buf := append([]byte(nil), payload...)
		select {
		case s.frames <- buf:
		default:
			s.log.Warnw("frame dropped, frames channel full")
		}
	}); err != nil {
		return fmt.Errorf("session: enable notifications: %w", err)
	}
	defer notify.EnableNotifications(nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.Expired():
			return errors.New("session: idle watchdog forced reconnect")
		case <-batt.Tick():
			batt.probe(dev)
		}
	}
}

func (s *Session) runInitCommands(dev ble.Device) error {
	if len(s.cfg.InitCommands) == 0 {
		return nil
	}
	write, err := dev.Characteristic(s.cfg.WriteUUID)
	if err != nil {
		return fmt.Errorf("session: resolve write characteristic: %w", err)
	}
	for _, cmd := range s.cfg.InitCommands {
		payload, err := cmd.Payload()
		if err != nil {
			return err
		}
		if _, err := write.WriteWithResponse(payload); err != nil {
			return fmt.Errorf("session: write init command: %w", err)
		}
		if cmd.DelayMs > 0 {
			time.Sleep(time.Duration(cmd.DelayMs) * time.Millisecond)
		}
	}
	return nil
}

// WriteCommand sends a named command template to the connected device. It
// is exposed for the timer's post-connect BEEP/power commands issued
// outside the init sequence; callers supply the already-rendered payload.
func WriteCommand(dev ble.Device, writeUUID string, payload []byte) error {
	ch, err := dev.Characteristic(writeUUID)
	if err != nil {
		return fmt.Errorf("session: resolve write characteristic: %w", err)
	}
	if _, err := ch.WriteWithResponse(payload); err != nil {
		return fmt.Errorf("session: write command: %w", err)
	}
	return nil
}
