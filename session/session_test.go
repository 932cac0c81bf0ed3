package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"steelcitybridge.dev/session/ble"
)

type fakeCharacteristic struct {
	mu      sync.Mutex
	handler func([]byte)
	writes  [][]byte
}

func (c *fakeCharacteristic) EnableNotifications(h func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	return nil
}

func (c *fakeCharacteristic) WriteWithResponse(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeCharacteristic) Read() ([]byte, error) { return []byte{100}, nil }

func (c *fakeCharacteristic) notify(b []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(b)
	}
}

type fakeDevice struct {
	mu    sync.Mutex
	chars map[string]*fakeCharacteristic
	gone  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{chars: map[string]*fakeCharacteristic{}}
}

func (d *fakeDevice) Characteristic(uuid string) (ble.Characteristic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chars[uuid]
	if !ok {
		c = &fakeCharacteristic{}
		d.chars[uuid] = c
	}
	return c, nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	d.gone = true
	d.mu.Unlock()
	return nil
}

type fakeAdapter struct {
	dev *fakeDevice
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) ConnectAddress(ctx context.Context, address string, at ble.AddressType) (ble.Device, error) {
	return a.dev, nil
}

func (a *fakeAdapter) Scan(ctx context.Context, handle func(ble.ScanResult) bool) error {
	handle(ble.ScanResult{Address: "AA:BB:CC:DD:EE:FF"})
	return nil
}

func TestSessionConnectsAndDeliversFrames(t *testing.T) {
	dev := newFakeDevice()
	adapter := &fakeAdapter{dev: dev}
	s := New(adapter, Config{
		MAC:                 "AA:BB:CC:DD:EE:FF",
		NotifyUUID:          "notify",
		WriteUUID:           "write",
		IdleReconnectSec:    5,
		KeepaliveBattSec:    0,
		ReconnectInitialSec: 0.01,
		ReconnectMaxSec:     0.05,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var connected bool
	select {
	case ev := <-s.Events():
		if ev.Kind != EventConnected {
			t.Fatalf("first event = %v, want connected", ev.Kind)
		}
		connected = true
	case <-time.After(time.Second):
	}
	if !connected {
		t.Fatal("session never connected")
	}

	notify, _ := dev.Characteristic("notify")
	notify.(*fakeCharacteristic).notify([]byte{0x01, 0x05})

	select {
	case f := <-s.Frames():
		if len(f) != 2 || f[0] != 0x01 {
			t.Fatalf("unexpected frame %x", f)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRenderHexTemplate(t *testing.T) {
	b, err := RenderHexTemplate("AA-55-{level:02X}", map[string]int{"level": 3})
	if err != nil {
		t.Fatalf("RenderHexTemplate: %v", err)
	}
	want := []byte{0xAA, 0x55, 0x03}
	if len(b) != len(want) {
		t.Fatalf("RenderHexTemplate = %x, want %x", b, want)
	}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("RenderHexTemplate = %x, want %x", b, want)
		}
	}
}

func TestRenderHexTemplateMissingKey(t *testing.T) {
	if _, err := RenderHexTemplate("AA-{missing:02X}", nil); err == nil {
		t.Fatal("expected error for missing template key")
	}
}

func TestParseHexSeparatorStyles(t *testing.T) {
	for _, s := range []string{"AA-55-01", "AA:55:01", "AA 55 01", "AA5501"} {
		b, err := ParseHex(s)
		if err != nil {
			t.Fatalf("ParseHex(%q): %v", s, err)
		}
		if len(b) != 3 || b[0] != 0xAA || b[1] != 0x55 || b[2] != 0x01 {
			t.Fatalf("ParseHex(%q) = %x", s, b)
		}
	}
}
