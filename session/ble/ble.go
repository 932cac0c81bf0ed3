// Package ble defines the narrow BLE central contract that session.Session
// depends on. The wireless stack itself is an external collaborator; this
// package only models the shape of its contract so the reconnect/backoff/
// keepalive state machine in session is testable against a fake.
package ble

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by callers of Adapter.ConnectAddress and
// Adapter.Scan when no matching device answered within the attempt's
// timeout.
var ErrNotFound = errors.New("ble: device not found")

// ErrBusy is returned when a discovery operation is attempted while another
// is already in progress on the same adapter.
var ErrBusy = errors.New("ble: adapter busy")

// AddressType hints which address-type variant to use during resolution.
// The two supported BLE host stacks disagree on the default, so session
// toggles this between attempts.
type AddressType int

const (
	AddressTypePublic AddressType = iota
	AddressTypeRandom
)

// ScanResult describes one advertisement seen during discovery.
type ScanResult struct {
	Address string
	Name    string
	RSSI    int16
}

// Adapter is a single local BLE radio.
type Adapter interface {
	// Enable brings the adapter up. Safe to call more than once.
	Enable() error

	// ConnectAddress connects directly to a known address.
	ConnectAddress(ctx context.Context, address string, addrType AddressType) (Device, error)

	// Scan runs passive discovery until ctx is done or handle returns
	// true. It reports ErrBusy if another scan is already running on
	// this adapter.
	Scan(ctx context.Context, handle func(ScanResult) (stop bool)) error
}

// Characteristic is one GATT characteristic on a connected Device.
type Characteristic interface {
	// EnableNotifications registers handler to be called with each
	// notification payload. Passing a nil handler disables notifications.
	EnableNotifications(handler func(payload []byte)) error

	// WriteWithResponse performs a response-requested write.
	WriteWithResponse(p []byte) (int, error)

	// Read performs a single characteristic read, used for the battery
	// keepalive probe.
	Read() ([]byte, error)
}

// Device is a connected BLE peripheral.
type Device interface {
	// Characteristic resolves a characteristic by UUID string, searching
	// all of the device's services.
	Characteristic(uuid string) (Characteristic, error)

	Disconnect() error
}

// StandardBatteryUUID is the Bluetooth SIG standard battery-level
// characteristic, read opportunistically as sensor keepalive traffic.
const StandardBatteryUUID = "00002a19-0000-1000-8000-00805f9b34fb"

// DialTimeout bounds a single connect attempt, direct or via discovery.
const DialTimeout = 10 * time.Second
