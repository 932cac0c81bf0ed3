package ble

import (
	"context"
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter wraps the local tinygo.org/x/bluetooth radio as an Adapter.
// It is the production implementation; session is otherwise tested purely
// against fakes of the interfaces above.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter
}

// NewTinygoAdapter wraps tinygo.org/x/bluetooth's default local adapter.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{adapter: bluetooth.DefaultAdapter}
}

func (a *TinygoAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *TinygoAdapter) ConnectAddress(ctx context.Context, address string, addrType AddressType) (Device, error) {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("ble: parse address %q: %w", address, err)
	}
	btAddr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
	btAddr.IsRandom = addrType == AddressTypeRandom

	type result struct {
		dev *bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	go func() {
		dev, err := a.adapter.Connect(btAddr, bluetooth.ConnectionParams{})
		done <- result{dev, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &tinygoDevice{dev: r.dev}, nil
	}
}

func (a *TinygoAdapter) Scan(ctx context.Context, handle func(ScanResult) bool) error {
	stop := make(chan struct{})
	scanErr := make(chan error, 1)

	go func() {
		err := a.adapter.Scan(func(ad *bluetooth.Adapter, result bluetooth.ScanResult) {
			r := ScanResult{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    result.RSSI,
			}
			if handle(r) {
				ad.StopScan()
			}
			select {
			case <-stop:
				ad.StopScan()
			default:
			}
		})
		scanErr <- err
	}()

	select {
	case <-ctx.Done():
		close(stop)
		a.adapter.StopScan()
		<-scanErr
		return ctx.Err()
	case err := <-scanErr:
		return err
	}
}

type tinygoDevice struct {
	dev *bluetooth.Device
}

func (d *tinygoDevice) Characteristic(uuid string) (Characteristic, error) {
	target, err := bluetooth.ParseUUID(normalizeUUID(uuid))
	if err != nil {
		return nil, fmt.Errorf("ble: parse uuid %q: %w", uuid, err)
	}
	services, err := d.dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			if c.UUID() == target {
				return &tinygoCharacteristic{ch: c}, nil
			}
		}
	}
	return nil, fmt.Errorf("ble: characteristic %q not found on device", uuid)
}

func (d *tinygoDevice) Disconnect() error {
	return d.dev.Disconnect()
}

type tinygoCharacteristic struct {
	ch bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) EnableNotifications(handler func(payload []byte)) error {
	if handler == nil {
		return c.ch.EnableNotifications(nil)
	}
	return c.ch.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		handler(cp)
	})
}

func (c *tinygoCharacteristic) WriteWithResponse(p []byte) (int, error) {
	return c.ch.Write(p)
}

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := c.ch.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// normalizeUUID lowercases the UUID string before it is handed to
// bluetooth.ParseUUID; it does not otherwise change its form.
func normalizeUUID(uuid string) string {
	return strings.ToLower(uuid)
}
