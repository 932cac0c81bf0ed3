package session

import (
	"context"
	"fmt"
	"sync"

	"steelcitybridge.dev/session/ble"
)

// discoveryGate serializes discovery across every Session sharing an
// Adapter: the underlying wireless stack rejects overlapping scans.
var discoveryGate sync.Mutex

// withDiscovery runs fn while holding the process-wide discovery lock.
func withDiscovery(fn func() error) error {
	discoveryGate.Lock()
	defer discoveryGate.Unlock()
	return fn()
}

// Discover runs a read-only passive scan and returns every device seen
// before ctx expires. It shares the discovery lock with any running
// Session's reconnect ladder, so it is safe to call alongside one.
func Discover(ctx context.Context, adapter ble.Adapter) ([]ble.ScanResult, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("session: enable adapter: %w", err)
	}
	var found []ble.ScanResult
	err := withDiscovery(func() error {
		return adapter.Scan(ctx, func(r ble.ScanResult) bool {
			found = append(found, r)
			return false
		})
	})
	if err != nil {
		return found, fmt.Errorf("session: discover: %w", err)
	}
	return found, nil
}
