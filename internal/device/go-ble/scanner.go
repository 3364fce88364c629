package goble

import (
	"context"
	"errors"

	ble "github.com/go-ble/ble"
	"github.com/srg/hrwatch/internal/device"
)

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement.
// Duplicates are allowed so every advertisement event reaches the handler.
func (b *Backend) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	// Adapter: convert a handler expecting a device.Advertisement to the one expecting ble.Advertisement
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}

	b.logger.Debug("Starting BLE scan...")
	err := b.dev.Scan(ctx, true, bleHandler)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return NormalizeError(err)
	}
	return nil
}
