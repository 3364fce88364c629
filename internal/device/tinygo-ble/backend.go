// Package tinyble implements the device interfaces on top of
// tinygo.org/x/bluetooth, which talks to BlueZ over D-Bus on Linux, to
// CoreBluetooth on macOS and to WinRT on Windows.
package tinyble

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"tinygo.org/x/bluetooth"
)

// Adapter is the subset of *bluetooth.Adapter the backend uses.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Backend is the tinygo bluetooth implementation of device.Backend.
type Backend struct {
	adapter Adapter
	logger  *logrus.Logger

	// watched are the service UUIDs reported back through Advertisement.Services.
	watched []bluetooth.UUID
	// addresses keeps the adapter-native address of every scanned peripheral
	// so Connect can dial it by its string form.
	addresses *hashmap.Map[string, bluetooth.Address]

	mu      sync.Mutex
	enabled bool
}

// NewBackend returns a backend on bluetooth.DefaultAdapter. watched lists the
// service UUIDs advertisements are checked for.
func NewBackend(watched []string, logger *logrus.Logger) (*Backend, error) {
	return newBackend(bluetooth.DefaultAdapter, watched, logger)
}

func newBackend(adapter Adapter, watched []string, logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}

	uuids := make([]bluetooth.UUID, 0, len(watched))
	for _, w := range watched {
		u, err := bluetooth.ParseUUID(device.ExpandUUID(w))
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", w, err)
		}
		uuids = append(uuids, u)
	}

	return &Backend{
		adapter:   adapter,
		logger:    logger,
		watched:   uuids,
		addresses: hashmap.New[string, bluetooth.Address](),
	}, nil
}

func (b *Backend) enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		return nil
	}
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", NormalizeError(err))
	}
	b.enabled = true
	return nil
}

// Scan blocks until ctx is done, delivering every scan result to handler.
func (b *Backend) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if err := b.enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := b.adapter.StopScan(); err != nil {
				b.logger.WithError(err).Debug("StopScan failed")
			}
		case <-done:
		}
	}()

	b.logger.Debug("Starting BLE scan...")
	err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		b.addresses.Set(result.Address.String(), result.Address)
		handler(newAdvertisement(result, b.watched))
	})
	close(done)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

// Connect dials address. tinygo's Connect cannot be cancelled, so when ctx
// ends first the dial is abandoned and any late connection is dropped.
func (b *Backend) Connect(ctx context.Context, address string) (device.Client, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}

	addr, ok := b.addresses.Get(address)
	if !ok {
		addr.Set(address)
	}

	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	b.logger.WithField("address", address).Debug("Dialing BLE device...")
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(r.err))
		}
		return &Client{dev: r.dev, address: address, logger: b.logger}, nil
	}
}

// Close stops a running scan. The default adapter itself stays enabled.
func (b *Backend) Close() error {
	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return nil
	}
	if err := b.adapter.StopScan(); err != nil {
		b.logger.WithError(err).Debug("StopScan on close failed")
	}
	return nil
}

// NormalizeError maps tinygo bluetooth error strings onto the device taxonomy.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "powered off", "not powered", "adapter not found", "org.bluez.Error.NotReady", "no such adapter"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	default:
		return device.NormalizeError(err)
	}
}
