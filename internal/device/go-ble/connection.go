package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/examples/lib/dev"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
)

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(opts ...ble.Option) (ble.Device, error) {
	return dev.NewDevice("default", opts...)
}

// ----------------------------
// Backend
// ----------------------------

// Backend is the go-ble implementation of device.Backend. A single ble.Device
// is shared by the scanner and every dial.
type Backend struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewBackend opens the platform BLE device. hciDevice selects the HCI adapter
// index on Linux; a negative value keeps the platform default.
func NewBackend(hciDevice int, logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var opts []ble.Option
	if hciDevice >= 0 {
		opts = append(opts, ble.OptDeviceID(hciDevice))
	}

	d, err := DeviceFactory(opts...)
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	return &Backend{dev: d, logger: logger}, nil
}

// Connect dials the peripheral at address. The caller bounds the dial with ctx.
func (b *Backend) Connect(ctx context.Context, address string) (device.Client, error) {
	b.logger.WithField("address", address).Debug("Dialing BLE device...")

	client, err := b.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	if client == nil {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: fmt.Sprintf("no client returned for %s", address)}
	}

	return &BLEClient{client: client, address: address, logger: b.logger}, nil
}

// Close stops the underlying BLE device.
func (b *Backend) Close() error {
	if b.dev == nil {
		return nil
	}
	return NormalizeError(b.dev.Stop())
}

// ----------------------------
// BLE Client
// ----------------------------

// BLEClient wraps a connected ble.Client.
type BLEClient struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

func (c *BLEClient) Address() string {
	return c.address
}

// DiscoverServices returns the services matching uuids.
func (c *BLEClient) DiscoverServices(uuids []string) ([]device.Service, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	bleServices, err := c.client.DiscoverServices(filter)
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Service, 0, len(bleServices))
	for _, s := range bleServices {
		// Some stacks ignore the filter, so match again here.
		if len(uuids) > 0 && !device.ContainsUUID(uuids, s.UUID.String()) {
			continue
		}
		result = append(result, &BLEService{
			uuid:    device.NormalizeUUID(s.UUID.String()),
			service: s,
			client:  c,
		})
	}
	return result, nil
}

// Disconnect cancels the connection. Repeated calls return the first result.
func (c *BLEClient) Disconnect() error {
	c.closeOnce.Do(func() {
		c.closeErr = NormalizeError(c.client.CancelConnection())
		if c.closeErr != nil {
			c.logger.WithFields(logrus.Fields{
				"address": c.address,
				"error":   c.closeErr,
			}).Warn("BLE device disconnected with errors")
		} else {
			c.logger.WithField("address", c.address).Debug("BLE device disconnected")
		}
	})
	return c.closeErr
}

// Disconnected exposes the go-ble disconnect notification where the platform
// provides one. It returns nil otherwise.
func (c *BLEClient) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(device.NormalizeUUID(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}
