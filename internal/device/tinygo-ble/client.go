package tinyble

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"tinygo.org/x/bluetooth"
)

type advertisement struct {
	addr     string
	name     string
	rssi     int
	services []string
}

func newAdvertisement(result bluetooth.ScanResult, watched []bluetooth.UUID) *advertisement {
	adv := &advertisement{
		addr: result.Address.String(),
		name: result.LocalName(),
		rssi: int(result.RSSI),
	}
	// tinygo only answers membership queries for service UUIDs.
	for _, u := range watched {
		if result.HasServiceUUID(u) {
			adv.services = append(adv.services, device.NormalizeUUID(u.String()))
		}
	}
	return adv
}

func (a *advertisement) Addr() string       { return a.addr }
func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) RSSI() int          { return a.rssi }
func (a *advertisement) Services() []string { return a.services }

// Client wraps a connected bluetooth.Device.
type Client struct {
	dev     bluetooth.Device
	address string
	logger  *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

func (c *Client) Address() string { return c.address }

func (c *Client) DiscoverServices(uuids []string) ([]device.Service, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	svcs, err := c.dev.DiscoverServices(filter)
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Service, 0, len(svcs))
	for i := range svcs {
		result = append(result, &service{svc: svcs[i], client: c})
	}
	return result, nil
}

func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.closeErr = NormalizeError(c.dev.Disconnect())
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   c.closeErr,
		}).Debug("BLE device disconnected")
	})
	return c.closeErr
}

type service struct {
	svc    bluetooth.DeviceService
	client *Client
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID().String())
}

func (s *service) DiscoverCharacteristics(uuids []string) ([]device.Characteristic, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	chars, err := s.svc.DiscoverCharacteristics(filter)
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Characteristic, 0, len(chars))
	for i := range chars {
		result = append(result, &characteristic{char: chars[i], client: s.client})
	}
	return result, nil
}

type characteristic struct {
	char   bluetooth.DeviceCharacteristic
	client *Client
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID().String())
}

// Subscribe enables notifications; tinygo writes the CCCD as part of
// EnableNotifications.
func (c *characteristic) Subscribe(handler func(data []byte)) error {
	err := c.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		handler(data)
	})
	if err != nil {
		return NormalizeError(err)
	}

	c.client.logger.WithFields(logrus.Fields{
		"address":   c.client.address,
		"char_uuid": c.UUID(),
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := bluetooth.ParseUUID(device.ExpandUUID(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
