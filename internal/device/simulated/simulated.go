// Package simulated provides a hardware-free device.Backend that advertises
// a fixed set of heart rate straps and notifies random readings once per
// interval after subscription.
package simulated

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"github.com/srg/hrwatch/internal/groutine"
)

// Peripheral describes one simulated strap.
type Peripheral struct {
	Name    string
	Address string
	RSSI    int
}

// DefaultPeripherals are advertised when Options.Peripherals is empty.
var DefaultPeripherals = []Peripheral{
	{Name: "Mock HR Strap 1", Address: "00:11:22:33:44:55", RSSI: -48},
	{Name: "Mock HR Strap 2", Address: "aa:bb:cc:dd:ee:ff", RSSI: -67},
}

// Options configures a Backend.
type Options struct {
	Peripherals []Peripheral
	// AdvertiseInterval repeats advertisements; zero advertises once per scan.
	AdvertiseInterval time.Duration
	// NotifyInterval is the time between readings, one second by default.
	NotifyInterval time.Duration
	// MinBPM and MaxBPM bound the generated values, 60 and 99 by default.
	MinBPM, MaxBPM uint8
}

// Backend implements device.Backend without a radio.
type Backend struct {
	opts   Options
	logger *logrus.Logger
	known  *hashmap.Map[string, Peripheral]
}

// NewBackend returns a simulated backend.
func NewBackend(opts Options, logger *logrus.Logger) *Backend {
	if logger == nil {
		logger = logrus.New()
	}
	if len(opts.Peripherals) == 0 {
		opts.Peripherals = DefaultPeripherals
	}
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = time.Second
	}
	if opts.MinBPM == 0 && opts.MaxBPM == 0 {
		opts.MinBPM, opts.MaxBPM = 60, 99
	}
	if opts.MaxBPM < opts.MinBPM {
		opts.MinBPM, opts.MaxBPM = opts.MaxBPM, opts.MinBPM
	}

	known := hashmap.New[string, Peripheral]()
	for _, p := range opts.Peripherals {
		known.Set(p.Address, p)
	}
	return &Backend{opts: opts, logger: logger, known: known}
}

func (b *Backend) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	b.advertise(handler)

	if b.opts.AdvertiseInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(b.opts.AdvertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.advertise(handler)
		}
	}
}

func (b *Backend) advertise(handler func(device.Advertisement)) {
	for _, p := range b.opts.Peripherals {
		handler(&advertisement{p: p})
	}
}

func (b *Backend) Connect(ctx context.Context, address string) (device.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := b.known.Get(address)
	if !ok {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.ErrNotConnected)
	}
	b.logger.WithField("address", address).Debug("Simulated device connected")
	return &client{backend: b, p: p, done: make(chan struct{})}, nil
}

func (b *Backend) Close() error { return nil }

type advertisement struct {
	p Peripheral
}

func (a *advertisement) Addr() string       { return a.p.Address }
func (a *advertisement) LocalName() string  { return a.p.Name }
func (a *advertisement) RSSI() int          { return a.p.RSSI }
func (a *advertisement) Services() []string { return []string{device.HeartRateServiceUUID} }

type client struct {
	backend *Backend
	p       Peripheral

	once sync.Once
	done chan struct{}
}

func (c *client) Address() string { return c.p.Address }

func (c *client) DiscoverServices(uuids []string) ([]device.Service, error) {
	if len(uuids) > 0 && !device.ContainsUUID(uuids, device.HeartRateServiceUUID) {
		return nil, nil
	}
	return []device.Service{&service{c: c}}, nil
}

func (c *client) Disconnect() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type service struct {
	c *client
}

func (s *service) UUID() string { return device.HeartRateServiceUUID }

func (s *service) DiscoverCharacteristics(uuids []string) ([]device.Characteristic, error) {
	if len(uuids) > 0 && !device.ContainsUUID(uuids, device.HeartRateMeasurementUUID) {
		return nil, nil
	}
	return []device.Characteristic{&characteristic{c: s.c}}, nil
}

type characteristic struct {
	c *client
}

func (ch *characteristic) UUID() string { return device.HeartRateMeasurementUUID }

// Subscribe starts a notifier that runs until the client disconnects.
func (ch *characteristic) Subscribe(handler func(data []byte)) error {
	select {
	case <-ch.c.done:
		return device.ErrNotConnected
	default:
	}

	opts := ch.c.backend.opts
	groutine.Go(context.Background(), "simulated-notify-"+ch.c.p.Address, func(context.Context) {
		ticker := time.NewTicker(opts.NotifyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ch.c.done:
				return
			case <-ticker.C:
				span := int(opts.MaxBPM) - int(opts.MinBPM) + 1
				bpm := int(opts.MinBPM) + rand.IntN(span)
				handler([]byte{0x00, byte(bpm)})
			}
		}
	})
	return nil
}
