package monitor

import (
	"bytes"
	"context"
	"sync"

	"github.com/srg/hrwatch/internal/device"
	"github.com/stretchr/testify/mock"
)

// fakeAdvertisement is a fixed device.Advertisement.
type fakeAdvertisement struct {
	addr     string
	name     string
	services []string
}

func (a *fakeAdvertisement) Addr() string       { return a.addr }
func (a *fakeAdvertisement) LocalName() string  { return a.name }
func (a *fakeAdvertisement) RSSI() int          { return -55 }
func (a *fakeAdvertisement) Services() []string { return a.services }

func hrAdvertisement(addr string) *fakeAdvertisement {
	return &fakeAdvertisement{addr: addr, name: "HR Strap", services: []string{"0000180d-0000-1000-8000-00805f9b34fb"}}
}

// fakeScanner delivers advs once, then blocks until ctx is done. A non-nil
// err is returned immediately after delivery instead.
type fakeScanner struct {
	advs []device.Advertisement
	err  error
}

func (s *fakeScanner) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	for _, adv := range s.advs {
		handler(adv)
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

// MockConnector implements device.Connector for testing
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(ctx context.Context, address string) (device.Client, error) {
	args := m.Called(ctx, address)
	if c := args.Get(0); c != nil {
		return c.(device.Client), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockClient implements device.Client for testing
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Address() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) DiscoverServices(uuids []string) ([]device.Service, error) {
	args := m.Called(uuids)
	if s := args.Get(0); s != nil {
		return s.([]device.Service), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

// disconnectingClient adds a go-ble style Disconnected channel to MockClient.
type disconnectingClient struct {
	*MockClient
	disconnected chan struct{}
}

func (c *disconnectingClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// MockService implements device.Service for testing
type MockService struct {
	mock.Mock
}

func (m *MockService) UUID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockService) DiscoverCharacteristics(uuids []string) ([]device.Characteristic, error) {
	args := m.Called(uuids)
	if c := args.Get(0); c != nil {
		return c.([]device.Characteristic), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockCharacteristic implements device.Characteristic for testing
type MockCharacteristic struct {
	mock.Mock
}

func (m *MockCharacteristic) UUID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockCharacteristic) Subscribe(handler func(data []byte)) error {
	args := m.Called(handler)
	return args.Error(0)
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
