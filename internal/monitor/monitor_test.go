package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/hrwatch/internal/device"
	"github.com/srg/hrwatch/internal/emitter"
	"github.com/srg/hrwatch/internal/heartrate"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MonitorTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	hook   *test.Hook
	out    *syncBuffer
}

func (s *MonitorTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.out = &syncBuffer{}
}

func (s *MonitorTestSuite) newMonitor(scanner device.Scanner, connector device.Connector, opts *Options) *Monitor {
	e := emitter.New(s.out, emitter.FormatJSON, s.logger)
	return New(scanner, connector, e, s.logger, opts)
}

// runUntil runs m until cond holds, then cancels and waits for Run to return.
func (s *MonitorTestSuite) runUntil(m *Monitor, cond func() bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	s.Eventually(cond, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("Run MUST return after cancellation")
		return nil
	}
}

func (s *MonitorTestSuite) errorEntries() []logrus.Entry {
	var entries []logrus.Entry
	for _, e := range s.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			entries = append(entries, *e)
		}
	}
	return entries
}

func (s *MonitorTestSuite) lines() []string {
	out := strings.TrimSuffix(s.out.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// hrChain wires a client whose Heart Rate characteristic delivers payloads
// synchronously on subscription.
func hrChain(payloads ...[]byte) (*MockClient, *MockCharacteristic) {
	client := &MockClient{}
	svc := &MockService{}
	char := &MockCharacteristic{}

	client.On("DiscoverServices", []string{device.HeartRateServiceUUID}).Return([]device.Service{svc}, nil)
	client.On("Disconnect").Return(nil)
	svc.On("DiscoverCharacteristics", []string{device.HeartRateMeasurementUUID}).Return([]device.Characteristic{char}, nil)
	char.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		handler := args.Get(0).(func([]byte))
		for _, p := range payloads {
			handler(p)
		}
	}).Return(nil)

	return client, char
}

// GOAL: Verify a uint8-format notification becomes one JSON record
//
// TEST SCENARIO: Advertisement with 0x180D, notification [0x00, 0x4B] → exactly one record with bpm 75 and a timestamp within the run
func (s *MonitorTestSuite) TestEndToEnd_Uint8() {
	client, _ := hrChain([]byte{0x00, 0x4B})
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)

	before := time.Now().UTC()
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.lines()) == 1 }))
	after := time.Now().UTC()

	lines := s.lines()
	s.Require().Len(lines, 1, "MUST emit exactly one record")

	var rec struct {
		Timestamp string `json:"timestamp"`
		BPM       int    `json:"bpm"`
	}
	s.Require().NoError(json.Unmarshal([]byte(lines[0]), &rec))
	s.Equal(75, rec.BPM)

	ts, err := time.Parse(emitter.TimestampLayout, rec.Timestamp)
	s.Require().NoError(err)
	s.False(ts.Before(before.Truncate(100*time.Nanosecond)), "timestamp MUST NOT precede the run")
	s.False(ts.After(after), "timestamp MUST NOT follow the run")
	s.Empty(s.errorEntries())

	s.Equal(int64(1), m.Stats().Emitted, "emitter counters MUST surface in monitor stats")
	s.Zero(m.Stats().EmitFailed)
	var stopped *logrus.Entry
	for _, e := range s.hook.AllEntries() {
		if e.Message == "Heart rate monitor stopped" {
			stopped = e
		}
	}
	s.Require().NotNil(stopped, "Run MUST log final stats")
	s.Equal(int64(1), stopped.Data["emitted"])
}

// GOAL: Verify a uint16-format notification decodes little-endian
//
// TEST SCENARIO: Notification [0x01, 0x4B, 0x00] → one record with bpm 75
func (s *MonitorTestSuite) TestEndToEnd_Uint16() {
	client, _ := hrChain([]byte{0x01, 0x4B, 0x00})
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.lines()) == 1 }))

	s.Require().Len(s.lines(), 1)
	s.Contains(s.lines()[0], `"bpm":75}`)
}

// GOAL: Verify a truncated notification produces no record and one logged decode error
//
// TEST SCENARIO: Notification [0x00] → zero records, one error entry carrying ErrTruncated, subscription kept
func (s *MonitorTestSuite) TestEndToEnd_Truncated() {
	client, _ := hrChain([]byte{0x00})
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool {
		return len(s.errorEntries()) == 1 && m.Stats().Subscribed == 1
	}))

	s.Empty(s.lines(), "truncated payload MUST NOT produce a record")
	entries := s.errorEntries()
	s.Require().Len(entries, 1)
	s.Equal("Failed to decode heart rate measurement", entries[0].Message)
	s.ErrorIs(entries[0].Data["error"].(error), heartrate.ErrTruncated)
	s.Equal("00", entries[0].Data["payload"])
	s.Equal(int64(1), m.Stats().DecodeErrors)
}

// GOAL: Verify only Heart Rate advertisements reach the connector
//
// TEST SCENARIO: One 0x180D advertisement, one battery-only, one without services → a single connect for the 0x180D address
func (s *MonitorTestSuite) TestWatcher_FiltersNonHeartRate() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(nil, errors.New("connection refused"))

	scanner := &fakeScanner{advs: []device.Advertisement{
		hrAdvertisement("aa:bb:cc:dd:ee:01"),
		&fakeAdvertisement{addr: "aa:bb:cc:dd:ee:02", services: []string{"180f"}},
		&fakeAdvertisement{addr: "aa:bb:cc:dd:ee:03"},
	}}

	m := s.newMonitor(scanner, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	connector.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.Equal(int64(1), m.Stats().Matched)
	s.Equal("Failed to connect to heart rate device", s.errorEntries()[0].Message)
}

// GOAL: Verify repeated advertisements are not deduplicated by default
//
// TEST SCENARIO: The same 0x180D advertisement twice → two independent connects
func (s *MonitorTestSuite) TestWatcher_DuplicatesProduceDuplicateChains() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(nil, errors.New("connection refused"))

	adv := hrAdvertisement("aa:bb:cc:dd:ee:01")
	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{adv, adv}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 2 }))

	connector.AssertNumberOfCalls(s.T(), "Connect", 2)
	s.Equal(int64(2), m.Stats().Matched)
}

// GOAL: Verify opt-in dedupe suppresses chains for an address that already has one
//
// TEST SCENARIO: Dedupe on, same address advertised twice in different case → one connect, one subscription
func (s *MonitorTestSuite) TestWatcher_Dedupe() {
	client, char := hrChain([]byte{0x00, 0x50})
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "AA:BB:CC:DD:EE:01").Return(client, nil)

	scanner := &fakeScanner{advs: []device.Advertisement{
		hrAdvertisement("AA:BB:CC:DD:EE:01"),
		hrAdvertisement("aa:bb:cc:dd:ee:01"),
	}}

	opts := DefaultOptions()
	opts.Dedupe = true
	m := s.newMonitor(scanner, connector, opts)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.lines()) == 1 }))

	connector.AssertNumberOfCalls(s.T(), "Connect", 1)
	char.AssertNumberOfCalls(s.T(), "Subscribe", 1)
	s.Equal(int64(1), m.Stats().Matched)
}

func (s *MonitorTestSuite) TestWatcher_AllowAndBlockLists() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:02").Return(nil, errors.New("connection refused"))

	scanner := &fakeScanner{advs: []device.Advertisement{
		hrAdvertisement("aa:bb:cc:dd:ee:01"),
		hrAdvertisement("aa:bb:cc:dd:ee:02"),
		hrAdvertisement("aa:bb:cc:dd:ee:03"),
	}}

	opts := DefaultOptions()
	opts.AllowList = []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}
	opts.BlockList = []string{"aa:bb:cc:dd:ee:01"}
	m := s.newMonitor(scanner, connector, opts)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	connector.AssertNumberOfCalls(s.T(), "Connect", 1)
}

// GOAL: Verify a device without the Heart Rate service is released and never subscribed
//
// TEST SCENARIO: Service discovery returns nothing → no subscribe, one NotFoundError logged, client disconnected once
func (s *MonitorTestSuite) TestResolver_ServiceNotFound() {
	client := &MockClient{}
	client.On("DiscoverServices", []string{device.HeartRateServiceUUID}).Return([]device.Service{}, nil)
	client.On("Disconnect").Return(nil)

	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	entries := s.errorEntries()
	s.Require().Len(entries, 1, "resolution failure MUST be logged once")
	var nf *device.NotFoundError
	s.Require().ErrorAs(entries[0].Data["error"].(error), &nf)
	s.Equal("service", nf.Resource)
	client.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Equal(0, m.Stats().Chains)
	s.Empty(s.lines())
}

func (s *MonitorTestSuite) TestResolver_CharacteristicNotFound() {
	svc := &MockService{}
	svc.On("DiscoverCharacteristics", []string{device.HeartRateMeasurementUUID}).Return(nil, nil)

	client := &MockClient{}
	client.On("DiscoverServices", []string{device.HeartRateServiceUUID}).Return([]device.Service{svc}, nil)
	client.On("Disconnect").Return(nil)

	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	var nf *device.NotFoundError
	s.Require().ErrorAs(s.errorEntries()[0].Data["error"].(error), &nf)
	s.Equal("characteristic", nf.Resource)
	s.Equal(`characteristic "2a37" not found in service "180d"`, nf.Error())
	client.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

// GOAL: Verify a failing chain does not affect other chains
//
// TEST SCENARIO: Device 01 fails resolution, device 02 streams [0x00, 0x4B] → one record, one resolution error
func (s *MonitorTestSuite) TestResolverFailure_IsIsolated() {
	broken := &MockClient{}
	broken.On("DiscoverServices", mock.Anything).Return(nil, errors.New("att: request not supported"))
	broken.On("Disconnect").Return(nil)

	healthy, _ := hrChain([]byte{0x00, 0x4B})

	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(broken, nil)
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:02").Return(healthy, nil)

	scanner := &fakeScanner{advs: []device.Advertisement{
		hrAdvertisement("aa:bb:cc:dd:ee:01"),
		hrAdvertisement("aa:bb:cc:dd:ee:02"),
	}}

	m := s.newMonitor(scanner, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool {
		return len(s.lines()) == 1 && len(s.errorEntries()) == 1
	}))

	s.Contains(s.lines()[0], `"bpm":75}`)
	s.Equal("Failed to resolve heart rate measurement characteristic", s.errorEntries()[0].Message)
	s.Equal("aa:bb:cc:dd:ee:01", s.errorEntries()[0].Data["address"])
}

func (s *MonitorTestSuite) TestConnect_NilClient() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(nil, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	s.ErrorIs(s.errorEntries()[0].Data["error"].(error), device.ErrNotConnected, "nil client MUST be reported as not connected")
}

// GOAL: Verify the connect timeout bounds each dial
//
// TEST SCENARIO: Connector blocks until its context ends, timeout 20ms → one logged deadline error, Run still healthy
func (s *MonitorTestSuite) TestConnect_Timeout() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	opts := DefaultOptions()
	opts.ConnectTimeout = 20 * time.Millisecond
	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, opts)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	s.ErrorIs(s.errorEntries()[0].Data["error"].(error), context.DeadlineExceeded)
	s.Equal(int64(1), m.Stats().Failed)
}

// GOAL: Verify a subscription failure is logged once and not retried
//
// TEST SCENARIO: Subscribe fails → one error, one subscribe attempt, client kept until shutdown then released
func (s *MonitorTestSuite) TestSubscribe_FailureNoRetry() {
	char := &MockCharacteristic{}
	char.On("Subscribe", mock.Anything).Return(errors.New("cccd write failed"))
	svc := &MockService{}
	svc.On("DiscoverCharacteristics", mock.Anything).Return([]device.Characteristic{char}, nil)
	client := &MockClient{}
	client.On("DiscoverServices", mock.Anything).Return([]device.Service{svc}, nil)
	client.On("Disconnect").Return(nil)

	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool {
		if len(s.errorEntries()) != 1 {
			return false
		}
		var idle bool
		m.chains.Range(func(_ uint64, c *chain) bool {
			idle = c.currentStage() == stageIdle
			return false
		})
		return idle
	}))

	char.AssertNumberOfCalls(s.T(), "Subscribe", 1)
	client.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Equal("Failed to subscribe to heart rate notifications", s.errorEntries()[0].Message)
}

// GOAL: Verify shutdown releases every subscribed client
//
// TEST SCENARIO: Subscribed chain, context cancelled → Disconnect called once, registry empty
func (s *MonitorTestSuite) TestShutdown_DisconnectsClients() {
	client, _ := hrChain()
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return m.Stats().Subscribed == 1 }))

	client.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.Equal(0, m.Stats().Chains)
}

// GOAL: Verify a link drop reported by the client ends the chain
//
// TEST SCENARIO: Dedupe on, client signals disconnect → chain released and address free for a new chain
func (s *MonitorTestSuite) TestDisconnect_EndsChain() {
	base, _ := hrChain()
	client := &disconnectingClient{MockClient: base, disconnected: make(chan struct{})}
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	opts := DefaultOptions()
	opts.Dedupe = true
	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, opts)

	s.Require().NoError(s.runUntil(m, func() bool {
		if m.Stats().Subscribed == 1 && m.Stats().Chains == 1 {
			select {
			case <-client.disconnected:
			default:
				close(client.disconnected)
			}
		}
		_, owned := m.active.Get("aa:bb:cc:dd:ee:01")
		return m.Stats().Subscribed == 1 && m.Stats().Chains == 0 && !owned
	}))

	base.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

// GOAL: Verify a dial that outlives the shutdown timeout still gets its connection released
//
// TEST SCENARIO: Connector ignores ctx and returns a client after 300ms, ShutdownTimeout 50ms → Run returns first, then the late client is disconnected once
func (s *MonitorTestSuite) TestShutdown_LateConnectionIsDisconnected() {
	var disconnects atomic.Int32
	client := &MockClient{}
	client.On("Disconnect").Run(func(mock.Arguments) { disconnects.Add(1) }).Return(nil)

	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Run(func(mock.Arguments) {
		time.Sleep(300 * time.Millisecond)
	}).Return(client, nil)

	opts := DefaultOptions()
	opts.ShutdownTimeout = 50 * time.Millisecond
	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, opts)

	s.Require().NoError(s.runUntil(m, func() bool { return m.Stats().Matched == 1 }))
	s.Equal(int32(0), disconnects.Load(), "Run MUST return before the slow dial completes")

	s.Eventually(func() bool { return disconnects.Load() == 1 }, 2*time.Second, 10*time.Millisecond,
		"late connection MUST be disconnected")
	time.Sleep(50 * time.Millisecond)
	s.Equal(int32(1), disconnects.Load(), "late connection MUST be disconnected exactly once")
	s.Equal(0, m.Stats().Chains)
}

// GOAL: Verify advertisements without an address never start a chain
//
// TEST SCENARIO: Heart Rate advertisement with empty address plus a valid one → a single connect, for the valid address
func (s *MonitorTestSuite) TestWatcher_DropsEmptyAddress() {
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(nil, errors.New("connection refused"))

	scanner := &fakeScanner{advs: []device.Advertisement{
		hrAdvertisement(""),
		hrAdvertisement("aa:bb:cc:dd:ee:01"),
	}}

	m := s.newMonitor(scanner, connector, nil)
	s.Require().NoError(s.runUntil(m, func() bool { return len(s.errorEntries()) == 1 }))

	connector.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.Equal(int64(1), m.Stats().Matched)
}

func (s *MonitorTestSuite) TestHandlerPanic_IsRecovered() {
	client, _ := hrChain([]byte{0x00, 0x4B})
	connector := &MockConnector{}
	connector.On("Connect", mock.Anything, "aa:bb:cc:dd:ee:01").Return(client, nil)

	m := s.newMonitor(&fakeScanner{advs: []device.Advertisement{hrAdvertisement("aa:bb:cc:dd:ee:01")}}, connector, nil)
	m.now = func() time.Time { panic("clock failure") }

	s.Require().NoError(s.runUntil(m, func() bool {
		return len(s.errorEntries()) == 1 && m.Stats().Subscribed == 1
	}))

	s.Equal("Notification handler panicked", s.errorEntries()[0].Message)
	s.Empty(s.lines())
}

func (s *MonitorTestSuite) TestScanFailure_IsReturned() {
	scanner := &fakeScanner{err: errors.New("can't init hci")}
	m := s.newMonitor(scanner, &MockConnector{}, nil)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		s.Require().Error(err)
		s.Contains(err.Error(), "scan failed")
	case <-time.After(2 * time.Second):
		s.FailNow("Run MUST return when scanning fails")
	}
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
