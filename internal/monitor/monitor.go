// Package monitor runs the heart rate pipeline: it watches advertisements,
// connects to every peripheral advertising the Heart Rate service, resolves
// the Heart Rate Measurement characteristic, subscribes to it and forwards
// decoded readings to a single emitter goroutine.
//
// Each matched advertisement gets its own chain goroutine running
// connect → resolve → subscribe once, forward only. A failing chain is logged
// and abandoned; it never stops the watcher or other chains.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrwatch/internal/device"
	"github.com/srg/hrwatch/internal/emitter"
	"github.com/srg/hrwatch/internal/groutine"
	"github.com/srg/hrwatch/internal/ringchan"
)

// Sink consumes readings until ctx is done or in is closed.
type Sink interface {
	Run(ctx context.Context, in <-chan emitter.Reading)
}

// sinkCounters is implemented by sinks that count their writes, like
// *emitter.Emitter.
type sinkCounters interface {
	Emitted() int64
	Failed() int64
}

// Options configures a Monitor
type Options struct {
	ConnectTimeout time.Duration
	// ShutdownTimeout bounds how long Run waits for in-flight chains on exit.
	ShutdownTimeout time.Duration
	AllowList       []string
	BlockList       []string
	Dedupe          bool
	Buffer          int
}

// DefaultOptions returns default monitor options
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Buffer:          256,
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Matched      int64
	Chains       int
	Subscribed   int64
	Failed       int64
	DecodeErrors int64
	Dropped      int64
	// Emitted and EmitFailed are zero unless the sink counts its writes.
	Emitted    int64
	EmitFailed int64
}

// Monitor owns the watcher, the chain registry and the readings queue.
type Monitor struct {
	scanner   device.Scanner
	connector device.Connector
	sink      Sink
	logger    *logrus.Logger
	opts      Options

	readings *ringchan.RingChannel[emitter.Reading]
	chains   *hashmap.Map[uint64, *chain]
	// active maps a normalized address to the chain that owns it when
	// dedupe is enabled.
	active *hashmap.Map[string, uint64]
	nextID atomic.Uint64
	wg     sync.WaitGroup

	now func() time.Time

	matched      atomic.Int64
	subscribed   atomic.Int64
	failed       atomic.Int64
	decodeErrors atomic.Int64
}

// New creates a Monitor. A nil opts uses DefaultOptions.
func New(scanner device.Scanner, connector device.Connector, sink Sink, logger *logrus.Logger, opts *Options) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	o := *opts
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaults.ConnectTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if o.Buffer <= 0 {
		o.Buffer = defaults.Buffer
	}
	o.AllowList = normalizeAddresses(o.AllowList)
	o.BlockList = normalizeAddresses(o.BlockList)

	return &Monitor{
		scanner:   scanner,
		connector: connector,
		sink:      sink,
		logger:    logger,
		opts:      o,
		readings:  ringchan.New[emitter.Reading](o.Buffer),
		chains:    hashmap.New[uint64, *chain](),
		active:    hashmap.New[string, uint64](),
		now:       time.Now,
	}
}

// Run scans until ctx is cancelled. It returns nil on cancellation and an
// error only when scanning itself fails. Before returning, subscribed
// clients are disconnected and queued readings are emitted.
func (m *Monitor) Run(ctx context.Context) error {
	emitCtx, stopEmit := context.WithCancel(context.Background())
	emitDone := make(chan struct{})
	groutine.Go(emitCtx, "hr-emitter", func(ctx context.Context) {
		defer close(emitDone)
		m.sink.Run(ctx, m.readings.C())
	})

	m.logger.WithFields(logrus.Fields{
		"service":         device.HeartRateServiceUUID,
		"connect_timeout": m.opts.ConnectTimeout,
		"dedupe":          m.opts.Dedupe,
	}).Info("Watching for heart rate monitors...")

	err := m.scanner.Scan(ctx, func(adv device.Advertisement) {
		m.handleAdvertisement(ctx, adv)
	})

	var scanErr error
	switch {
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		scanErr = fmt.Errorf("scan failed: %w", err)
	case ctx.Err() == nil:
		m.logger.Warn("Scan ended early, waiting for shutdown")
		<-ctx.Done()
	}

	m.shutdown()
	stopEmit()
	<-emitDone

	stats := m.Stats()
	m.logger.WithFields(logrus.Fields{
		"matched":       stats.Matched,
		"subscribed":    stats.Subscribed,
		"failed":        stats.Failed,
		"decode_errors": stats.DecodeErrors,
		"dropped":       stats.Dropped,
		"emitted":       stats.Emitted,
		"emit_failed":   stats.EmitFailed,
	}).Info("Heart rate monitor stopped")

	return scanErr
}

// shutdown waits for in-flight chains, then disconnects every live client.
func (m *Monitor) shutdown() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.opts.ShutdownTimeout):
		m.logger.WithField("timeout", m.opts.ShutdownTimeout).Warn("Timed out waiting for in-flight chains")
	}

	live := make([]*chain, 0, m.chains.Len())
	m.chains.Range(func(_ uint64, c *chain) bool {
		live = append(live, c)
		return true
	})
	for _, c := range live {
		m.release(c)
	}
}

// Stats returns the current pipeline counters.
func (m *Monitor) Stats() Stats {
	stats := Stats{
		Matched:      m.matched.Load(),
		Chains:       m.chains.Len(),
		Subscribed:   m.subscribed.Load(),
		Failed:       m.failed.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Dropped:      m.readings.Snapshot().Overwritten,
	}
	if sc, ok := m.sink.(sinkCounters); ok {
		stats.Emitted = sc.Emitted()
		stats.EmitFailed = sc.Failed()
	}
	return stats
}
