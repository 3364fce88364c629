package emitter

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Emitter serializes readings onto a single output stream.
type Emitter struct {
	mu     sync.Mutex
	out    io.Writer
	enc    *encoder
	csvLog *CSVLog
	logger *logrus.Logger

	emitted atomic.Int64
	failed  atomic.Int64
}

// Option configures an Emitter.
type Option func(*options)

type options struct {
	colorize *bool
	csvLog   *CSVLog
}

// WithColor forces colour on or off for the text format. By default colour is
// used only when the output is a terminal.
func WithColor(enabled bool) Option {
	return func(o *options) { o.colorize = &enabled }
}

// WithCSVLog additionally appends every emitted reading to log.
func WithCSVLog(log *CSVLog) Option {
	return func(o *options) { o.csvLog = log }
}

// New creates an Emitter writing format records to w.
func New(w io.Writer, format Format, logger *logrus.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = logrus.New()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	colorize := isTerminal(w)
	if o.colorize != nil {
		colorize = *o.colorize
	}

	return &Emitter{
		out:    w,
		enc:    newEncoder(format, colorize && format == FormatText),
		csvLog: o.csvLog,
		logger: logger,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// flusher is implemented by buffered writers such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// Emit writes one complete record with a single Write, then flushes w if it
// buffers. A failed write affects only this record. A CSV log failure is
// logged and does not fail the emit.
func (e *Emitter) Emit(r Reading) error {
	record, err := e.enc.encode(r)
	if err != nil {
		e.failed.Add(1)
		return err
	}

	e.mu.Lock()
	_, err = e.out.Write(record)
	if f, ok := e.out.(flusher); ok && err == nil {
		err = f.Flush()
	}
	e.mu.Unlock()

	if err != nil {
		e.failed.Add(1)
		return fmt.Errorf("failed to write reading: %w", err)
	}
	e.emitted.Add(1)

	if e.csvLog != nil {
		if err := e.csvLog.Write(r); err != nil {
			e.logger.WithFields(logrus.Fields{
				"path":  e.csvLog.Path(),
				"error": err,
			}).Error("Failed to append reading to CSV log")
		}
	}
	return nil
}

// Run emits readings from in until ctx is done or in is closed. Readings
// already queued when ctx is done are drained before Run returns.
func (e *Emitter) Run(ctx context.Context, in <-chan Reading) {
	for {
		select {
		case <-ctx.Done():
			e.drain(in)
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			e.emit(r)
		}
	}
}

func (e *Emitter) drain(in <-chan Reading) {
	for {
		select {
		case r, ok := <-in:
			if !ok {
				return
			}
			e.emit(r)
		default:
			return
		}
	}
}

func (e *Emitter) emit(r Reading) {
	if err := e.Emit(r); err != nil {
		e.logger.WithFields(logrus.Fields{
			"address": r.Address,
			"bpm":     r.BPM,
			"error":   err,
		}).Error("Failed to emit reading")
	}
}

// Emitted returns the number of records written successfully.
func (e *Emitter) Emitted() int64 {
	return e.emitted.Load()
}

// Failed returns the number of readings that could not be written.
func (e *Emitter) Failed() int64 {
	return e.failed.Load()
}
