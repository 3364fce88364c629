// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel so producers never block: when the
// buffer is full the oldest element is discarded to make room.
//
//	rc := ringchan.New[emitter.Reading](256)
//	if dropped := rc.ForceSend(r); dropped {
//	    // a queued reading was lost
//	}
//
//	for r := range rc.C() { ... }
//
// Consumers read from C() like any other channel.
type RingChannel[T any] struct {
	ch      chan T
	metrics counters
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was discarded. It never blocks; concurrent
// producers retry until one of them wins the freed slot.
func (rc *RingChannel[T]) ForceSend(v T) (dropped bool) {
	for {
		select {
		case rc.ch <- v:
			rc.metrics.Written.Add(1)
			return dropped
		default:
		}

		select {
		case <-rc.ch:
			rc.metrics.Overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Snapshot returns the current counter values.
func (rc *RingChannel[T]) Snapshot() Stats {
	return Stats{
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
	}
}

// counters holds the lock-free counters of a RingChannel.
type counters struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Written     int64
	Overwritten int64
}
