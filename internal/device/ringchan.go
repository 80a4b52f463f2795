package device

import (
	"sync/atomic"
	"time"
)

// RingChannel is a bounded queue with overwrite-oldest semantics.
//
// Producers (BLE stack callbacks) never block: when the buffer is full the
// oldest element is discarded and counted as overwritten. Consumers poll with
// ReceiveTimeout, which matches the wait-for-notification model of Transport.
type RingChannel[T any] struct {
	ch      chan T
	metrics RingMetrics
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// Send inserts an item, discarding the oldest one if the buffer is full.
// It reports whether an item was discarded.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// ReceiveTimeout waits up to timeout for an item.
// A non-positive timeout makes it a non-blocking poll.
func (rc *RingChannel[T]) ReceiveTimeout(timeout time.Duration) (v T, ok bool) {
	if timeout <= 0 {
		select {
		case v = <-rc.ch:
			atomic.AddInt64(&rc.metrics.Processed, 1)
			return v, true
		default:
			return v, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v = <-rc.ch:
		atomic.AddInt64(&rc.metrics.Processed, 1)
		return v, true
	case <-timer.C:
		return v, false
	}
}

// Drain discards every buffered item and returns how many were dropped.
func (rc *RingChannel[T]) Drain() int {
	n := 0
	for {
		select {
		case <-rc.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() RingMetrics {
	return RingMetrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// RingMetrics counts RingChannel traffic.
type RingMetrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
}
