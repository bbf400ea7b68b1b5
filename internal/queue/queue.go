// Package queue implements the Log Queue (C3): a bounded, multi-producer,
// single-consumer FIFO bridging the cooperative-scheduler side (stream
// subscribers offering observations) and the dedicated consumer thread that
// drains it (the Check Service).
package queue

import "github.com/firasghr/xrayguard/internal/model"

// Capacity is the queue's fixed capacity per spec.md §4.3.
const Capacity = 1000

// Queue is a bounded FIFO of observations. Offer never blocks; Take blocks
// until an item is available or the caller's done channel is closed.
type Queue struct {
	ch chan model.Observation
}

// New creates a Queue with the standard capacity.
func New() *Queue {
	return &Queue{ch: make(chan model.Observation, Capacity)}
}

// Offer attempts to enqueue obs without blocking. It reports false if the
// queue is full — callers must treat that as a drop-and-log-warning event
// per spec.md §4.2/§7, never as a reason to block the stream reader.
func (q *Queue) Offer(obs model.Observation) bool {
	select {
	case q.ch <- obs:
		return true
	default:
		return false
	}
}

// Take blocks until an observation is available or done is closed, in which
// case it returns the zero Observation and ok=false.
func (q *Queue) Take(done <-chan struct{}) (model.Observation, bool) {
	select {
	case obs := <-q.ch:
		return obs, true
	case <-done:
		return model.Observation{}, false
	}
}

// Len reports the number of observations currently buffered. Intended for
// diagnostics only; the value may be stale the instant it is read.
func (q *Queue) Len() int {
	return len(q.ch)
}
