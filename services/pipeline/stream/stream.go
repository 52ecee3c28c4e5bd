// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream decouples long-running pipeline operations from their
// observers.
//
// A stream is an observation channel, not a transaction boundary: the
// wrapped operation runs detached from the caller's cancellation, so a
// consumer that disconnects mid-stream never aborts the commit. Data
// events are delivered best-effort (a consumer that stops reading loses
// events, counted in metrics); the terminal event is delivered reliably
// to any consumer that is still attached.
//
// Consumer contract: either read Events() until it is closed, or call
// Close() when giving up. The delivery of the terminal event relies on
// one of the two happening.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/ReqPipeline/pkg/logging"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/datatypes"
	"github.com/AleutianAI/ReqPipeline/services/pipeline/observability"
)

// Operation is the work a stream wraps. It emits progress through emit
// (never blocking on the consumer) and returns the committed version.
// Operations that emit their own terminal done event (the analyzer and
// generator do) need no help; for ones that do not, the coordinator
// synthesizes the terminal event from the return values.
type Operation func(ctx context.Context, emit func(datatypes.StreamEvent)) (*datatypes.Version, error)

// Coordinator runs operations as streams.
type Coordinator struct {
	buffer  int
	metrics *observability.Metrics
	log     *logging.Logger
}

// New creates a Coordinator. buffer is the per-stream event backlog a
// slow consumer is allowed before data events are dropped; metrics and
// logger may be nil.
func New(buffer int, metrics *observability.Metrics, logger *logging.Logger) *Coordinator {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{buffer: buffer, metrics: metrics, log: logger}
}

// Stream is one running operation's observation handle.
type Stream struct {
	events    chan datatypes.StreamEvent
	abandoned chan struct{}
	finished  chan struct{}
	closeOnce sync.Once

	terminalSeen atomic.Bool

	mu      sync.Mutex
	version *datatypes.Version
	err     error
}

// Events is the ordered event feed. It is closed after the terminal
// event once the operation has finished.
func (s *Stream) Events() <-chan datatypes.StreamEvent { return s.events }

// Close detaches the consumer. The operation keeps running and still
// commits; subsequent events are dropped.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.abandoned) })
}

// Wait blocks until the operation finishes and returns its outcome. It
// does not consume events; a caller using Wait alone should Close the
// stream first.
func (s *Stream) Wait(ctx context.Context) (*datatypes.Version, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.finished:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.err
}

// Run starts op and returns its stream. The operation runs on a context
// that inherits ctx's values and trace but not its cancellation, so the
// caller going away does not interrupt the work or its commit.
func (c *Coordinator) Run(ctx context.Context, op Operation) *Stream {
	s := &Stream{
		events:    make(chan datatypes.StreamEvent, c.buffer),
		abandoned: make(chan struct{}),
		finished:  make(chan struct{}),
	}

	opCtx := context.WithoutCancel(ctx)
	c.metrics.StreamStarted()

	go func() {
		defer c.metrics.StreamFinished()

		version, err := op(opCtx, func(ev datatypes.StreamEvent) { c.emit(s, ev) })

		s.mu.Lock()
		s.version = version
		s.err = err
		s.mu.Unlock()

		// Operations that already emitted their terminal event are done;
		// otherwise synthesize it so every stream ends with exactly one.
		if !s.terminalSeen.Load() {
			if err != nil {
				c.emit(s, datatypes.NewStreamEvent(datatypes.EventError).WithMessage(err.Error()))
			} else {
				c.emit(s, datatypes.NewStreamEvent(datatypes.EventDone).WithVersion(version))
			}
		}
		if err != nil {
			c.log.Warn("streamed operation failed", "error", err.Error())
		}

		close(s.events)
		close(s.finished)
	}()
	return s
}

// emit delivers one event. Data events never block: a full backlog means
// the consumer stopped reading, and the event is dropped. The terminal
// event blocks until the consumer takes it or detaches.
func (c *Coordinator) emit(s *Stream, ev datatypes.StreamEvent) {
	if ev.Terminal() {
		// Emitting a second terminal event would violate the stream
		// contract; drop anything after the first.
		if s.terminalSeen.Swap(true) {
			c.metrics.RecordDroppedEvent()
			return
		}
		select {
		case s.events <- ev:
		case <-s.abandoned:
			c.metrics.RecordDroppedEvent()
		}
		return
	}

	select {
	case s.events <- ev:
	default:
		c.metrics.RecordDroppedEvent()
	}
}
