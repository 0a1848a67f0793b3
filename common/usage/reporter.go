// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"relayhub/platform/shared/logger"
)

// Sink delivers a batch of events
type Sink interface {
	Send(ctx context.Context, events []Event) error
}

// Defaults for ReporterOptions
const (
	DefaultQueueSize     = 1024
	DefaultBatchSize     = 50
	DefaultFlushInterval = 2 * time.Second
	DefaultSendTimeout   = 10 * time.Second
)

// ReporterOptions tunes the background worker
type ReporterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	SendTimeout   time.Duration
	Logger        *logger.Logger
}

// ReporterStats counts what happened to reported events
type ReporterStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Reporter is an asynchronous Recorder. Events are queued and sent in
// batches by one goroutine. It is safe for concurrent use.
type Reporter struct {
	sink  Sink
	opts  ReporterOptions
	queue chan Event
	log   *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewReporter starts a reporter that ships events to sink
func NewReporter(sink Sink, opts ReporterOptions) *Reporter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("usage")
	}
	r := &Reporter{
		sink:  sink,
		opts:  opts,
		queue: make(chan Event, opts.QueueSize),
		log:   opts.Logger,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Report queues e. It never blocks: when the queue is full or the
// reporter is closed the event is dropped.
func (r *Reporter) Report(e Event) {
	e.normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Stats returns the reporter counters
func (r *Reporter) Stats() ReporterStats {
	return ReporterStats{Sent: r.sent.Load(), Failed: r.failed.Load(), Dropped: r.dropped.Load()}
}

// Close stops accepting events and waits until the queue has drained or
// ctx is done.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.opts.BatchSize)
	for {
		select {
		case e, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.opts.BatchSize {
				r.flush(batch)
				batch = make([]Event, 0, r.opts.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]Event, 0, r.opts.BatchSize)
			}
		}
	}
}

func (r *Reporter) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()

	if err := r.sink.Send(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		r.log.Warn("", "", "Failed to deliver usage events", map[string]interface{}{
			"events": len(batch),
			"error":  err.Error(),
		})
		return
	}
	r.sent.Add(int64(len(batch)))
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(Event)

// Report calls f
func (f RecorderFunc) Report(e Event) { f(e) }

// WithDefaults returns a Recorder that stamps tenant and request IDs onto
// events that lack them.
func WithDefaults(next Recorder, tenantID, requestID string) Recorder {
	return RecorderFunc(func(e Event) {
		if e.TenantID == "" {
			e.TenantID = tenantID
		}
		if e.RequestID == "" {
			e.RequestID = requestID
		}
		next.Report(e)
	})
}
