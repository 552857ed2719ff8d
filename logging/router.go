package logging

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives routed events on its own worker goroutine.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink pairs a sink with the name used in configuration and diagnostics.
type NamedSink struct {
	Name string
	Sink Sink
}

const (
	metricEventsTotal   = "logging_events_total"
	metricDroppedTotal  = "logging_dropped_total"
	metricSinkFailures  = "logging_sink_failures_total"
	defaultRouterBuffer = 512
)

// RouterStats reports the lifetime counters of a router.
type RouterStats struct {
	EventsTotal  uint64            `json:"eventsTotal"`
	DroppedTotal uint64            `json:"droppedTotal"`
	SinkFailures map[string]uint64 `json:"sinkFailures,omitempty"`
}

// Router stamps published events and hands them to every enabled sink.
// Publish never blocks the simulation: an event that does not fit in the
// router queue or in a sink backlog is dropped and counted, and a warning
// goes to the fallback logger at most once per DropWarnInterval.
type Router struct {
	queue       chan Event
	outlets     []*outlet
	clock       Clock
	fallback    *log.Logger
	metrics     *Metrics
	minSeverity Severity
	fields      map[string]any
	warnEvery   time.Duration

	stop    chan struct{}
	closing atomic.Bool
	wg      sync.WaitGroup

	events   atomic.Uint64
	dropped  atomic.Uint64
	nextWarn atomic.Int64
}

type outlet struct {
	name     string
	sink     Sink
	backlog  chan Event
	failures atomic.Uint64
}

// NewRouter builds a router and starts its goroutines. Sinks missing from
// cfg.EnabledSinks are skipped; an empty list enables all of them.
func NewRouter(cfg Config, clock Clock, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultRouterBuffer
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = 5 * time.Second
	}
	r := &Router{
		queue:       make(chan Event, size),
		clock:       clock,
		fallback:    fallback,
		metrics:     cfg.Metrics,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		warnEvery:   warnEvery,
		stop:        make(chan struct{}),
	}

	backlog := min(max(size, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil || (len(cfg.EnabledSinks) > 0 && !cfg.HasSink(named.Name)) {
			continue
		}
		r.outlets = append(r.outlets, &outlet{name: named.Name, sink: named.Sink, backlog: make(chan Event, backlog)})
	}

	for _, o := range r.outlets {
		r.wg.Add(1)
		go r.drain(o)
	}
	r.wg.Add(1)
	go r.dispatch()
	return r, nil
}

// Publish implements Publisher. Events without a type are discarded.
func (r *Router) Publish(_ context.Context, event Event) {
	if r == nil || event.Type == "" || r.closing.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.drop(event, "router queue full")
	}
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, o := range r.outlets {
			close(o.backlog)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.events.Add(1)
	r.metrics.Add(metricEventsTotal, 1)
	for _, o := range r.outlets {
		select {
		case o.backlog <- cloneForFields(event):
		default:
			r.drop(event, "sink "+o.name+" backlog full")
		}
	}
}

func (r *Router) drain(o *outlet) {
	defer r.wg.Done()
	for event := range o.backlog {
		if err := o.sink.Write(event); err != nil {
			o.failures.Add(1)
			r.metrics.Add(metricSinkFailures, 1)
			r.warn("sink %s write failed: %v", o.name, err)
		}
	}
}

func (r *Router) drop(event Event, reason string) {
	r.dropped.Add(1)
	r.metrics.Add(metricDroppedTotal, 1)
	r.warn("dropping event type=%s tick=%d: %s", event.Type, event.Tick, reason)
}

// warn writes to the fallback logger, rate limited. It reads the wall clock
// directly because the router clock may be what is stalling the queue.
func (r *Router) warn(format string, args ...any) {
	now := time.Now().UnixNano()
	next := r.nextWarn.Load()
	if now < next || !r.nextWarn.CompareAndSwap(next, now+r.warnEvery.Nanoseconds()) {
		return
	}
	r.fallback.Printf(format, args...)
}

// Close flushes queued events, waits for every sink to drain and closes the
// sinks. It is safe to call more than once.
func (r *Router) Close(ctx context.Context) error {
	if r == nil || !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var errs []error
	for _, o := range r.outlets {
		if err := o.sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats reports the lifetime counters.
func (r *Router) Stats() RouterStats {
	if r == nil {
		return RouterStats{}
	}
	stats := RouterStats{
		EventsTotal:  r.events.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	for _, o := range r.outlets {
		if failed := o.failures.Load(); failed > 0 {
			if stats.SinkFailures == nil {
				stats.SinkFailures = make(map[string]uint64)
			}
			stats.SinkFailures[o.name] = failed
		}
	}
	return stats
}
