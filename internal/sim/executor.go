package sim

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/telemetry"
	"mirage/server/internal/world"
)

// Executor runs tasks on a fixed set of shard goroutines. Every region maps
// to exactly one shard, so tasks for one region never run concurrently.
type Executor struct {
	shards  []*shard
	logger  telemetry.Logger
	onPanic func(region string, recovered any)

	// gate orders Submit against Stop: once Stop holds it no task can be
	// queued, so the final drain of every shard sees all accepted work.
	gate    deadlock.RWMutex
	running atomic.Bool
	wg      sync.WaitGroup
}

type shard struct {
	index  int
	buffer *TaskBuffer
	wake   chan struct{}
	stop   chan struct{}
}

// NewExecutor creates count shards, each with a queue of capacity tasks.
func NewExecutor(count, capacity int, logger telemetry.Logger, metrics telemetry.Metrics) *Executor {
	if count < 1 {
		count = 1
	}
	e := &Executor{logger: logger}
	for i := 0; i < count; i++ {
		e.shards = append(e.shards, &shard{
			index:  i,
			buffer: NewTaskBuffer(capacity, metrics, strconv.Itoa(i)),
			wake:   make(chan struct{}, 1),
			stop:   make(chan struct{}),
		})
	}
	return e
}

// Start launches the shard goroutines. It is a no-op when already running.
func (e *Executor) Start() {
	if e == nil || !e.running.CompareAndSwap(false, true) {
		return
	}
	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *shard) {
			defer e.wg.Done()
			e.run(s)
		}(s)
	}
}

// Stop drains queued tasks and waits for every shard to exit.
func (e *Executor) Stop() {
	if e == nil {
		return
	}
	e.gate.Lock()
	stopping := e.running.CompareAndSwap(true, false)
	e.gate.Unlock()
	if !stopping {
		return
	}
	for _, s := range e.shards {
		close(s.stop)
	}
	e.wg.Wait()
}

func (e *Executor) Running() bool {
	return e != nil && e.running.Load()
}

// Shards returns the shard count.
func (e *Executor) Shards() int {
	if e == nil {
		return 0
	}
	return len(e.shards)
}

// ShardFor maps region onto a shard index.
func (e *Executor) ShardFor(region world.RegionKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(region.String()))
	return int(h.Sum32() % uint32(len(e.shards)))
}

// Submit queues fn on the shard that owns region.
func (e *Executor) Submit(region world.RegionKey, fn func()) error {
	if e == nil {
		return ErrStopped
	}
	e.gate.RLock()
	defer e.gate.RUnlock()
	if !e.running.Load() {
		return ErrStopped
	}
	s := e.shards[e.ShardFor(region)]
	if !s.buffer.Push(Task{Region: region.String(), Run: fn}) {
		return fmt.Errorf("shard %d: %w", s.index, ErrBackpressure)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Occupancy reports the queued task count of every shard.
func (e *Executor) Occupancy() []int {
	if e == nil {
		return nil
	}
	out := make([]int, len(e.shards))
	for i, s := range e.shards {
		out[i] = s.buffer.Len()
	}
	return out
}

func (e *Executor) run(s *shard) {
	for {
		select {
		case <-s.stop:
			e.drain(s)
			return
		case <-s.wake:
			e.drain(s)
		}
	}
}

func (e *Executor) drain(s *shard) {
	for {
		tasks := s.buffer.Drain()
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			e.runSafely(task)
		}
	}
}

func (e *Executor) runSafely(task Task) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if e.logger != nil {
				e.logger.Printf("[sim] task for region %s panicked: %v", task.Region, recovered)
			}
			if e.onPanic != nil {
				e.onPanic(task.Region, recovered)
			}
		}
	}()
	if task.Run != nil {
		task.Run()
	}
}
