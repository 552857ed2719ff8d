package sim

import (
	"github.com/sasha-s/go-deadlock"

	"mirage/server/internal/telemetry"
)

const (
	taskBufferOccupancyMetricKey = "sim_task_buffer_occupancy"
	taskBufferOverflowMetricKey  = "sim_task_buffer_overflow_total"
)

// Task is a unit of work executed on a shard.
type Task struct {
	// Region the task belongs to, used for diagnostics.
	Region string
	Run    func()
}

// TaskBuffer stores staged tasks in a fixed-size ring. It is safe for
// concurrent producers and a single consumer.
type TaskBuffer struct {
	mu      deadlock.Mutex
	data    []Task
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
	suffix  string
}

// NewTaskBuffer constructs a ring buffer with the provided capacity. label
// distinguishes the occupancy gauge of each shard.
func NewTaskBuffer(capacity int, metrics telemetry.Metrics, label string) *TaskBuffer {
	if capacity < 1 {
		capacity = 1
	}
	suffix := ""
	if label != "" {
		suffix = "_" + label
	}
	return &TaskBuffer{
		data:    make([]Task, capacity),
		metrics: metrics,
		suffix:  suffix,
	}
}

// Capacity reports the maximum number of tasks the buffer can hold.
func (b *TaskBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push stages a task, returning false if the buffer is full.
func (b *TaskBuffer) Push(task Task) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.metrics != nil {
			b.metrics.Add(taskBufferOverflowMetricKey, 1)
		}
		return false
	}
	b.data[b.tail] = task
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
	return true
}

// Drain returns all staged tasks in FIFO order and clears the buffer.
func (b *TaskBuffer) Drain() []Task {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	tasks := make([]Task, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		tasks[i] = b.data[idx]
		b.data[idx] = Task{}
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
	return tasks
}

// Len reports the number of staged tasks.
func (b *TaskBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *TaskBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(taskBufferOccupancyMetricKey+b.suffix, uint64(b.count))
}
