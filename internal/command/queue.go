// Package command implements the deferred-command pipeline: an MPSC queue
// of type-erased closures that worker-thread systems enqueue and the main
// thread drains between phases, so they never need a lock on the component
// store or a render backend handle.
//
// Each closure "type" (identified by a caller-supplied name, e.g.
// "multimesh_set_transform") gets its own bounded slot pool — a buffered
// channel used as a non-blocking semaphore, try-acquire via
// select/default, explicit release — rather than an unbounded allocation
// per enqueue.
package command

import (
	"context"
	"sync"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
)

// Cmd is a single deferred mutation. Execute runs on the main thread during
// drain; it must not block.
type Cmd func()

type producerQueue struct {
	mu    sync.Mutex
	items []entry
}

type entry struct {
	closureType string
	cmd         Cmd
}

// Queue is the per-world command queue. Producers are identified by an
// opaque key (typically a goroutine-local token handed out by the
// scheduler); each producer's commands drain in FIFO order, but ordering
// between producers is unspecified.
type Queue struct {
	capacityPerType int

	mu        sync.Mutex
	producers map[int]*producerQueue
	pools     map[string]chan struct{} // per-closure-type bounded slot pool

	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewQueue creates a Queue whose per-closure-type pool holds capacityPerType
// slots (default 1024).
func NewQueue(capacityPerType int, m *metrics.Metrics, logger *logging.Logger) *Queue {
	if capacityPerType <= 0 {
		capacityPerType = 1024
	}
	return &Queue{
		capacityPerType: capacityPerType,
		producers:       make(map[int]*producerQueue),
		pools:           make(map[string]chan struct{}),
		metrics:         m,
		logger:          logger,
	}
}

func (q *Queue) poolFor(closureType string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pools[closureType]
	if !ok {
		p = make(chan struct{}, q.capacityPerType)
		q.pools[closureType] = p
	}
	return p
}

func (q *Queue) producerFor(producer int) *producerQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.producers[producer]
	if !ok {
		p = &producerQueue{}
		q.producers[producer] = p
	}
	return p
}

// Enqueue buffers cmd, tagged under closureType for pool accounting and
// metrics. producer identifies the calling thread/goroutine so its commands
// preserve FIFO order relative to each other. Returns an error (soft,
// CodeCommandQueueFull) if that closure type's pool is exhausted; the
// caller must treat the drop as non-fatal.
func (q *Queue) Enqueue(producer int, closureType string, cmd Cmd) error {
	pool := q.poolFor(closureType)
	select {
	case pool <- struct{}{}:
	default:
		if q.metrics != nil {
			q.metrics.RecordCommandDropped(closureType)
		}
		if q.logger != nil {
			q.logger.LogCommandDropped(context.Background(), closureType)
		}
		return errors.CommandQueueFull(closureType)
	}

	pq := q.producerFor(producer)
	pq.mu.Lock()
	pq.items = append(pq.items, entry{closureType: closureType, cmd: cmd})
	pq.mu.Unlock()
	return nil
}

// IsEmpty is a best-effort hint; it may under-report under concurrent
// enqueue.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pq := range q.producers {
		pq.mu.Lock()
		n := len(pq.items)
		pq.mu.Unlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// Len returns the best-effort total number of commands pending drain,
// summed across producers. Used to feed the command_queue_length gauge.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, pq := range q.producers {
		pq.mu.Lock()
		total += len(pq.items)
		pq.mu.Unlock()
	}
	return total
}

// Drain executes every buffered command in FIFO order per producer
// (ordering between producers is unspecified) and releases each command's
// pool slot. Single-consumer only; must run on the main thread between
// phases.
func (q *Queue) Drain() {
	q.mu.Lock()
	producers := make([]*producerQueue, 0, len(q.producers))
	for _, pq := range q.producers {
		producers = append(producers, pq)
	}
	q.mu.Unlock()

	for _, pq := range producers {
		pq.mu.Lock()
		items := pq.items
		pq.items = nil
		pq.mu.Unlock()

		for _, e := range items {
			e.cmd()
			q.releaseSlot(e.closureType)
		}
	}
}

func (q *Queue) releaseSlot(closureType string) {
	pool := q.poolFor(closureType)
	select {
	case <-pool:
	default:
	}
}
