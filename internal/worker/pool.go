package worker

import (
	"fmt"
	"log"

	"github.com/corecast/corecast/internal/core"
)

// MigrationThreshold is how many more clients one worker must be carrying
// than the least-loaded worker before WorkerBalancer migrates an existing
// assignment (spec.md §2 component 8). Chosen to avoid thrashing a source
// or listener back and forth across a transient one-client difference.
const MigrationThreshold = 4

// Pool is the fixed set of Workers spec.md §5's "cooperative multi-worker"
// model names. Size is fixed at construction; workers are never added or
// removed at runtime.
type Pool struct {
	workers []*Worker
	logger  *log.Logger
}

// NewPool builds n Workers and starts each on its own goroutine. global
// reports process-wide shutdown state for producer ticks; throttle
// resolves the current rate-governor level for listener ticks.
func NewPool(n int, global GlobalRunning, throttle ThrottleFunc, logger *log.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{logger: logger}
	for i := 0; i < n; i++ {
		w := New(fmt.Sprintf("worker-%d", i), global, throttle)
		p.workers = append(p.workers, w)
		go w.Run()
	}
	logger.Printf("worker pool started with %d workers", n)
	return p
}

// Least returns the Worker currently holding the fewest clients.
func (p *Pool) Least() *Worker {
	least := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.Count() < least.Count() {
			least = w
		}
	}
	return least
}

// Assign adds a freshly-attached client to the least-busy worker and
// returns it.
func (p *Pool) Assign(cl *core.Client, src *core.Source, role Role) *Worker {
	w := p.Least()
	w.Add(cl, src, role)
	return w
}

// Stop terminates every worker's loop.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Balancer implements core.Balancer against this Pool (spec.md §4.7): a
// producer moves to the least-busy worker once the gap between its
// current worker and the least-busy one exceeds MigrationThreshold; a
// listener moves to its producer's worker whenever they differ.
type Balancer struct {
	pool *Pool
}

// NewBalancer builds a Balancer over pool.
func NewBalancer(pool *Pool) *Balancer {
	return &Balancer{pool: pool}
}

// SourceChangeWorker implements core.Balancer. Caller holds src.lock; on a
// true return the lock has already been released.
func (b *Balancer) SourceChangeWorker(src *core.Source) bool {
	producer := src.Producer
	if producer == nil || producer.Worker == nil {
		return false
	}
	current, ok := producer.Worker.(*Worker)
	if !ok {
		return false
	}
	least := b.pool.Least()
	if least == current || current.Count() <= least.Count()+MigrationThreshold {
		return false
	}

	src.Unlock()
	if current.ClientChangeWorker(producer, least) {
		return true
	}
	src.Lock()
	return false
}

// ListenerChangeWorker implements core.Balancer. Caller holds src.lock; on
// a true return the lock has already been released.
func (b *Balancer) ListenerChangeWorker(src *core.Source, cl *core.Client) bool {
	if cl.Worker == nil || src.Producer == nil || src.Producer.Worker == nil {
		return false
	}
	target := src.Producer.Worker
	current, ok := cl.Worker.(*Worker)
	if !ok || core.Worker(current) == target {
		return false
	}

	src.Unlock()
	if current.ClientChangeWorker(cl, target) {
		return true
	}
	src.Lock()
	return false
}
