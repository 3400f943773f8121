// Package worker implements the cooperative multi-worker scheduling model:
// a fixed pool of single-threaded event loops, each holding a
// container/heap min-heap of clients keyed on schedule_ms, and the
// WorkerBalancer policy that keeps load spread across the pool.
package worker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/corecast/corecast/internal/core"
)

// Role distinguishes whether a scheduled client drives Source.Read (the
// producer) or Source.SendListener (a listener) on its tick.
type Role int

const (
	RoleProducer Role = iota
	RoleListener
)

type scheduledClient struct {
	client     *core.Client
	source     *core.Source
	role       Role
	scheduleMs int64
	index      int
}

type clientHeap []*scheduledClient

func (h clientHeap) Len() int           { return len(h) }
func (h clientHeap) Less(i, j int) bool { return h[i].scheduleMs < h[j].scheduleMs }
func (h clientHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *clientHeap) Push(x any) {
	sc := x.(*scheduledClient)
	sc.index = len(*h)
	*h = append(*h, sc)
}

func (h *clientHeap) Pop() any {
	old := *h
	n := len(old)
	sc := old[n-1]
	old[n-1] = nil
	sc.index = -1
	*h = old[:n-1]
	return sc
}

// GlobalRunning reports whether the process as a whole is still accepting
// producer reads; Read clears FlagRunning on a source once this goes false
// (spec.md §4.2 step 1).
type GlobalRunning func() bool

// ThrottleFunc resolves the current global rate-governor level (spec.md
// §4.5 step 7); ownership of aggregate bandwidth accounting lives outside
// a single Worker, so it is injected.
type ThrottleFunc func() core.ThrottleLevel

// Worker is one cooperative event loop: a min-heap of clients ticked once
// their schedule_ms arrives, with no blocking syscalls inside a tick
// (spec.md §5, §9). It implements core.Worker.
type Worker struct {
	name string

	mu       sync.Mutex
	heap     clientHeap
	byClient map[*core.Client]*scheduledClient

	wake chan struct{}
	stop chan struct{}

	global   GlobalRunning
	throttle ThrottleFunc
}

// New builds an idle Worker; call Run on its own goroutine to start it.
func New(name string, global GlobalRunning, throttle ThrottleFunc) *Worker {
	if global == nil {
		global = func() bool { return true }
	}
	return &Worker{
		name:     name,
		byClient: make(map[*core.Client]*scheduledClient),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		global:   global,
		throttle: throttle,
	}
}

// CurrentTimeMs implements core.Worker.
func (w *Worker) CurrentTimeMs() int64 { return time.Now().UnixMilli() }

// Count implements core.Worker.
func (w *Worker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap)
}

// Wakeup implements core.Worker.
func (w *Worker) Wakeup() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Add schedules a newly-attached client for an immediate first tick.
func (w *Worker) Add(cl *core.Client, src *core.Source, role Role) {
	cl.Worker = w
	w.mu.Lock()
	sc := &scheduledClient{client: cl, source: src, role: role, scheduleMs: w.CurrentTimeMs()}
	heap.Push(&w.heap, sc)
	w.byClient[cl] = sc
	w.mu.Unlock()
	w.Wakeup()
}

// Remove drops a client from scheduling without running another tick, for
// callers that have already torn the client down some other way.
func (w *Worker) Remove(cl *core.Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.byClient[cl]
	if !ok {
		return
	}
	heap.Remove(&w.heap, sc.index)
	delete(w.byClient, cl)
}

// ClientChangeWorker implements core.Worker: hands ownership of client from
// w to target. Per the interface contract, the caller has already released
// the owning Source's lock.
func (w *Worker) ClientChangeWorker(client *core.Client, target core.Worker) bool {
	dst, ok := target.(*Worker)
	if !ok || dst == w {
		return false
	}

	w.mu.Lock()
	sc, ok := w.byClient[client]
	if !ok {
		w.mu.Unlock()
		return false
	}
	// sc.index is -1 when client is the one currently being ticked by
	// Run (already heap.Pop'd, not yet rescheduled); heap.Remove must
	// not be called on a popped entry.
	if sc.index >= 0 {
		heap.Remove(&w.heap, sc.index)
	}
	delete(w.byClient, client)
	w.mu.Unlock()

	dst.mu.Lock()
	sc.scheduleMs = dst.CurrentTimeMs()
	heap.Push(&dst.heap, sc)
	dst.byClient[client] = sc
	dst.mu.Unlock()

	client.Worker = dst
	dst.Wakeup()
	return true
}

// Run drives the event loop until Stop is called. One goroutine per Worker.
func (w *Worker) Run() {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		w.mu.Lock()
		var next *scheduledClient
		if len(w.heap) > 0 {
			next = w.heap[0]
		}
		w.mu.Unlock()

		now := w.CurrentTimeMs()
		if next == nil {
			w.sleep(50 * time.Millisecond)
			continue
		}
		if next.scheduleMs > now {
			w.sleep(time.Duration(next.scheduleMs-now) * time.Millisecond)
			continue
		}

		w.mu.Lock()
		heap.Pop(&w.heap)
		w.mu.Unlock()

		resched := w.runOne(next)
		if resched < 0 {
			w.mu.Lock()
			delete(w.byClient, next.client)
			w.mu.Unlock()
			continue
		}

		w.mu.Lock()
		// A client migrated by ClientChangeWorker during its tick now
		// belongs to the other worker's heap; do not push it here too.
		if w.byClient[next.client] == next {
			next.scheduleMs = now + resched
			heap.Push(&w.heap, next)
		}
		w.mu.Unlock()
	}
}

// runOne ticks a single scheduled client, returning its next schedule delay
// in milliseconds, or -1 once the client has been released and must not be
// rescheduled.
func (w *Worker) runOne(sc *scheduledClient) int64 {
	switch sc.role {
	case RoleProducer:
		res := core.Read(sc.source, w.global())
		if res.Moved {
			return -1
		}
		return res.RescheduleMs
	case RoleListener:
		level := core.ThrottleNone
		if w.throttle != nil {
			level = w.throttle()
		}
		resched, released := core.SendListener(sc.source, sc.client, level)
		if released {
			return -1
		}
		return resched
	default:
		return -1
	}
}

func (w *Worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.wake:
	case <-w.stop:
	}
}

// Stop terminates the Run loop.
func (w *Worker) Stop() { close(w.stop) }
