package ledger

// Dispatcher models spec.md §5's single logical main dispatcher: a
// cooperative, single-goroutine job queue, plus a bounded worker pool for
// CPU-bound offloads submitted through RunIOTask (this package submits the
// blinded-credential oracle calls and mnemonic decoding; HKDF and Ed25519
// run inline in their callers). HTTP request callbacks are not posted here:
// the transport delivers them on its own goroutine. Grounded on core/connection_pool.go's
// mutex-guarded-resource-plus-background-goroutine shape, generalized here
// from pooled net.Conns to pooled worker goroutines.

import (
	"sync"
)

// Dispatcher runs jobs submitted with Post, and RunIOTask continuations, one
// at a time on its own goroutine. HTTP callbacks delivered by the transport
// run outside it. CPU-bound work is handed to a fixed worker pool via
// RunIOTask, whose continuation is posted back onto the dispatcher.
type Dispatcher struct {
	jobs      chan func()
	workers   chan func()
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher starts a Dispatcher with workerCount background workers for
// RunIOTask offloads. workerCount <= 0 defaults to 1.
func NewDispatcher(workerCount int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	d := &Dispatcher{
		jobs:    make(chan func(), 64),
		workers: make(chan func(), 64),
		closing: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.mainLoop()
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.workerLoop()
	}
	return d
}

func (d *Dispatcher) mainLoop() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.closing:
			return
		}
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.workers:
			job()
		case <-d.closing:
			return
		}
	}
}

// Post schedules fn to run on the main dispatcher goroutine, in submission
// order relative to other Post calls.
func (d *Dispatcher) Post(fn func()) {
	select {
	case d.jobs <- fn:
	case <-d.closing:
	}
}

// RunIOTask submits job to the worker pool; when job returns, continuation
// is posted back onto the main dispatcher with job's result. This is the
// concrete form of spec §4.1/§5's "RunIOTask(job, continuation)" primitive:
// job itself never runs on the main dispatcher goroutine.
func (d *Dispatcher) RunIOTask(job func() (any, error), continuation func(any, error)) {
	select {
	case d.workers <- func() {
		result, err := job()
		d.Post(func() { continuation(result, err) })
	}:
	case <-d.closing:
	}
}

// Close stops accepting new jobs and waits for in-flight jobs/workers to
// finish. Idempotent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closing)
	})
	d.wg.Wait()
}
