// Package workerpool provides a bounded pool of goroutines for offloading
// binary geometry decoding.
//
// Unlike a general task queue, the pool enforces backpressure: when every
// worker is busy and the (small, fixed) queue is full, TrySubmit refuses
// the job instead of queueing or blocking. Callers treat the refusal as a
// postponement and re-poll on a later frame.
package workerpool

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrSaturated is returned by TrySubmit when the pool cannot accept more
// work. It signals postponement, not failure.
var ErrSaturated = errors.New("workerpool: saturated")

// ErrClosed is returned by TrySubmit after Close.
var ErrClosed = errors.New("workerpool: closed")

// Pool is a fixed-size worker pool with a bounded queue.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	// queue holds pending jobs. Its capacity equals the worker count, so
	// at most 2*workers jobs are admitted (running + queued) before
	// TrySubmit starts refusing.
	queue chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// closed flips once on Close.
	closed atomic.Bool

	workers int
}

// New creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// Workers start immediately and wait for work.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		queue:   make(chan func(), workers),
		done:    make(chan struct{}),
		workers: workers,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// TrySubmit offers a job to the pool without blocking.
// It returns ErrSaturated when the queue is full and ErrClosed after
// Close; otherwise the job will run on some worker goroutine.
func (p *Pool) TrySubmit(job func()) error {
	if job == nil {
		return nil
	}
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrSaturated
	}
}

// Close stops the workers after draining any queued jobs and waits for
// them to exit. Close is idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue:
			if job != nil {
				job()
			}
		case <-p.done:
			// Drain remaining work before exiting.
			for {
				select {
				case job := <-p.queue:
					if job != nil {
						job()
					}
				default:
					return
				}
			}
		}
	}
}
