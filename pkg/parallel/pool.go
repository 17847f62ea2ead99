// Package parallel runs position-range work on a reusable goroutine pool.
//
// Usage:
//
//	pool, _ := parallel.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	pool.ParallelFor(n, func(start, end int) {
//	    for i := start; i < end; i++ {
//	        process(i)
//	    }
//	})
package parallel

import (
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Pool is a fixed-size worker pool that is created once and reused across
// training and steady-state calls.
type Pool struct {
	workers int
	pool    *ants.Pool
}

// New creates a pool with the given number of workers. If workers <= 0,
// GOMAXPROCS is used.
func New(workers int) (*Pool, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Pool{workers: workers, pool: p}, nil
}

// Workers returns the number of workers; a nil pool has one.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

// Close releases the workers. Work submitted afterwards runs on the caller.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.pool.Release()
}

// ParallelFor splits [0, n) into at most Workers() contiguous chunks and
// calls fn(start, end) for each, blocking until all return. fn must only
// write to indices inside its chunk. ParallelFor must not be called from
// inside fn on the same pool.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := min(p.Workers(), n)
	if workers == 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		s, e := start, end
		task := func() {
			defer wg.Done()
			fn(s, e)
		}
		if err := p.pool.Submit(task); err != nil {
			// pool released: run on the caller
			task()
		}
	}
	wg.Wait()
}

// Chunks reports how many chunks ParallelFor would use for n items.
func (p *Pool) Chunks(n int) int {
	if n <= 0 {
		return 0
	}
	workers := min(p.Workers(), n)
	chunk := (n + workers - 1) / workers
	return (n + chunk - 1) / chunk
}
