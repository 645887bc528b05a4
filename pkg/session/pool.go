package session

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// pool runs queued loads on a fixed set of worker goroutines. A load stays
// Queued until a worker picks it up.
type pool struct {
	workers int
	jobs    chan *load
	run     func(ctx context.Context, l *load)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool

	started       atomic.Uint64
	completed     atomic.Uint64
	totalDuration atomic.Uint64
}

// newPool starts workers goroutines; workers <= 0 uses runtime.NumCPU().
func newPool(workers int, run func(ctx context.Context, l *load)) *pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		workers: workers,
		jobs:    make(chan *load),
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// submit hands l to a worker, blocking until one is free. It returns false
// when the pool closes first.
func (p *pool) submit(l *load) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- l:
		return true
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case l := <-p.jobs:
			start := time.Now()
			p.started.Add(1)
			p.run(p.ctx, l)
			p.completed.Add(1)
			p.totalDuration.Add(uint64(time.Since(start)))
		}
	}
}

// close cancels running loads and waits for the workers to exit.
func (p *pool) close() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// Stats describes the load pool.
type Stats struct {
	Workers        int
	LoadsStarted   uint64
	LoadsCompleted uint64
	AvgDuration    time.Duration
}

func (p *pool) stats() Stats {
	s := Stats{
		Workers:        p.workers,
		LoadsStarted:   p.started.Load(),
		LoadsCompleted: p.completed.Load(),
	}
	if s.LoadsCompleted > 0 {
		s.AvgDuration = time.Duration(p.totalDuration.Load() / s.LoadsCompleted)
	}
	return s
}
