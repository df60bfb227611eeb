package runtime

import (
	"context"
	goruntime "runtime"
	"sync"

	"github.com/moduforge/moduforge/internal/metrics"
)

// taskPool is a fixed-size worker pool for detached work middleware spawns
// off the single-writer dispatch path (e.g. fire-and-forget notifications).
// Grounded on the teacher's scheduler.Scheduler: a small number of
// goroutines draining a channel, stopped via context cancellation.
type taskPool struct {
	jobs    chan func(context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.Runtime
}

func newTaskPool(size int, m *metrics.Runtime) *taskPool {
	if size <= 0 {
		size = goruntime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &taskPool{
		jobs:    make(chan func(context.Context), 256),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

func (p *taskPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case fn, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.metrics != nil {
				p.metrics.TaskPoolInFlight.Inc()
			}
			fn(ctx)
			if p.metrics != nil {
				p.metrics.TaskPoolInFlight.Dec()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Spawn enqueues fn for execution on a worker goroutine. It never blocks
// the caller past the pool's shutdown.
func (p *taskPool) Spawn(fn func(context.Context)) {
	select {
	case p.jobs <- fn:
	case <-p.ctx.Done():
	}
}

func (p *taskPool) Shutdown() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}
