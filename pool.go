package tfm

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// task is a unit of work run on a worker pool.
type task func(ctx context.Context) error

// workerPool runs the tasks of an operation in parallel. At most size tasks
// run concurrently; a size of 0 means unbounded. Closing the pool cancels the
// context of queued and running tasks.
type workerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if size > 0 {
		p.sem = make(chan struct{}, size)
	}
	return p
}

func (p *workerPool) acquire(ctx context.Context) error {
	if p.sem == nil {
		return ctx.Err()
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *workerPool) release() {
	if p.sem != nil {
		<-p.sem
	}
}

func (p *workerPool) run(ctx context.Context, t task) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()
	return t(ctx)
}

// Submit runs t on the pool without blocking the caller. done, if not nil,
// is called with the result of t.
func (p *workerPool) Submit(t task, done func(err error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.run(p.ctx, t)
		if done != nil {
			done(err)
		}
	}()
}

// All runs the tasks on the pool and waits until all of them return. It
// returns the first error. Once a task fails, tasks that have not started
// are cancelled.
func (p *workerPool) All(ts []task) error {
	g, ctx := errgroup.WithContext(p.ctx)
	for _, t := range ts {
		t := t
		p.wg.Add(1)
		g.Go(func() error {
			defer p.wg.Done()
			return p.run(ctx, t)
		})
	}
	return g.Wait()
}

// Close cancels all tasks. It does not wait for running tasks.
func (p *workerPool) Close() {
	p.cancel()
}

// Wait waits for all the tasks submitted to the pool.
func (p *workerPool) Wait() {
	p.wg.Wait()
}
