package tfm

import (
	"sync"
	"sync/atomic"
)

// taskRing is a FIFO of functions backed by a ring that doubles when full.
type taskRing struct {
	buf  []func()
	head int
	n    int
}

func newTaskRing(size int) *taskRing {
	if size < 1 {
		size = 1
	}
	return &taskRing{buf: make([]func(), size)}
}

func (r *taskRing) len() int {
	return r.n
}

func (r *taskRing) push(f func()) {
	if r.n == len(r.buf) {
		buf := make([]func(), 2*len(r.buf))
		m := copy(buf, r.buf[r.head:])
		copy(buf[m:], r.buf[:r.head])
		r.buf, r.head = buf, 0
	}
	r.buf[(r.head+r.n)%len(r.buf)] = f
	r.n++
}

func (r *taskRing) peek() func() {
	return r.buf[r.head]
}

func (r *taskRing) pop() (func(), bool) {
	if r.n == 0 {
		return nil, false
	}
	f := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return f, true
}

// serialWorker runs functions one at a time in their submission order. An
// operation uses it for blocking calls to middleboxes and for ordered event
// replay, so that message callbacks never block on them.
//
// Submitted functions go through an unbounded buffer: Do blocks only until
// the buffering goroutine picks f up, never on the function being run.
type serialWorker struct {
	in   chan func()
	run  chan func()
	quit chan struct{}
	once sync.Once
}

func newSerialWorker() *serialWorker {
	w := &serialWorker{
		in:   make(chan func(), 16),
		run:  make(chan func()),
		quit: make(chan struct{}),
	}
	go w.buffer(newTaskRing(16))
	go w.loop()
	return w
}

// buffer moves functions from in to run, queueing them in r while the
// runner is busy.
func (w *serialWorker) buffer(r *taskRing) {
	for {
		var run chan func()
		var next func()
		if r.len() > 0 {
			run, next = w.run, r.peek()
		}
		select {
		case f := <-w.in:
			r.push(f)
		case run <- next:
			r.pop()
		case <-w.quit:
			return
		}
	}
}

func (w *serialWorker) loop() {
	for {
		select {
		case f := <-w.run:
			select {
			case <-w.quit:
				return
			default:
			}
			f()
		case <-w.quit:
			return
		}
	}
}

// Do enqueues f. f is dropped if the worker is stopped.
func (w *serialWorker) Do(f func()) {
	select {
	case w.in <- f:
	case <-w.quit:
	}
}

// Call runs f on the worker and waits for its result. It returns
// ErrTerminated if the worker is stopped before running f.
func (w *serialWorker) Call(f func() error) error {
	var state int32 // 0: queued, 1: running, 2: abandoned.
	ch := make(chan error, 1)
	w.Do(func() {
		if atomic.CompareAndSwapInt32(&state, 0, 1) {
			ch <- f()
		}
	})
	select {
	case err := <-ch:
		return err
	case <-w.quit:
		if atomic.CompareAndSwapInt32(&state, 0, 2) {
			return ErrTerminated
		}
		return <-ch
	}
}

// Stop stops the worker. The function being run, if any, is not interrupted
// and queued functions are dropped. Stop can be called from within f.
func (w *serialWorker) Stop() {
	w.once.Do(func() { close(w.quit) })
}
