package taskqueue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-esbridge/internal/threadid"
	"github.com/joeycumines/logiface"
	"github.com/petermattis/goid"
)

// Queue is a FIFO of closures executed by a single dedicated worker goroutine.
//
// Thread Safety: all exported methods are safe for concurrent use, except
// where documented as worker-only.
type Queue struct {
	logger   *logiface.Logger[logiface.Event]
	limiter  *catrate.Limiter
	metrics  *metrics
	cond     *sync.Cond
	done     chan struct{}
	tasks    ingress
	name     string
	workerID atomic.Int64
	mu       sync.Mutex
	state    State
}

// New creates a queue and starts its worker. The worker is running, and
// [Queue.IsWorker] is usable, by the time New returns.
func New(opts ...Option) (*Queue, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: %w", err)
	}

	q := &Queue{
		logger: cfg.logger,
		done:   make(chan struct{}),
		name:   cfg.name,
	}
	q.cond = sync.NewCond(&q.mu)

	if len(cfg.errorRateLimits) != 0 {
		q.limiter = catrate.NewLimiter(cfg.errorRateLimits)
	}

	if cfg.registerer != nil {
		if q.metrics, err = newMetrics(cfg.registerer, cfg.name); err != nil {
			return nil, fmt.Errorf("taskqueue: register metrics: %w", err)
		}
	}

	started := make(chan struct{})
	go q.run(started)
	<-started

	return q, nil
}

// Name returns the label given via [WithName].
func (q *Queue) Name() string {
	return q.name
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Done is closed once the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// IsWorker reports whether the caller is running on the worker goroutine.
func (q *Queue) IsWorker() bool {
	id := q.workerID.Load()
	if id == 0 {
		return false
	}
	return goid.Get() == id
}

// mustBeWorker panics with ErrNotWorker unless called from the worker.
func (q *Queue) mustBeWorker() {
	if !q.IsWorker() {
		panic(ErrNotWorker)
	}
}

// Submit enqueues fn and returns immediately.
func (q *Queue) Submit(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return q.push(task{fn: fn})
}

// SubmitFromWorker enqueues fn from within a running task. It never blocks,
// and fn runs after the current task and everything already queued.
func (q *Queue) SubmitFromWorker(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	if !q.IsWorker() {
		return ErrNotWorker
	}
	return q.push(task{fn: fn})
}

func (q *Queue) push(t task) error {
	q.mu.Lock()
	if q.state != StateOpen {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	t.enqueued = time.Now()
	q.tasks.Push(t)
	depth := q.tasks.Len()
	q.mu.Unlock()

	q.cond.Signal()
	q.metrics.onSubmit(depth)

	return nil
}

type result[R any] struct {
	value R
	err   error
}

// Call enqueues fn and blocks until the worker has run it, returning its
// result. The caller waits on a one-shot channel, not on the queue lock.
//
// A panic inside fn is returned as a [PanicError]. Calling Call from the
// worker fails with [ErrReentrantCall].
func Call[R any](q *Queue, fn func() (R, error)) (R, error) {
	if fn == nil {
		var zero R
		return zero, ErrNilTask
	}
	return Settle(q, func(settle func(R, error)) {
		settle(fn())
	})
}

// Settle is like [Call], except fn hands over its result by calling settle,
// which releases the caller while fn may still be running. Only the first
// settlement counts. If fn returns without settling the caller receives
// [ErrNotSettled], and a panic after settling is logged like that of a
// submitted task.
func Settle[R any](q *Queue, fn func(settle func(R, error))) (R, error) {
	var zero R
	if fn == nil {
		return zero, ErrNilTask
	}
	if q.IsWorker() {
		return zero, ErrReentrantCall
	}

	ch := make(chan result[R], 1)
	var settled bool // worker-only
	settle := func(value R, err error) {
		if settled {
			return
		}
		settled = true
		ch <- result[R]{value: value, err: err}
	}

	err := q.push(task{fn: func() {
		var returned bool
		defer func() {
			r := recover()
			switch {
			case settled:
				if r != nil {
					panic(r)
				}
			case r != nil:
				settle(zero, PanicError{Value: r})
			case !returned:
				settle(zero, ErrGoexit)
			default:
				settle(zero, ErrNotSettled)
			}
		}()
		fn(settle)
		returned = true
	}, fail: func(err error) {
		settle(zero, err)
	}})
	if err != nil {
		return zero, err
	}

	res := <-ch
	return res.value, res.err
}

// Close begins shutdown. Submissions made from now on fail with
// [ErrQueueClosed]. Every task already queued still runs, followed by
// teardown (if non-nil), after which the worker exits.
//
// Close waits for the worker to exit, or for ctx to be done, whichever comes
// first. Calling Close from the worker fails with [ErrReentrantCall].
func (q *Queue) Close(ctx context.Context, teardown func()) error {
	if q.IsWorker() {
		return ErrReentrantCall
	}

	q.mu.Lock()
	if q.state != StateOpen {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if teardown != nil {
		q.tasks.Push(task{fn: teardown, enqueued: time.Now()})
	}
	q.state = StateClosing
	q.mu.Unlock()

	q.cond.Signal()

	q.logger.Debug().
		Str("queue", q.name).
		Log("shutdown requested")

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogError reports the failure of a fire-and-forget task. Entries are rate
// limited per category.
func (q *Queue) LogError(category string, err error) {
	next, ok := q.limiter.Allow(category)
	if !ok {
		q.metrics.onSuppressed()
		return
	}
	if !next.IsZero() {
		q.logger.Warning().
			Str("queue", q.name).
			Str("category", category).
			Dur("until", time.Until(next)).
			Log("further task failures will be suppressed")
	}
	q.logger.Err().
		Str("queue", q.name).
		Str("category", category).
		Err(err).
		Log("task failed")
}

func (q *Queue) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	q.workerID.Store(goid.Get())

	var exited bool
	defer func() {
		q.workerID.Store(0)
		if !exited {
			// runtime.Goexit inside a task, nothing can run any more
			abandoned := q.abandon()
			q.logger.Err().
				Str("queue", q.name).
				Int("abandoned", abandoned).
				Log("worker exited unexpectedly")
		}
		close(q.done)
	}()

	q.logger.Debug().
		Str("queue", q.name).
		Int("tid", threadid.Get()).
		Log("worker started")

	close(started)

	for {
		t, ok := q.next()
		if !ok {
			break
		}
		q.execute(t)
	}

	exited = true

	q.logger.Debug().
		Str("queue", q.name).
		Log("worker stopped")
}

// abandon closes the queue without running what is left, failing every
// pending Call with ErrQueueClosed. It returns the number of dropped tasks.
func (q *Queue) abandon() int {
	q.mu.Lock()
	q.state = StateClosed
	var pending []task
	for {
		t, ok := q.tasks.Pop()
		if !ok {
			break
		}
		pending = append(pending, t)
	}
	q.mu.Unlock()

	for _, t := range pending {
		if t.fail != nil {
			t.fail(ErrQueueClosed)
		}
	}
	return len(pending)
}

// next blocks until a task is available, returning false once the queue is
// closing and has been drained.
func (q *Queue) next() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if t, ok := q.tasks.Pop(); ok {
			q.metrics.onDequeue(q.tasks.Len(), t.enqueued)
			return t, true
		}
		if q.state != StateOpen {
			q.state = StateClosed
			return task{}, false
		}
		q.cond.Wait()
	}
}

// execute runs a single task, recovering any panic.
func (q *Queue) execute(t task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.metrics.onPanic()
			q.LogError("panic", PanicError{Value: r})
		}
		q.metrics.onExecuted(time.Since(start))
	}()

	if b := q.logger.Trace(); b.Enabled() {
		b.Str("queue", q.name).
			Dur("waited", start.Sub(t.enqueued)).
			Log("running task")
	}

	t.fn()
}
