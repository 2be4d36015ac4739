// Package taskqueue serializes work onto a single worker goroutine.
//
// A [Queue] owns exactly one worker goroutine, locked to its OS thread for
// its whole lifetime. Any goroutine may enqueue closures with [Queue.Submit]
// (fire-and-forget) or [Call] (blocks the caller until the worker produced a
// result). [Settle] releases the caller as soon as the task hands over its
// result, so the task may keep working afterwards. The worker pops one task, runs it to completion, and only then pops
// the next, so all tasks observe one total order that is consistent with the
// submission order of every individual producer.
//
// # Worker-confined state
//
// State that must only ever be touched by the worker lives in a [Local]. A
// Local is initialised lazily on first access from the worker and panics with
// [ErrNotWorker] when accessed from anywhere else.
//
// # Shutdown
//
// [Queue.Close] rejects further submissions with [ErrQueueClosed], runs every
// task already queued, then runs a final teardown task and joins the worker.
package taskqueue
