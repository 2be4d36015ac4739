// Package esbridge embeds a JavaScript engine in a Go program, confining
// the engine to a single worker goroutine.
//
// A [Runtime] owns a [taskqueue.Queue]. Every engine access is a task on that
// queue: fire-and-forget via [Runtime.Do] and the *Async methods, or blocking
// via [Exec] and the remaining methods. Inside a task, the [Session] exposes
// the engine itself, its reflection host, registered operations and loaded
// modules.
//
// # Script environment
//
// Besides the standard library of the engine, scripts see:
//
//   - esbridge.invoke(name, ...args), calling an [Operation] or
//     [AsyncOperation] registered by the host
//   - esbridge.onCleanup(fn) and esbridge.offCleanup(fn), hooks run by
//     [Runtime.Cleanup] ahead of a forced garbage collection
//   - esbridge.log(...parts), console and require
//   - queueMicrotask(fn), running fn after the current task, in FIFO order
//     with promise reactions
//   - classes declared via [reflection.ProxyBuilder] and [Runtime.Define]
//
// Modules are resolved through a [ModuleLoader]. ES module and TypeScript
// sources are converted to CommonJS before evaluation, and positions in
// [ScriptError] values are mapped back to the original source.
//
// # Lifetime
//
// [Runtime.Close] rejects new tasks, runs the ones already queued and tears
// the session down. The session only holds a weak reference to its Runtime;
// a Runtime that is dropped without Close is shut down after collection.
package esbridge
