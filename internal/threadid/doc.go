// Package threadid reports the OS thread a goroutine is running on, for log
// correlation of goroutines locked with runtime.LockOSThread.
package threadid
