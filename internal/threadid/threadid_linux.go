//go:build linux

package threadid

import (
	"golang.org/x/sys/unix"
)

// Get returns the kernel id of the calling OS thread.
func Get() int {
	return unix.Gettid()
}
