//go:build !linux

package threadid

// Get returns -1, thread ids are only reported on linux.
func Get() int {
	return -1
}
