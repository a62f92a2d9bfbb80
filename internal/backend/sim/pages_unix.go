//go:build unix

package sim

import "golang.org/x/sys/unix"

// mapPages reserves anonymous private pages outside the Go heap.
func mapPages(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapPages(b []byte) error {
	return unix.Munmap(b)
}
