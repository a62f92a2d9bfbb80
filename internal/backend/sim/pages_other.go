//go:build !unix

package sim

// mapPages falls back to heap memory; the region table keeps it reachable.
func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages([]byte) error {
	return nil
}
