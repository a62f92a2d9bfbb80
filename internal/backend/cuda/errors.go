//go:build cuda

package cuda

import "fmt"

func callError(op string, err error) error {
	return fmt.Errorf("cuda %s failed: %w", op, err)
}
