//go:build !cuda

package backend

import "fmt"

func newCUDA(Options) (Device, error) {
	return nil, fmt.Errorf("cuda backend is not available in this build")
}
