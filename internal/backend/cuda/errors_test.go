//go:build cuda

package cuda

import (
	"errors"
	"strings"
	"testing"
)

func TestCallErrorWrapsError(t *testing.T) {
	cause := errors.New("out of memory")
	err := callError("malloc", cause)
	if !strings.Contains(err.Error(), "cuda malloc failed") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}
