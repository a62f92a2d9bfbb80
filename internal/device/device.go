// Package device describes memory that lives on an accelerator: element
// types, raw addresses, execution streams and the buffer descriptors the
// array runtime hands to kernels.
package device

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// DType tags the element type stored in a device buffer.
type DType uint8

const (
	Invalid DType = iota
	F32
	F64
	C64
	C128
	S32
)

// Size returns the element width in bytes, or 0 for Invalid.
func (d DType) Size() int64 {
	switch d {
	case F32, S32:
		return 4
	case F64, C64:
		return 8
	case C128:
		return 16
	default:
		return 0
	}
}

// IsComplex reports whether the type stores (re, im) pairs.
func (d DType) IsComplex() bool {
	return d == C64 || d == C128
}

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case C64:
		return "c64"
	case C128:
		return "c128"
	case S32:
		return "s32"
	default:
		return "invalid"
	}
}

// ParseDType accepts the names produced by String plus a few common aliases.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32":
		return F32, nil
	case "f64", "float64":
		return F64, nil
	case "c64", "complex64":
		return C64, nil
	case "c128", "complex128":
		return C128, nil
	case "s32", "int32":
		return S32, nil
	default:
		return Invalid, fmt.Errorf("unknown dtype %q (expected f32, f64, c64, c128 or s32)", s)
	}
}

// Ptr is a raw device address. It is never dereferenced on the host.
type Ptr uintptr

// Add offsets the address by a byte count.
func (p Ptr) Add(bytes int64) Ptr {
	return p + Ptr(bytes)
}

// Stream identifies an ordered queue of asynchronous device work.
type Stream uintptr

// Buffer is a caller-owned region of device memory with its logical shape.
type Buffer struct {
	Data  Ptr
	DType DType
	Dims  []int64
}

// Elements returns the number of elements described by Dims.
func (b Buffer) Elements() int64 {
	n := int64(1)
	for _, d := range b.Dims {
		n *= d
	}
	return n
}

// Bytes returns the payload size in bytes.
func (b Buffer) Bytes() int64 {
	return b.Elements() * b.DType.Size()
}

// SplitBatch2D interprets dims as a stack of matrices: the last two
// dimensions are rows and cols, everything before them is folded into the
// batch count.
func SplitBatch2D(dims []int64) (batch, rows, cols int64, err error) {
	if len(dims) < 2 {
		return 0, 0, 0, fmt.Errorf("expected rank >= 2, got rank %d", len(dims))
	}
	for i, d := range dims {
		if d < 0 {
			return 0, 0, 0, fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
	}
	lead := dims[:len(dims)-2]
	batch = 1
	if slices.Contains(lead, 0) {
		batch = 0
		lead = nil
	}
	for _, d := range lead {
		if batch > math.MaxInt64/d {
			return 0, 0, 0, fmt.Errorf("batch dimensions %v overflow int64", lead)
		}
		batch *= d
	}
	return batch, dims[len(dims)-2], dims[len(dims)-1], nil
}
