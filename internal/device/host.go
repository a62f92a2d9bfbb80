package device

import "unsafe"

// Element is any Go type that maps onto a DType.
type Element interface {
	float32 | float64 | complex64 | complex128 | int32
}

// DTypeOf returns the DType matching T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return F32
	case float64:
		return F64
	case complex64:
		return C64
	case complex128:
		return C128
	case int32:
		return S32
	default:
		return Invalid
	}
}

// HostBytes reinterprets a host slice as its raw bytes without copying.
func HostBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
}

// HostView reinterprets raw bytes as a typed slice without copying. b must
// be suitably aligned for T; trailing bytes that do not fill an element are
// ignored.
func HostView[T Element](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
