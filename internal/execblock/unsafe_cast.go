package execblock

import "unsafe"

func unsafeBytesAsContext(b []byte) *Context {
	return (*Context)(unsafe.Pointer(&b[0]))
}
