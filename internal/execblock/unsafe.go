package execblock

import "github.com/vantir/dbicore/internal/platform"

// unsafeDataPointer returns d's backing memory reinterpreted as a
// *Context; d must be sized to at least unsafe.Sizeof(Context{}). Nothing
// here checks that: dbicore.Config's default data-arena size is large
// enough, and a smaller WithDataArenaSize value is not rejected.
func unsafeDataPointer(d *platform.Arena) *Context {
	return unsafeBytesAsContext(d.Bytes())
}
