//go:build !linux

package platform

import "fmt"

// On platforms other than linux (darwin/arm64 and iOS in particular, where
// W^X entitlements forbid a single RWX mapping outright) a production build
// would fall back to a JIT-server / remote entitlement helper external to
// this core. We don't carry that collaborator here, so non-linux builds fail
// loudly instead of silently pretending to have RWX.

func mmapAnon(size int, prot Protection) ([]byte, error) {
	return nil, fmt.Errorf("platform: anonymous executable mappings are not implemented on this GOOS")
}

func munmapAnon(b []byte) error {
	return fmt.Errorf("platform: unmap not implemented on this GOOS")
}

func protect(b []byte, prot Protection) error {
	return fmt.Errorf("platform: mprotect not implemented on this GOOS")
}

func supportsRWX() bool { return false }
