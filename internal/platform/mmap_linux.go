//go:build linux

package platform

import (
	"sync"

	"golang.org/x/sys/unix"
)

func toUnixProt(p Protection) int {
	var v int
	if p&ProtRead != 0 {
		v |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		v |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		v |= unix.PROT_EXEC
	}
	return v
}

func mmapAnon(size int, prot Protection) ([]byte, error) {
	return unix.Mmap(-1, 0, size, toUnixProt(prot), unix.MAP_PRIVATE|unix.MAP_ANON)
}

func munmapAnon(b []byte) error {
	return unix.Munmap(b)
}

func protect(b []byte, prot Protection) error {
	return unix.Mprotect(b, toUnixProt(prot))
}

var (
	rwxOnce  sync.Once
	rwxAllow bool
)

// supportsRWX probes, once per process, whether the kernel allows a mapping
// to be simultaneously writable and executable. Linux allows this unless
// hardened by a W^X LSM policy; we probe rather than assume so a hardened
// host still gets the RW<->RX toggle path instead of failing outright.
func supportsRWX() bool {
	rwxOnce.Do(func() {
		m, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			rwxAllow = false
			return
		}
		rwxAllow = true
		_ = unix.Munmap(m)
	})
	return rwxAllow
}
