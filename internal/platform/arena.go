// Package platform is the memory-manager collaborator: allocateMappedMemory
// (size, flags) and protect(block, flags) with semantics matching POSIX
// mmap/mprotect. ExecBlock uses it to allocate its code arena (RWX) and
// data arena (RW). An arena mapped RX instead is toggled to RW for the
// minimum window needed while new code is written into it; ExecBlock does
// not use that path, so on a host that refuses RWX mappings its code-arena
// allocation fails.
package platform

import (
	"fmt"
	"unsafe"
)

// Protection is a bitset of the access rights granted to a mapped region.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

// Arena is a single mmap'd memory region plus the current protection bits
// applied to it. ExecBlock keeps one Arena for code and one for data.
type Arena struct {
	mem   []byte
	prot  Protection
	rwx   bool // true when the arena is mapped RWX and the OS allows it, so there is nothing to toggle
	inRW  bool // true while temporarily toggled to RW for writing (code arenas only)
	saved Protection
}

// AllocateArena reserves size bytes with the given initial protection. On
// hosts that refuse RWX mappings outright (notably macOS/iOS on arm64), the
// caller must use BeginWrite/EndWrite around any write to a ProtExec arena
// instead of holding ProtWrite|ProtExec simultaneously; for an arena
// requested ProtWrite|ProtExec, AllocateArena probes this once via
// supportsRWX and records the result.
func AllocateArena(size int, prot Protection) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("platform: invalid arena size %d", size)
	}
	mem, err := mmapAnon(size, prot)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap %d bytes prot=%v: %w", size, prot, err)
	}
	a := &Arena{mem: mem, prot: prot}
	if prot&ProtExec != 0 && prot&ProtWrite != 0 {
		a.rwx = supportsRWX()
	}
	return a, nil
}

// Bytes returns the backing slice. Valid only while the arena holds the
// protection the caller expects (callers reading/writing code must be inside
// a BeginWrite/EndWrite pair unless supportsRWX()).
func (a *Arena) Bytes() []byte { return a.mem }

// Len returns the arena's total capacity in bytes.
func (a *Arena) Len() int { return len(a.mem) }

// BaseAddr returns the arena's base address as an integer, the value
// ExecBlock writes into HostState.Selector when pointing at translated code.
func (a *Arena) BaseAddr() uintptr {
	if len(a.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// BeginWrite toggles a ProtExec arena to RW so the translator can append new
// sequences. For an arena mapped ProtWrite|ProtExec on a host where RWX is
// available this is a no-op: the page stays RX+W simultaneously, the
// simpler path taken whenever the host allows it.
func (a *Arena) BeginWrite() error {
	if a.prot&ProtExec == 0 || a.rwx {
		return nil
	}
	if a.inRW {
		return nil
	}
	if err := protect(a.mem, ProtRead|ProtWrite); err != nil {
		return fmt.Errorf("platform: toggle RW: %w", err)
	}
	a.inRW = true
	return nil
}

// EndWrite restores the arena's protection to ProtRead|ProtExec after a
// BeginWrite. Writes should hold the page RW for the minimum possible window.
func (a *Arena) EndWrite() error {
	if a.prot&ProtExec == 0 || a.rwx || !a.inRW {
		return nil
	}
	if err := protect(a.mem, ProtRead|ProtExec); err != nil {
		return fmt.Errorf("platform: toggle RX: %w", err)
	}
	a.inRW = false
	return nil
}

// Release unmaps the arena. Called when an ExecRegion is dropped entirely.
func (a *Arena) Release() error {
	if a.mem == nil {
		return nil
	}
	err := munmapAnon(a.mem)
	a.mem = nil
	return err
}
