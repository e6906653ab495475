// Package hostcpu snapshots the host CPU feature set once at process start.
//
// The snapshot is exposed through Snapshot. No prologue or generator in
// this module reads it, and no FPR state is saved or restored, so it does
// not change any generated code. On hosts where the feature set can change after startup
// (VM migration, heterogeneous container scheduling) this goes stale; we
// take the simple default of reading once and never re-probing mid-run.
package hostcpu

import "golang.org/x/sys/cpu"

// Features is an immutable snapshot of the host's vector capabilities
// (AVX, AVX2, SSE2). Captured once at package initialization; see the
// package doc for why, and for the fact that nothing consults it.
type Features struct {
	AVX  bool
	AVX2 bool
	SSE2 bool
}

var snapshot = detect()

func detect() Features {
	switch {
	case cpuX86:
		return Features{AVX: cpu.X86.HasAVX, AVX2: cpu.X86.HasAVX2, SSE2: cpu.X86.HasSSE2}
	default:
		// Non-amd64 hosts don't have an AVX concept; ARM64 FPR save/restore
		// is unconditional (the NEON register file is always present).
		return Features{}
	}
}

// Snapshot returns the process-wide feature set captured at startup.
//
// Known limitation: if the process is migrated to a host with a different
// feature set (live VM migration, heterogeneous container scheduling) this
// snapshot goes stale. Restart the process to pick up new features.
func Snapshot() Features { return snapshot }
