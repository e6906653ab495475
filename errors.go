package dbicore

import "errors"

// Sentinel errors callers can match with errors.Is. Engine.Run returns
// ErrTransferRefused and ErrNotRunning. No Engine method returns
// ErrDecodeFailure or ErrExecBlockFull: a decode failure or a full code
// arena reaches the caller as the translator's own wrapped error instead.
var (
	// ErrDecodeFailure means the decoder could not make sense of the bytes
	// at a guest address the translator was asked to translate.
	ErrDecodeFailure = errors.New("dbicore: guest instruction decode failure")

	// ErrExecBlockFull means a code arena had no room for a sequence and
	// no further region could be allocated (the engine is out of memory
	// budget, not a transient condition worth retrying).
	ErrExecBlockFull = errors.New("dbicore: execution block full")

	// ErrTransferRefused means a native call-out returned control to the
	// Engine but the stack/link-register scan TransferExecution runs
	// afterwards found no instrumented address to resume translating at,
	// so Run stopped rather than guess a resume point.
	ErrTransferRefused = errors.New("dbicore: native transfer found no instrumented address to resume at")

	// ErrNotRunning means Run was called on an Engine that has not been
	// given a starting address via SetPC or has already exited.
	ErrNotRunning = errors.New("dbicore: engine is not positioned to run")
)

// unreachableInvariant panics with a message identifying which internal
// invariant was violated, for conditions that indicate a bug in this
// engine itself rather than a problem with the instrumented program. It
// has no callers: the generators and the code cache live in internal
// packages and return errors instead (the helper draws the same
// distinction wazero's nativeCallStatusCode.causePanic draws between a
// WASM trap and an engine bug).
func unreachableInvariant(why string) {
	panic("dbicore: unreachable: " + why)
}
