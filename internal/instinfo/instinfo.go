// Package instinfo is a static, opcode-keyed memory
// access table describing how much an instruction reads and writes through
// memory operands, and whether those accesses touch the stack. The
// translator looks each instruction up once and stores the result in
// execblock.InstMetadata.MemAccess; no PatchRule generator reads it.
package instinfo

// Access describes one instruction's memory access shape. ReadSize and
// WriteSize are in bytes; 0 means the instruction performs no memory read
// (resp. write) at all.
type Access struct {
	ReadSize      int
	WriteSize     int
	IsStackRead   bool
	IsStackWrite  bool
	UnsupportedRW bool // access width/addressing the table cannot characterize
}

// UnsupportedRead reports whether a's read side could not be characterized.
func (a Access) UnsupportedRead() bool { return a.UnsupportedRW && a.ReadSize == 0 }

// UnsupportedWrite reports whether a's write side could not be characterized.
func (a Access) UnsupportedWrite() bool { return a.UnsupportedRW && a.WriteSize == 0 }

// HasMemoryAccess reports whether a reads or writes through any memory
// operand at all.
func (a Access) HasMemoryAccess() bool {
	return a.ReadSize > 0 || a.WriteSize > 0 || a.UnsupportedRW
}
