//go:build linux && arm64

package dwarf

import "golang.org/x/sys/unix"

func programCounterFromRegs(regs *unix.PtraceRegs) uint64 { return regs.Pc }

func setProgramCounterInRegs(regs *unix.PtraceRegs, pc uint64) { regs.Pc = pc }

// stackAndFramePointersFromRegs assumes the AAPCS64 frame-pointer
// convention (x29 is the frame pointer, saved/restored by the standard
// prologue/epilogue).
func stackAndFramePointersFromRegs(regs *unix.PtraceRegs) (sp, fp uint64) {
	return regs.Sp, regs.Regs[29]
}

// trapAdjustment is the number of bytes the program counter advances past
// a planted trap once it fires. arm64's brk instruction does not advance
// PC at all on trap (unlike x86-64's int3), so no rewind is needed beyond
// what rewindOverTrap already performs generically.
func trapAdjustment() uint64 { return 0 }
