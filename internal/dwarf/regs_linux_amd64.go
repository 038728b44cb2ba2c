//go:build linux && amd64

package dwarf

import "golang.org/x/sys/unix"

func programCounterFromRegs(regs *unix.PtraceRegs) uint64 { return regs.Rip }

func setProgramCounterInRegs(regs *unix.PtraceRegs, pc uint64) { regs.Rip = pc }

// stackAndFramePointersFromRegs assumes the standard x86-64 frame-pointer
// prologue (push rbp; mov rbp, rsp), used by the frame-pointer-chain
// unwinder since the standard library exposes no .debug_frame/CFI parser.
func stackAndFramePointersFromRegs(regs *unix.PtraceRegs) (sp, fp uint64) {
	return regs.Rsp, regs.Rbp
}

// trapAdjustment is the number of bytes the program counter advances past
// a planted trap once it fires (len(int3) == 1 on amd64).
func trapAdjustment() uint64 { return 1 }
