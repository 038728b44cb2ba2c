package dwarf

// continueToNextTrap resumes the process until it traps or exits.
func (e *Engine) continueToNextTrap(proc *tracedProcess) error {
	return proc.cont()
}

// stepLine single-steps until the source line changes from where
// execution currently sits, implementing step_into: it does not
// distinguish call descent from ordinary progression, so it naturally
// follows calls into callees, which is exactly step_into's contract.
func (e *Engine) stepLine(proc *tracedProcess) error {
	startFile, startLine, haveStart := e.currentLine(proc)

	for {
		if err := proc.singleStep(); err != nil {
			return err
		}
		if proc.exited {
			return nil
		}
		if pb := e.breakpointAtPC(proc); pb != nil {
			return nil
		}
		file, line, ok := e.currentLine(proc)
		if !ok {
			continue
		}
		if !haveStart || file != startFile || line != startLine {
			return nil
		}
	}
}

// stepOverLine behaves like stepLine but does not stop inside a function
// called from the current line: it tracks the stack pointer and keeps
// single-stepping through any descent (SP decreasing past the starting
// frame) until control returns to the starting frame or shallower. This
// avoids needing a disassembler to find the call's return address.
func (e *Engine) stepOverLine(proc *tracedProcess) error {
	startFile, startLine, haveStart := e.currentLine(proc)
	startSP, _, err := proc.stackAndFramePointers()
	if err != nil {
		return err
	}

	for {
		if err := proc.singleStep(); err != nil {
			return err
		}
		if proc.exited {
			return nil
		}
		if pb := e.breakpointAtPC(proc); pb != nil {
			return nil
		}

		sp, _, err := proc.stackAndFramePointers()
		if err != nil {
			return err
		}
		if sp < startSP {
			// Descended into a call; run until the stack pointer recovers
			// to at least its starting depth rather than single-stepping
			// through the callee line by line.
			if err := e.finishDescentTo(proc, startSP); err != nil {
				return err
			}
			if proc.exited {
				return nil
			}
			continue
		}

		file, line, ok := e.currentLine(proc)
		if !ok {
			continue
		}
		if !haveStart || file != startFile || line != startLine {
			return nil
		}
	}
}

// finishDescentTo single-steps until the stack pointer returns to at
// least floor, used by stepOverLine to skip a callee without a
// disassembler-driven breakpoint-at-return-address technique.
func (e *Engine) finishDescentTo(proc *tracedProcess, floor uint64) error {
	for {
		if err := proc.singleStep(); err != nil {
			return err
		}
		if proc.exited {
			return nil
		}
		if pb := e.breakpointAtPC(proc); pb != nil {
			return nil
		}
		sp, _, err := proc.stackAndFramePointers()
		if err != nil {
			return err
		}
		if sp >= floor {
			return nil
		}
	}
}

// stepOut reads the current frame's return address from the
// frame-pointer chain and plants a temporary breakpoint there. Unlike a
// user-registered breakpoint, the temporary trap never enters e.regs, so
// this function is responsible for rewinding the program counter itself
// when it is the one that fired — otherwise the debuggee is left parked
// one trap-adjustment byte past a restored instruction, corrupting
// whatever runs next.
func (e *Engine) stepOut(proc *tracedProcess) error {
	_, fp, err := proc.stackAndFramePointers()
	if err != nil {
		return err
	}
	if fp == 0 {
		// No frame pointer available (e.g. the outermost frame); fall back
		// to ordinary stepping rather than failing the operation outright.
		return e.stepLine(proc)
	}

	returnAddr, err := proc.readWord(fp + 8)
	if err != nil {
		return err
	}

	if _, already := e.regs.byAddr(returnAddr); already {
		return proc.cont()
	}

	original, err := proc.plantTrap(returnAddr)
	if err != nil {
		return err
	}

	if err := proc.cont(); err != nil {
		_ = proc.removeTrap(returnAddr, original)
		return err
	}
	if proc.exited {
		return nil
	}

	pc, err := proc.programCounter()
	if err != nil {
		_ = proc.removeTrap(returnAddr, original)
		return err
	}
	if pc-trapAdjustment() == returnAddr {
		if err := proc.rewindOverTrap(returnAddr); err != nil {
			_ = proc.removeTrap(returnAddr, original)
			return err
		}
	}
	return proc.removeTrap(returnAddr, original)
}

// currentLine resolves the program counter to a source location.
func (e *Engine) currentLine(proc *tracedProcess) (file string, line int, ok bool) {
	pc, err := proc.programCounter()
	if err != nil {
		return "", 0, false
	}
	return e.bin.lineForAddress(pc)
}

// breakpointAtPC reports the planted breakpoint at the current program
// counter, if any, without adjusting for trap-induced PC advance (used
// mid single-step loop, where PC lands exactly on the trapped address
// rather than past it).
func (e *Engine) breakpointAtPC(proc *tracedProcess) *plantedBreakpoint {
	pc, err := proc.programCounter()
	if err != nil {
		return nil
	}
	pb, ok := e.regs.byAddr(pc)
	if !ok {
		return nil
	}
	return pb
}
