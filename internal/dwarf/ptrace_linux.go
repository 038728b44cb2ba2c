//go:build linux

package dwarf

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/adamavenir/cogdbg/internal/sandbox"
	"golang.org/x/sys/unix"
)

// tracedProcess wraps a single ptrace-attached child. The gateway only
// ever concerns itself with the current thread, so this type does not
// track a thread group, just the leader.
type tracedProcess struct {
	cmd      *exec.Cmd
	pid      int
	exited   bool
	exitCode int
}

// startTraced execs program under PTRACE_TRACEME (set via SysProcAttr),
// then waits for the initial SIGTRAP delivered at exec, leaving the
// process stopped at its entrypoint.
//
// Every debuggee is confined by a Landlock ruleset derived from cwd,
// applied via the self-reexec middleman in internal/sandbox: the traced
// child is actually this binary (re-invoked as sandbox.ReexecArg), which
// restricts itself and then execve's into program. Tracing survives that
// second execve, so the caller still sees exactly one entrypoint trap —
// it just arrives one execve later than it would unconfined.
//
// Ptrace calls must run on the thread that attached, so the caller's
// goroutine is locked to its OS thread for the tracedProcess's lifetime.
func startTraced(program string, args []string, env map[string]string, cwd string) (*tracedProcess, error) {
	runtime.LockOSThread()

	policy := sandbox.Policy{ProjectDir: projectDirFor(cwd, program)}
	wrappedProgram, wrappedArgs, sandboxEnv, err := sandbox.WrapLinux(policy, program, args)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: prepare sandbox: %w", err)
	}

	cmd := exec.Command(wrappedProgram, wrappedArgs...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, sandboxEnv...)

	if err := cmd.Start(); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: start traced process: %w", err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(cmd.Process.Pid, &ws, 0, nil); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: wait for initial trap: %w", err)
	}

	if err := unix.PtraceSetOptions(cmd.Process.Pid, unix.PTRACE_O_EXITKILL); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: set ptrace options: %w", err)
	}

	// The middleman's own exec of itself produced the trap just waited for
	// above; it has not yet applied Landlock or reached its self-exec into
	// program. Continue it and wait for the real entrypoint trap.
	if err := unix.PtraceCont(cmd.Process.Pid, 0); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: continue past sandbox middleman: %w", err)
	}
	if _, err := unix.Wait4(cmd.Process.Pid, &ws, 0, nil); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("dwarf: wait for entrypoint trap: %w", err)
	}
	if ws.Exited() {
		return &tracedProcess{cmd: cmd, pid: cmd.Process.Pid, exited: true, exitCode: ws.ExitStatus()}, nil
	}

	return &tracedProcess{cmd: cmd, pid: cmd.Process.Pid}, nil
}

// projectDirFor resolves the directory a sandbox policy should treat as
// the always-readable project root: cwd if the caller gave one, otherwise
// the debuggee's own containing directory.
func projectDirFor(cwd, program string) string {
	if cwd != "" {
		return cwd
	}
	if abs, err := filepath.Abs(filepath.Dir(program)); err == nil {
		return abs
	}
	return filepath.Dir(program)
}

// wait blocks for the next ptrace-stop or exit and updates exited/exitCode.
func (p *tracedProcess) wait() error {
	var ws unix.WaitStatus
	if _, err := unix.Wait4(p.pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("dwarf: wait4: %w", err)
	}
	if ws.Exited() {
		p.exited = true
		p.exitCode = ws.ExitStatus()
	}
	return nil
}

// cont resumes the process until the next signal-delivery stop or exit.
func (p *tracedProcess) cont() error {
	if err := unix.PtraceCont(p.pid, 0); err != nil {
		return fmt.Errorf("dwarf: ptrace cont: %w", err)
	}
	return p.wait()
}

// singleStep executes exactly one instruction.
func (p *tracedProcess) singleStep() error {
	if err := unix.PtraceSingleStep(p.pid); err != nil {
		return fmt.Errorf("dwarf: ptrace singlestep: %w", err)
	}
	return p.wait()
}

// plantTrap overwrites the instruction at addr with the architecture trap
// encoding, returning the bytes it replaced.
func (p *tracedProcess) plantTrap(addr uint64) ([]byte, error) {
	trapBytes, err := trapInstruction()
	if err != nil {
		return nil, err
	}
	original := make([]byte, len(trapBytes))
	if _, err := unix.PtracePeekText(p.pid, uintptr(addr), original); err != nil {
		return nil, fmt.Errorf("dwarf: peek text at 0x%x: %w", addr, err)
	}
	if _, err := unix.PtracePokeText(p.pid, uintptr(addr), trapBytes); err != nil {
		return nil, fmt.Errorf("dwarf: poke text at 0x%x: %w", addr, err)
	}
	return original, nil
}

// removeTrap restores original bytes at addr.
func (p *tracedProcess) removeTrap(addr uint64, original []byte) error {
	if _, err := unix.PtracePokeText(p.pid, uintptr(addr), original); err != nil {
		return fmt.Errorf("dwarf: restore text at 0x%x: %w", addr, err)
	}
	return nil
}

// stepOverTrap temporarily restores a planted breakpoint's original bytes,
// single-steps past it, and replants the trap — used both to let
// execution actually progress past a breakpoint's address and to skip a
// breakpoint whose hit condition is not yet met without surfacing a stop.
func (p *tracedProcess) stepOverTrap(pb *plantedBreakpoint) error {
	if err := p.removeTrap(pb.Address, pb.OriginalCode); err != nil {
		return err
	}
	if err := p.singleStep(); err != nil {
		return err
	}
	if p.exited {
		return nil
	}
	trapBytes, err := trapInstruction()
	if err != nil {
		return err
	}
	if _, err := unix.PtracePokeText(p.pid, uintptr(pb.Address), trapBytes); err != nil {
		return fmt.Errorf("dwarf: replant trap at 0x%x: %w", pb.Address, err)
	}
	return nil
}

// rewindOverTrap sets the program counter back to addr after a trap fired
// (the CPU leaves PC one instruction past the trap).
func (p *tracedProcess) rewindOverTrap(addr uint64) error {
	return p.setProgramCounter(addr)
}

// programCounter returns the current instruction pointer.
func (p *tracedProcess) programCounter() (uint64, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return 0, fmt.Errorf("dwarf: get regs: %w", err)
	}
	return programCounterFromRegs(&regs), nil
}

func (p *tracedProcess) setProgramCounter(pc uint64) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return fmt.Errorf("dwarf: get regs: %w", err)
	}
	setProgramCounterInRegs(&regs, pc)
	if err := unix.PtraceSetRegs(p.pid, &regs); err != nil {
		return fmt.Errorf("dwarf: set regs: %w", err)
	}
	return nil
}

// stackAndFramePointers returns the stack pointer and frame pointer,
// used by step_over's SP-based call-descent detection and step_out's
// frame-pointer-chain return-address lookup.
func (p *tracedProcess) stackAndFramePointers() (sp, fp uint64, err error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return 0, 0, fmt.Errorf("dwarf: get regs: %w", err)
	}
	sp, fp = stackAndFramePointersFromRegs(&regs)
	return sp, fp, nil
}

// readWord reads one machine word (8 bytes on the architectures cogdbg
// supports) from the traced process's memory at addr.
func (p *tracedProcess) readWord(addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := unix.PtracePeekText(p.pid, uintptr(addr), buf); err != nil {
		return 0, fmt.Errorf("dwarf: peek text at 0x%x: %w", addr, err)
	}
	return leUint64(buf), nil
}

// readBytes reads n bytes of the traced process's memory at addr, used by
// locals evaluation to pull arbitrarily-sized scalar and aggregate values.
func (p *tracedProcess) readBytes(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := unix.PtracePeekText(p.pid, uintptr(addr), buf); err != nil {
		return nil, fmt.Errorf("dwarf: peek text at 0x%x (%d bytes): %w", addr, n, err)
	}
	return buf, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (p *tracedProcess) kill() error {
	if p.exited {
		return nil
	}
	return p.cmd.Process.Kill()
}
