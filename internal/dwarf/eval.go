package dwarf

import (
	"context"
	"debug/dwarf"
	"fmt"
	"sync"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// variableHandle is what a variables_reference actually points at: the
// memory address of an aggregate value and its DWARF type, so a later
// Inspect call can expand its fields.
type variableHandle struct {
	address uint64
	typ     dwarf.Type
}

// handles hands out the small integer references callers see as
// VariablesReference, keyed off a monotonic counter scoped to the current
// stop (they are invalidated on every Run, matching DAP's own
// variablesReference lifetime contract).
type handleTable struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]variableHandle
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[uint32]variableHandle)}
}

func (h *handleTable) alloc(v variableHandle) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.entries[h.next] = v
	return h.next
}

func (h *handleTable) lookup(ref uint32) (variableHandle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.entries[ref]
	return v, ok
}

func (h *handleTable) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[uint32]variableHandle)
	h.next = 0
}

// Inspect evaluates req against the current stop location. Only bare
// identifier lookups are supported as expressions (no dereference,
// arithmetic, or call syntax) — the data directly available from the line
// and variable tables. A non-zero req.FrameID selects a caller's frame,
// resolved by walking the frame-pointer chain from the live stop (frame 0
// = top, matching the default in driver.InspectRequest's contract).
func (e *Engine) Inspect(ctx context.Context, req driver.InspectRequest) (driver.InspectResult, error) {
	e.mu.Lock()
	proc := e.proc
	bin := e.bin
	handles := e.handles
	e.mu.Unlock()
	if proc == nil || bin == nil {
		return driver.InspectResult{}, driver.ErrNotPaused
	}

	if req.Expression == "" && req.VariableRef == 0 && req.Scope == driver.ScopeGlobals {
		return e.listScope(proc, bin, handles, frameContext{}, req.Scope)
	}

	frames, err := e.stackFrames(proc, bin)
	if err != nil {
		return driver.InspectResult{}, err
	}
	if req.FrameID < 0 || req.FrameID >= len(frames) {
		return driver.InspectResult{}, fmt.Errorf("%w: frame %d out of range (0..%d)", driver.ErrBadFrame, req.FrameID, len(frames)-1)
	}
	fc := frames[req.FrameID]

	switch {
	case req.Expression != "":
		return e.evaluateIdentifier(proc, bin, handles, fc, req.Expression)
	case req.VariableRef != 0:
		return e.expandHandle(proc, bin, handles, req.VariableRef)
	case req.Scope != "":
		return e.listScope(proc, bin, handles, fc, req.Scope)
	default:
		return driver.InspectResult{}, fmt.Errorf("%w: inspect request has no expression, variable_ref, or scope", driver.ErrEvaluationFailed)
	}
}

func (e *Engine) evaluateIdentifier(proc *tracedProcess, bin *binary, handles *handleTable, fc frameContext, name string) (driver.InspectResult, error) {
	vars, err := e.frameVariablesForFrame(bin, fc)
	if err != nil {
		return driver.InspectResult{}, err
	}
	for _, v := range vars {
		if v.name == name {
			result := e.renderVariable(proc, handles, v)
			result.Frame = &fc.frame
			return result, nil
		}
	}
	return driver.InspectResult{}, fmt.Errorf("%w: no variable named %q in current frame", driver.ErrEvaluationFailed, name)
}

func (e *Engine) expandHandle(proc *tracedProcess, bin *binary, handles *handleTable, ref uint32) (driver.InspectResult, error) {
	h, ok := handles.lookup(ref)
	if !ok {
		return driver.InspectResult{}, driver.ErrUnknownReference
	}
	fields, err := structFields(h.typ)
	if err != nil {
		return driver.InspectResult{}, err
	}
	out := make([]driver.Variable, 0, len(fields))
	for _, f := range fields {
		fv := frameVariable{name: f.name, typ: f.typ, address: h.address + f.offset}
		rendered := e.renderVariable(proc, handles, fv)
		out = append(out, driver.Variable{
			Name:               fv.name,
			Value:              rendered.Value,
			TypeName:           rendered.TypeName,
			VariablesReference: rendered.VariablesReference,
		})
	}
	return driver.InspectResult{Variables: out}, nil
}

func (e *Engine) listScope(proc *tracedProcess, bin *binary, handles *handleTable, fc frameContext, scope string) (driver.InspectResult, error) {
	if scope != driver.ScopeLocals && scope != driver.ScopeArguments && scope != driver.ScopeGlobals {
		return driver.InspectResult{}, fmt.Errorf("%w: unknown scope %q", driver.ErrEvaluationFailed, scope)
	}

	var vars []frameVariable
	var err error
	if scope == driver.ScopeGlobals {
		vars, err = e.globalVariables(bin)
	} else {
		vars, err = e.frameVariablesForFrame(bin, fc)
	}
	if err != nil {
		return driver.InspectResult{}, err
	}

	out := make([]driver.Variable, 0, len(vars))
	for _, v := range vars {
		if scope == driver.ScopeArguments && !v.isParam {
			continue
		}
		if scope == driver.ScopeLocals && v.isParam {
			continue
		}
		result := e.renderVariable(proc, handles, v)
		out = append(out, driver.Variable{
			Name:               v.name,
			Value:              result.Value,
			TypeName:           result.TypeName,
			VariablesReference: result.VariablesReference,
		})
	}
	result := driver.InspectResult{Variables: out}
	if scope != driver.ScopeGlobals {
		result.Frame = &fc.frame
	}
	return result, nil
}

// renderVariable reads a scalar value for v directly, or allocates a
// variables_reference handle when v's type is a struct or a pointer to a
// struct, for lazy expansion. Arrays get no handle.
func (e *Engine) renderVariable(proc *tracedProcess, handles *handleTable, v frameVariable) driver.InspectResult {
	value, ref, err := readTypedValue(proc, handles, v.address, v.typ)
	if err != nil {
		return driver.InspectResult{Value: fmt.Sprintf("<error: %v>", err), TypeName: typeName(v.typ)}
	}
	return driver.InspectResult{Value: value, TypeName: typeName(v.typ), VariablesReference: ref}
}
