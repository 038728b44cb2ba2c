package dwarf

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// frameVariable is one named value reachable from the current stop: a
// formal parameter or a local, resolved to a concrete memory address.
type frameVariable struct {
	name    string
	typ     dwarf.Type
	address uint64
	isParam bool
}

// structField is one member of an aggregate, used to expand a
// variables_reference handle.
type structField struct {
	name   string
	typ    dwarf.Type
	offset uint64
}

// frameContext is one resolved level of a call stack: the program counter
// and frame base a variable lookup should run against, paired with the
// driver.Frame the agent sees when it asks to evaluate against this level.
type frameContext struct {
	frame     driver.Frame
	pc        uint64
	frameBase uint64
}

// maxStackDepth bounds the frame-pointer walk so a corrupted or
// non-standard chain (a missing null terminator) can't loop forever.
const maxStackDepth = 256

// stackFrames walks the frame-pointer chain starting at the current stop,
// producing one frameContext per level: frame 0 is the live PC, and each
// subsequent level is reached via the saved return address and frame
// pointer at the previous level's frame pointer, per the same
// fixed-prologue assumption frameVariablesForFrame's frame base relies on.
func (e *Engine) stackFrames(proc *tracedProcess, bin *binary) ([]frameContext, error) {
	pc, err := proc.programCounter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	_, fp, err := proc.stackAndFramePointers()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}

	var frames []frameContext
	for {
		file, line, _ := bin.lineForAddress(pc)
		frames = append(frames, frameContext{
			frame: driver.Frame{
				ID:         uint32(len(frames)),
				Name:       functionNameForPC(bin, pc),
				SourcePath: file,
				Line:       line,
			},
			pc:        pc,
			frameBase: fp + 16,
		})
		if fp == 0 || len(frames) >= maxStackDepth {
			break
		}
		returnAddr, err := proc.readWord(fp + 8)
		if err != nil || returnAddr == 0 {
			break
		}
		callerFP, err := proc.readWord(fp)
		if err != nil {
			break
		}
		pc, fp = returnAddr, callerFP
	}
	return frames, nil
}

// functionNameForPC returns the name of the subprogram enclosing pc, or ""
// if none is found (e.g. pc is in runtime code with no DWARF info).
func functionNameForPC(bin *binary, pc uint64) string {
	reader := bin.dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			return ""
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, high, ok := subprogramRange(entry)
		if !ok || pc < low || pc >= high {
			if entry.Children {
				reader.SkipChildren()
			}
			continue
		}
		name, _ := entry.Val(dwarf.AttrName).(string)
		return name
	}
}

// frameVariablesForFrame walks the DWARF tree for the subprogram enclosing
// fc's program counter and collects every formal parameter and local
// variable in scope, including ones declared in nested lexical blocks.
// Locations are resolved against fc's frame base (the frame pointer plus
// the fixed offset past the saved frame pointer and return address), which
// matches the standard x86-64/arm64 prologue cogdbg's stepping logic
// already assumes elsewhere in this package — a full DW_AT_frame_base
// (DW_OP_call_frame_cfa) evaluator is not implemented, so variables
// captured via a non-standard frame base will not resolve.
func (e *Engine) frameVariablesForFrame(bin *binary, fc frameContext) ([]frameVariable, error) {
	reader := bin.dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarf: walk subprograms: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, high, ok := subprogramRange(entry)
		if !ok || fc.pc < low || fc.pc >= high {
			if entry.Children {
				reader.SkipChildren()
			}
			continue
		}
		return e.collectScopeVariables(bin, reader, fc.frameBase)
	}
	return nil, nil
}

// collectScopeVariables walks the children of the subprogram entry the
// reader just returned (including nested lexical blocks) and resolves
// each formal_parameter/variable's location.
func (e *Engine) collectScopeVariables(bin *binary, reader *dwarf.Reader, frameBase uint64) ([]frameVariable, error) {
	var vars []frameVariable
	depth := 0
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarf: walk scope: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			if depth == 0 {
				break
			}
			depth--
			continue
		}
		if entry.Tag == dwarf.TagFormalParameter || entry.Tag == dwarf.TagVariable {
			if fv, ok := resolveVariable(bin, entry, frameBase); ok {
				fv.isParam = entry.Tag == dwarf.TagFormalParameter
				vars = append(vars, fv)
			}
		}
		if entry.Children {
			depth++
		}
	}
	return vars, nil
}

// globalVariables collects every top-level (not nested in a subprogram)
// variable entry across all compile units.
func (e *Engine) globalVariables(bin *binary) ([]frameVariable, error) {
	var vars []frameVariable
	reader := bin.dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarf: walk globals: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		depth := 0
		for {
			child, err := reader.Next()
			if err != nil {
				return nil, fmt.Errorf("dwarf: walk compile unit: %w", err)
			}
			if child == nil {
				break
			}
			if child.Tag == 0 {
				if depth == 0 {
					break
				}
				depth--
				continue
			}
			if depth == 0 && child.Tag == dwarf.TagVariable {
				if fv, ok := resolveVariable(bin, child, 0); ok {
					vars = append(vars, fv)
				}
			}
			if child.Children {
				depth++
			}
		}
	}
	return vars, nil
}

func subprogramRange(entry *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal, ok := entry.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return 0, 0, false
	}
	switch v := entry.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		return lowVal, v, true
	case int64:
		return lowVal, lowVal + uint64(v), true
	default:
		return 0, 0, false
	}
}

func resolveVariable(bin *binary, entry *dwarf.Entry, frameBase uint64) (frameVariable, bool) {
	name, _ := entry.Val(dwarf.AttrName).(string)
	if name == "" {
		return frameVariable{}, false
	}
	typOff, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return frameVariable{}, false
	}
	typ, err := bin.dwarf.Type(typOff)
	if err != nil {
		return frameVariable{}, false
	}
	addr, ok := resolveLocation(entry, frameBase)
	if !ok {
		return frameVariable{}, false
	}
	return frameVariable{name: name, typ: typ, address: addr}, true
}

// resolveLocation evaluates the two DWARF location-expression forms
// cogdbg supports: DW_OP_addr (absolute, for globals) and DW_OP_fbreg
// (frame-relative, for locals/parameters). Register-resident values
// (DW_OP_regN) and anything more elaborate are not supported: evaluation
// is scoped to memory-resident values, and optimized builds that keep
// locals in registers report those as unavailable rather than resolve
// incorrectly.
func resolveLocation(entry *dwarf.Entry, frameBase uint64) (uint64, bool) {
	raw, ok := entry.Val(dwarf.AttrLocation).([]byte)
	if !ok || len(raw) == 0 {
		return 0, false
	}
	switch raw[0] {
	case 0x03: // DW_OP_addr
		if len(raw) < 9 {
			return 0, false
		}
		return binary.LittleEndian.Uint64(raw[1:9]), true
	case 0x91: // DW_OP_fbreg
		off, n := decodeSLEB128(raw[1:])
		if n == 0 || frameBase == 0 {
			return 0, false
		}
		return uint64(int64(frameBase) + off), true
	default:
		return 0, false
	}
}

func decodeSLEB128(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	for i = 0; i < len(b); i++ {
		byt := b[i]
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			if shift < 64 && byt&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1
		}
	}
	return 0, 0
}

// structFields returns the members of typ, which must resolve (after
// stripping typedefs) to a struct.
func structFields(typ dwarf.Type) ([]structField, error) {
	base := stripTypedefs(typ)
	st, ok := base.(*dwarf.StructType)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not expandable", driver.ErrEvaluationFailed, typeName(typ))
	}
	fields := make([]structField, 0, len(st.Field))
	for _, f := range st.Field {
		fields = append(fields, structField{name: f.Name, typ: f.Type, offset: uint64(f.ByteOffset)})
	}
	return fields, nil
}

func stripTypedefs(typ dwarf.Type) dwarf.Type {
	for {
		td, ok := typ.(*dwarf.TypedefType)
		if !ok || td.Type == nil {
			return typ
		}
		typ = td.Type
	}
}

func typeName(typ dwarf.Type) string {
	if typ == nil {
		return ""
	}
	return typ.String()
}

// readTypedValue reads the value at addr as an instance of typ and
// renders it as a string. Aggregates (structs) are not read inline;
// instead a variables_reference handle is allocated so the caller can
// expand them field by field on demand, matching the DAP
// variablesReference pattern the rest of cogdbg follows.
func readTypedValue(proc *tracedProcess, handles *handleTable, addr uint64, typ dwarf.Type) (string, uint32, error) {
	base := stripTypedefs(typ)
	switch t := base.(type) {
	case nil:
		return "<unknown>", 0, nil
	case *dwarf.BoolType:
		b, err := proc.readBytes(addr, 1)
		if err != nil {
			return "", 0, err
		}
		if b[0] == 0 {
			return "false", 0, nil
		}
		return "true", 0, nil
	case *dwarf.CharType, *dwarf.UcharType:
		b, err := proc.readBytes(addr, 1)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%d", b[0]), 0, nil
	case *dwarf.IntType:
		b, err := proc.readBytes(addr, int(t.Size()))
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%d", signExtend(leBytes(b), int(t.Size()))), 0, nil
	case *dwarf.UintType:
		b, err := proc.readBytes(addr, int(t.Size()))
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%d", leBytes(b)), 0, nil
	case *dwarf.FloatType:
		b, err := proc.readBytes(addr, int(t.Size()))
		if err != nil {
			return "", 0, err
		}
		return renderFloat(b), 0, nil
	case *dwarf.PtrType:
		word, err := proc.readWord(addr)
		if err != nil {
			return "", 0, err
		}
		if word == 0 {
			return "nil", 0, nil
		}
		if t.Type != nil {
			if _, ok := stripTypedefs(t.Type).(*dwarf.StructType); ok {
				ref := handles.alloc(variableHandle{address: word, typ: t.Type})
				return fmt.Sprintf("0x%x", word), ref, nil
			}
		}
		return fmt.Sprintf("0x%x", word), 0, nil
	case *dwarf.EnumType:
		b, err := proc.readBytes(addr, int(t.Size()))
		if err != nil {
			return "", 0, err
		}
		v := leBytes(b)
		for _, val := range t.Val {
			if val.Val == int64(v) {
				return fmt.Sprintf("%s(%d)", val.Name, v), 0, nil
			}
		}
		return fmt.Sprintf("%d", v), 0, nil
	case *dwarf.StructType:
		ref := handles.alloc(variableHandle{address: addr, typ: typ})
		return strings.TrimPrefix(t.String(), "struct "), ref, nil
	case *dwarf.ArrayType:
		// Element-by-element expansion is out of scope; arrays render as
		// their type only, matching the restricted expression grammar's
		// scalar-first contract.
		return t.String(), 0, nil
	default:
		return fmt.Sprintf("<unsupported type %s>", typeName(typ)), 0, nil
	}
}

func leBytes(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func signExtend(v uint64, size int) int64 {
	bits := uint(size) * 8
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func renderFloat(b []byte) string {
	switch len(b) {
	case 4:
		bits := uint32(leBytes(b))
		return fmt.Sprintf("%g", math.Float32frombits(bits))
	case 8:
		bits := leBytes(b)
		return fmt.Sprintf("%g", math.Float64frombits(bits))
	default:
		return fmt.Sprintf("<float%d unsupported>", len(b)*8)
	}
}
