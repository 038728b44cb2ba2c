// Package dwarf implements the native driver: object-file and DWARF
// parsing, breakpoint planting via trap instructions, ptrace run control,
// and locals evaluation, without shelling out to an external debugger.
package dwarf

import (
	"debug/dwarf"
	"debug/elf"
	"debug/macho"
	"fmt"
	"sort"
)

// lineEntry is one row of the expanded line table: the address a
// statement begins at, the source file and line it belongs to, and
// whether address is a recommended breakpoint location (is_stmt).
type lineEntry struct {
	Address  uint64
	File     string
	Line     int
	IsStmt   bool
	EndOfSeq bool
}

// binary is the parsed debug information for one executable: its DWARF
// data, the line table flattened and sorted by address so lineForAddress
// can binary-search an address back to its source line, and a per-file
// index sorted by line that breakpoint planting scans.
type binary struct {
	path     string
	dwarf    *dwarf.Data
	entry    uint64
	lines    []lineEntry
	byFile   map[string][]lineEntry
}

// openBinary parses program's object file (ELF or Mach-O) and its DWARF
// sections. An object file with no DWARF data (stripped binary, or a
// language that doesn't emit it) fails here with the DWARF read error,
// which Engine.Launch reports as driver.ErrSpawnFailed.
func openBinary(path string) (*binary, error) {
	if elfFile, err := elf.Open(path); err == nil {
		defer elfFile.Close()
		data, err := elfFile.DWARF()
		if err != nil {
			return nil, fmt.Errorf("dwarf: read DWARF from ELF: %w", err)
		}
		b := &binary{path: path, dwarf: data, entry: elfFile.Entry}
		if err := b.buildLineIndex(); err != nil {
			return nil, err
		}
		return b, nil
	}

	if machoFile, err := macho.Open(path); err == nil {
		defer machoFile.Close()
		data, err := machoFile.DWARF()
		if err != nil {
			return nil, fmt.Errorf("dwarf: read DWARF from Mach-O: %w", err)
		}
		var entry uint64
		// debug/macho does not expose entrypoint directly on all load
		// command variants; machoFile.Symtab carries it for PIE binaries via
		// the "start" symbol when present.
		if machoFile.Symtab != nil {
			for _, sym := range machoFile.Symtab.Syms {
				if sym.Name == "start" || sym.Name == "_start" {
					entry = sym.Value
					break
				}
			}
		}
		b := &binary{path: path, dwarf: data, entry: entry}
		if err := b.buildLineIndex(); err != nil {
			return nil, err
		}
		return b, nil
	}

	return nil, fmt.Errorf("dwarf: %s is neither a valid ELF nor Mach-O object", path)
}

// buildLineIndex walks every compilation unit's line program and flattens
// it into a single address-sorted slice, plus a per-file index used by
// breakpoint planting (file -> CU -> line -> (address, is_statement)).
func (b *binary) buildLineIndex() error {
	b.byFile = make(map[string][]lineEntry)
	reader := b.dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return fmt.Errorf("dwarf: read compile unit: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := b.dwarf.LineReader(entry)
		if err != nil {
			// Some compile units (e.g. assembly-only) carry no line
			// program; skip rather than fail the whole binary.
			continue
		}
		var lineEnt dwarf.LineEntry
		for {
			if err := lr.Next(&lineEnt); err != nil {
				break
			}
			le := lineEntry{
				Address:  lineEnt.Address,
				File:     fileName(lineEnt.File),
				Line:     lineEnt.Line,
				IsStmt:   lineEnt.IsStmt,
				EndOfSeq: lineEnt.EndSequence,
			}
			b.lines = append(b.lines, le)
			if le.File != "" {
				b.byFile[le.File] = append(b.byFile[le.File], le)
			}
		}
		reader.SkipChildren()
	}

	sort.Slice(b.lines, func(i, j int) bool { return b.lines[i].Address < b.lines[j].Address })
	for file := range b.byFile {
		entries := b.byFile[file]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Line != entries[j].Line {
				return entries[i].Line < entries[j].Line
			}
			return entries[i].Address < entries[j].Address
		})
		b.byFile[file] = entries
	}
	return nil
}

func fileName(f *dwarf.LineFile) string {
	if f == nil {
		return ""
	}
	return f.Name
}

// addressForLine returns the lowest is_stmt address attributed to
// file:line, or the next line with code in the same file if the exact
// line has none. It returns ErrLineHasNoCode only if no later line in the
// file has code either.
func (b *binary) addressForLine(file string, line int) (uint64, int, error) {
	entries, ok := b.byFile[file]
	if !ok {
		return 0, 0, errFileNotIndexed(file)
	}
	for _, e := range entries {
		if e.Line >= line && e.IsStmt && !e.EndOfSeq {
			return e.Address, e.Line, nil
		}
	}
	return 0, 0, errLineHasNoCode(file, line)
}

// lineForAddress resolves an instruction address back to a source
// location, used when a breakpoint trap fires to report where execution
// stopped.
func (b *binary) lineForAddress(addr uint64) (file string, line int, ok bool) {
	idx := sort.Search(len(b.lines), func(i int) bool { return b.lines[i].Address > addr })
	if idx == 0 {
		return "", 0, false
	}
	e := b.lines[idx-1]
	if e.EndOfSeq {
		return "", 0, false
	}
	return e.File, e.Line, true
}
