package dwarf

import (
	"debug/dwarf"
	"testing"

	"github.com/adamavenir/cogdbg/internal/driver"
)

func TestDecodeSLEB128(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want int64
	}{
		{"zero", []byte{0x00}, 0},
		{"positive small", []byte{0x02}, 2},
		{"negative small", []byte{0x7e}, -2},
		{"negative two byte", []byte{0xf0, 0x7f}, -16},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, n := decodeSLEB128(c.in)
			if n == 0 {
				t.Fatalf("decodeSLEB128(%v) consumed 0 bytes", c.in)
			}
			if got != c.want {
				t.Errorf("decodeSLEB128(%v) = %d, want %d", c.in, got, c.want)
			}
		})
	}
}

func TestResolveLocationAddr(t *testing.T) {
	raw := []byte{0x03, 0x10, 0x20, 0x30, 0x40, 0, 0, 0, 0}
	entry := &dwarf.Entry{
		Field: []dwarf.Field{{Attr: dwarf.AttrLocation, Val: raw}},
	}
	addr, ok := resolveLocation(entry, 0)
	if !ok {
		t.Fatal("resolveLocation: want ok=true for DW_OP_addr")
	}
	if want := uint64(0x40302010); addr != want {
		t.Errorf("resolveLocation addr = 0x%x, want 0x%x", addr, want)
	}
}

func TestResolveLocationFbreg(t *testing.T) {
	// DW_OP_fbreg with SLEB128 offset -16.
	raw := []byte{0x91, 0xf0, 0x7e}
	entry := &dwarf.Entry{
		Field: []dwarf.Field{{Attr: dwarf.AttrLocation, Val: raw}},
	}
	addr, ok := resolveLocation(entry, 1000)
	if !ok {
		t.Fatal("resolveLocation: want ok=true for DW_OP_fbreg")
	}
	if want := uint64(984); addr != want {
		t.Errorf("resolveLocation addr = %d, want %d", addr, want)
	}
}

func TestResolveLocationUnsupportedOp(t *testing.T) {
	// DW_OP_reg0, not supported.
	raw := []byte{0x50}
	entry := &dwarf.Entry{
		Field: []dwarf.Field{{Attr: dwarf.AttrLocation, Val: raw}},
	}
	if _, ok := resolveLocation(entry, 1000); ok {
		t.Fatal("resolveLocation: want ok=false for a register-resident location")
	}
}

func TestSubprogramRange(t *testing.T) {
	entry := &dwarf.Entry{
		Field: []dwarf.Field{
			{Attr: dwarf.AttrLowpc, Val: uint64(0x1000)},
			{Attr: dwarf.AttrHighpc, Val: int64(0x40)},
		},
	}
	low, high, ok := subprogramRange(entry)
	if !ok {
		t.Fatal("subprogramRange: want ok=true")
	}
	if low != 0x1000 || high != 0x1040 {
		t.Errorf("subprogramRange = (0x%x, 0x%x), want (0x1000, 0x1040)", low, high)
	}
}

func TestSubprogramRangeMissingLowpc(t *testing.T) {
	entry := &dwarf.Entry{}
	if _, _, ok := subprogramRange(entry); ok {
		t.Fatal("subprogramRange: want ok=false when low_pc is absent")
	}
}

func TestStripTypedefs(t *testing.T) {
	inner := &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "int32", ByteSize: 4}}}
	named := &dwarf.TypedefType{CommonType: dwarf.CommonType{Name: "MyInt"}, Type: inner}
	got := stripTypedefs(named)
	if got != dwarf.Type(inner) {
		t.Errorf("stripTypedefs did not unwrap to the underlying int type")
	}
}

func TestStructFieldsRejectsNonStruct(t *testing.T) {
	i := &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "int", ByteSize: 8}}}
	if _, err := structFields(i); err == nil {
		t.Fatal("structFields: want error for a non-struct type")
	}
}

func TestStructFieldsReturnsMembers(t *testing.T) {
	fieldType := &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "int", ByteSize: 8}}}
	st := &dwarf.StructType{
		CommonType: dwarf.CommonType{Name: "Point"},
		StructName: "Point",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "X", Type: fieldType, ByteOffset: 0},
			{Name: "Y", Type: fieldType, ByteOffset: 8},
		},
	}
	fields, err := structFields(st)
	if err != nil {
		t.Fatalf("structFields: unexpected error: %v", err)
	}
	if len(fields) != 2 || fields[0].name != "X" || fields[1].name != "Y" || fields[1].offset != 8 {
		t.Errorf("structFields returned unexpected fields: %+v", fields)
	}
}

func TestLeBytesAndSignExtend(t *testing.T) {
	if got := leBytes([]byte{0x01, 0x00}); got != 1 {
		t.Errorf("leBytes = %d, want 1", got)
	}
	if got := signExtend(0xff, 1); got != -1 {
		t.Errorf("signExtend(0xff, 1) = %d, want -1", got)
	}
	if got := signExtend(0x7f, 1); got != 127 {
		t.Errorf("signExtend(0x7f, 1) = %d, want 127", got)
	}
}

func TestHandleTableAllocAndReset(t *testing.T) {
	h := newHandleTable()
	typ := &dwarf.StructType{CommonType: dwarf.CommonType{Name: "S"}}
	ref := h.alloc(variableHandle{address: 0x2000, typ: typ})
	if ref == 0 {
		t.Fatal("handleTable.alloc returned zero reference")
	}
	got, ok := h.lookup(ref)
	if !ok || got.address != 0x2000 {
		t.Fatalf("handleTable.lookup(%d) = %+v, %v", ref, got, ok)
	}
	h.reset()
	if _, ok := h.lookup(ref); ok {
		t.Fatal("handleTable.lookup: want not found after reset")
	}
}

func TestEngineInspectWithoutProcessReturnsNotPaused(t *testing.T) {
	e := NewEngine()
	_, err := e.Inspect(nil, driver.InspectRequest{Scope: driver.ScopeLocals})
	if err != driver.ErrNotPaused {
		t.Errorf("Inspect without a launched process: got %v, want %v", err, driver.ErrNotPaused)
	}
}
