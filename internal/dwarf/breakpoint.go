package dwarf

import (
	"fmt"
	"runtime"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// trapInstruction returns the architecture's software breakpoint
// instruction encoding: int3 on x86-64, brk #0 on arm64.
func trapInstruction() ([]byte, error) {
	switch runtime.GOARCH {
	case "amd64":
		return []byte{0xCC}, nil
	case "arm64":
		return []byte{0x00, 0x00, 0x20, 0xD4}, nil
	default:
		return nil, fmt.Errorf("dwarf: unsupported architecture %s for breakpoint planting", runtime.GOARCH)
	}
}

// plantedBreakpoint tracks one planted trap: the address, the original
// bytes it overwrote (restored on removal and temporarily restored to
// single-step past the trap on resume), and the agent-facing metadata.
type plantedBreakpoint struct {
	driver.Breakpoint
	Address      uint64
	OriginalCode []byte
	hitCount     int
}

// registry deduplicates breakpoints by address: two BreakpointSpecs that
// resolve to the same instruction share one planted trap.
type registry struct {
	byID      map[uint32]*plantedBreakpoint
	byAddress map[uint64]*plantedBreakpoint
	nextID    uint32
}

func newRegistry() *registry {
	return &registry{byID: make(map[uint32]*plantedBreakpoint), byAddress: make(map[uint64]*plantedBreakpoint)}
}

func (r *registry) add(addr uint64, original []byte, bp driver.Breakpoint) *plantedBreakpoint {
	r.nextID++
	bp.ID = r.nextID
	pb := &plantedBreakpoint{Breakpoint: bp, Address: addr, OriginalCode: original}
	r.byID[bp.ID] = pb
	r.byAddress[addr] = pb
	return pb
}

func (r *registry) removeByID(id uint32) (*plantedBreakpoint, bool) {
	pb, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byAddress, pb.Address)
	return pb, true
}

func (r *registry) byAddr(addr uint64) (*plantedBreakpoint, bool) {
	pb, ok := r.byAddress[addr]
	return pb, ok
}

func (r *registry) list() []driver.Breakpoint {
	out := make([]driver.Breakpoint, 0, len(r.byID))
	for id := uint32(1); id <= r.nextID; id++ {
		if pb, ok := r.byID[id]; ok {
			out = append(out, pb.Breakpoint)
		}
	}
	return out
}

// hitConditionSatisfied evaluates the hit-condition grammar ("> N",
// "== N", "% N") against a breakpoint's running hit count, incrementing
// it as a side effect. An empty or malformed hit_condition always stops.
func hitConditionSatisfied(pb *plantedBreakpoint) bool {
	pb.hitCount++
	cond := pb.HitCondition
	if cond == "" {
		return true
	}
	var op string
	var n int
	if _, err := fmt.Sscanf(cond, "%s %d", &op, &n); err != nil {
		return true
	}
	switch op {
	case ">":
		return pb.hitCount > n
	case "==":
		return pb.hitCount == n
	case "%":
		return n > 0 && pb.hitCount%n == 0
	default:
		return true
	}
}
