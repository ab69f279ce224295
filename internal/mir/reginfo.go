package mir

import "forge/internal/ir"

// LiveRange is a closed interval of linearized instruction indices during
// which a register's value may still be consumed.
type LiveRange struct {
	Start int
	End   int
	// AssignedFirst marks ranges opened by a two-address destination.
	AssignedFirst bool
}

func (r LiveRange) Overlaps(other LiveRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// VRegInfo records a virtual register's class and optional type override.
type VRegInfo struct {
	Class        uint32
	TypeOverride ir.Type
}

// RegisterInfo is the per-function register state: virtual register
// classes, live ranges over the linearized function and the mappings
// produced by allocation.
type RegisterInfo struct {
	nextVirtual uint32
	vregInfo    []VRegInfo

	liveRanges map[uint32][]LiveRange
	virtToPhys map[uint32]uint32
	physToVirt map[uint32][]uint32
	spills     map[uint32]bool
}

func newRegisterInfo() RegisterInfo {
	return RegisterInfo{
		nextVirtual: VRegStart,
		liveRanges:  make(map[uint32][]LiveRange),
		virtToPhys:  make(map[uint32]uint32),
		physToVirt:  make(map[uint32][]uint32),
		spills:      make(map[uint32]bool),
	}
}

// NextVirtualRegister mints a fresh virtual register of the given class.
func (ri *RegisterInfo) NextVirtualRegister(class uint32, typeOverride ir.Type) uint32 {
	ri.vregInfo = append(ri.vregInfo, VRegInfo{Class: class, TypeOverride: typeOverride})
	id := ri.nextVirtual
	ri.nextVirtual++
	return id
}

func (ri *RegisterInfo) VirtualRegisterInfo(id uint32) VRegInfo {
	return ri.vregInfo[id-VRegStart]
}

func (ri *RegisterInfo) NumVirtualRegisters() int { return len(ri.vregInfo) }

func (ri *RegisterInfo) LiveRanges(id uint32) []LiveRange { return ri.liveRanges[id] }
func (ri *RegisterInfo) AddLiveRange(id uint32, r LiveRange) {
	ri.liveRanges[id] = append(ri.liveRanges[id], r)
}
func (ri *RegisterInfo) ClearLiveRanges() {
	ri.liveRanges = make(map[uint32][]LiveRange)
}

func (ri *RegisterInfo) SetVPMapping(virtual, physical uint32) {
	ri.virtToPhys[virtual] = physical
	ri.physToVirt[physical] = append(ri.physToVirt[physical], virtual)
}

func (ri *RegisterInfo) VPMapping(virtual uint32) (uint32, bool) {
	p, ok := ri.virtToPhys[virtual]
	return p, ok
}

func (ri *RegisterInfo) PVMappings(physical uint32) []uint32 { return ri.physToVirt[physical] }

func (ri *RegisterInfo) AddSpill(id uint32) { ri.spills[id] = true }
func (ri *RegisterInfo) Spills() map[uint32]bool { return ri.spills }

// IsRegisterLive reports whether any live range of reg (or a register
// aliasing it, per sameReg) covers pos.
func (ri *RegisterInfo) IsRegisterLive(pos int, reg uint32, sameReg func(a, b uint32) bool) bool {
	for id, ranges := range ri.liveRanges {
		if !sameReg(id, reg) {
			continue
		}
		for _, r := range ranges {
			if pos >= r.Start && pos <= r.End {
				return true
			}
		}
	}
	return false
}

// IsRegisterEverLive reports whether reg appears in any live range at all.
func (ri *RegisterInfo) IsRegisterEverLive(reg uint32, sameReg func(a, b uint32) bool) bool {
	for id, ranges := range ri.liveRanges {
		if len(ranges) == 0 {
			continue
		}
		if sameReg(id, reg) {
			return true
		}
	}
	return false
}
