// Package pagepool models the NUMA-local page-frame allocator that the
// masstree core consumes through a narrow interface (spec.md §1, §9
// "Pointer cycles / manual memory"). The real allocator lives outside the
// core; this package provides the pointer encoding every page header uses
// plus a reference Pool implementation for tests and embedders that don't
// wire in their own NUMA-aware pool.
//
// Grounded on the teacher's disk_manager global page ID scheme
// (globalPageID = int64(fileID)<<32 | localPageNum, see
// _examples/ShubhamNegi4-DaemonDB/storage_engine/disk_manager/main.go) and
// storage_engine/page.Page (ID/Data/pin-count/mutex frame struct).
package pagepool

import "sync/atomic"

// VolatilePointer encodes a live in-memory frame: NUMA node, a swappable
// flag (set on root pointers, spec.md §4.4 step 6), a mod-count that is
// bumped every time the offset is reassigned, and the pool offset itself.
// offset == 0 means null (spec.md §3 DualPagePointer).
type VolatilePointer uint64

const (
	vpOffsetBits  = 32
	vpModBits     = 16
	vpNodeBits    = 8
	vpFlagBits    = 8
	vpOffsetShift = 0
	vpModShift    = vpOffsetBits
	vpNodeShift   = vpOffsetBits + vpModBits
	vpFlagShift   = vpOffsetBits + vpModBits + vpNodeBits

	vpOffsetMask = (uint64(1) << vpOffsetBits) - 1
	vpModMask    = (uint64(1) << vpModBits) - 1
	vpNodeMask   = (uint64(1) << vpNodeBits) - 1
	vpFlagMask   = (uint64(1) << vpFlagBits) - 1

	FlagSwappable uint8 = 1 << 0
)

// NewVolatilePointer packs a frame reference. offset is the pool-relative
// frame index (never the zero value for a non-null pointer).
func NewVolatilePointer(numaNode uint8, flags uint8, modCount uint16, offset uint32) VolatilePointer {
	return VolatilePointer(
		uint64(offset&uint32(vpOffsetMask))<<vpOffsetShift |
			uint64(modCount)<<vpModShift |
			uint64(numaNode)<<vpNodeShift |
			uint64(flags)<<vpFlagShift,
	)
}

func (p VolatilePointer) Offset() uint32   { return uint32(uint64(p) >> vpOffsetShift & vpOffsetMask) }
func (p VolatilePointer) ModCount() uint16 { return uint16(uint64(p) >> vpModShift & vpModMask) }
func (p VolatilePointer) NUMANode() uint8  { return uint8(uint64(p) >> vpNodeShift & vpNodeMask) }
func (p VolatilePointer) Flags() uint8     { return uint8(uint64(p) >> vpFlagShift & vpFlagMask) }
func (p VolatilePointer) IsNull() bool     { return p.Offset() == 0 }
func (p VolatilePointer) IsSwappable() bool {
	return p.Flags()&FlagSwappable != 0
}

// WithModCountBumped returns a pointer with the same offset/node/flags but
// an incremented mod-count, used whenever a root pointer is swapped
// (spec.md §4.4 step 6).
func (p VolatilePointer) WithModCountBumped() VolatilePointer {
	return NewVolatilePointer(p.NUMANode(), p.Flags(), p.ModCount()+1, p.Offset())
}

// SnapshotPointer addresses an on-disk image. The core treats it as opaque;
// the snapshot writer/log gleaner are external collaborators (spec.md §1).
type SnapshotPointer uint64

// DualPagePointer pairs a snapshot address with a volatile (in-memory)
// address, per spec.md §3. The volatile side is what the core actually
// dereferences; the snapshot side matters only once snapshot-backed reads
// are implemented (spec.md §7 NotImplemented).
type DualPagePointer struct {
	Snapshot SnapshotPointer
	volatile atomic.Uint64
}

func NewDualPagePointer(v VolatilePointer) *DualPagePointer {
	d := &DualPagePointer{}
	d.volatile.Store(uint64(v))
	return d
}

func (d *DualPagePointer) Volatile() VolatilePointer {
	return VolatilePointer(d.volatile.Load())
}

func (d *DualPagePointer) SetVolatile(v VolatilePointer) {
	d.volatile.Store(uint64(v))
}

// CompareAndSwapVolatile installs newPtr iff the current volatile pointer
// equals old; used by grow_root (spec.md §4.4 step 6) to publish a new root
// without a lost-update race against a concurrent grower.
func (d *DualPagePointer) CompareAndSwapVolatile(old, newPtr VolatilePointer) bool {
	return d.volatile.CompareAndSwap(uint64(old), uint64(newPtr))
}

func (d *DualPagePointer) IsNull() bool {
	return d.Volatile().IsNull()
}
