package masstree

import (
	"bytes"
	"encoding/binary"

	"masstree/xctid"
)

// MaxBorderSlots bounds the number of records a border page can hold
// before it must foster-split (spec.md §3 invariant 1, §4.2). The
// original sizes this from the 4KB frame; this port keeps a fixed slot
// array instead of a byte-serialized frame and instead budgets variable-length suffix/payload
// bytes against borderPayloadBudget so can_accommodate still behaves like
// a real geometric check.
const (
	MaxBorderSlots      = 32
	borderPayloadBudget = 3840 // 4096 frame minus header/slot-table overhead
	slotOverheadBytes   = 24   // xctid + slice + lengths, approximate fixed cost per slot
)

// borderSlot is one record or next-layer pointer (spec.md §3 BorderPage).
type borderSlot struct {
	xct           xctid.Word
	slice         KeySlice
	remaining     int // remaining_key_length, including suffix beyond this layer's slice
	suffix        []byte
	payload       []byte
	pointsToLayer bool
	nextLayer     *RootPointer
}

// BorderPage is the leaf page kind (spec.md §3, §4.2).
type BorderPage struct {
	Header
	slots     [MaxBorderSlots]borderSlot
	usedBytes int
}

func (p *BorderPage) Type() PageType { return PageTypeBorder }

// NewBorderPage builds a border page covering [low, high) (or [low, +inf)
// when highSupremum is set).
func NewBorderPage(storageID uint32, layer int, low, high KeySlice, highSupremum, isRoot bool) *BorderPage {
	p := &BorderPage{}
	p.StorageID = storageID
	p.Layer = layer
	p.LowFence = low
	p.HighFence = high
	p.Version = NewVersionWord(isRoot, highSupremum)
	return p
}

// ReserveKind classifies a border page's state with respect to an intended
// insert (spec.md §4.2 find_key_for_reserve).
type ReserveKind int

const (
	NotFound ReserveKind = iota
	ExactMatchLocalRecord
	ExactMatchLayerPointer
	ConflictingLocalRecord
)

type ReserveResult struct {
	Kind  ReserveKind
	Index int
}

func suffixEqual(a, b []byte) bool { return bytes.Equal(a, b) }

// FindKey is find_key: linear scan over the first keyCount slots for an
// exact (slice, remaining, suffix) match (spec.md §4.2). A next-layer
// pointer slot matches on slice alone, since every key sharing that slice
// now lives in the next layer.
func (p *BorderPage) FindKey(keyCount int, slice KeySlice, suffix []byte, remaining int) (int, bool) {
	for i := 0; i < keyCount && i < MaxBorderSlots; i++ {
		s := &p.slots[i]
		if s.slice == slice && s.pointsToLayer {
			return i, true
		}
		if s.slice != slice || s.remaining != remaining {
			continue
		}
		if remaining <= 8 {
			return i, true
		}
		if suffixEqual(s.suffix, suffix) {
			return i, true
		}
	}
	return -1, false
}

// FindKeyNormalized is find_key_normalized: the single-slice fast path
// used by the Normalized record API (spec.md §4.2, §6).
func (p *BorderPage) FindKeyNormalized(start, count int, slice KeySlice) (int, bool) {
	end := start + count
	if end > MaxBorderSlots {
		end = MaxBorderSlots
	}
	for i := start; i < end; i++ {
		if p.slots[i].slice == slice && p.slots[i].remaining <= 8 {
			return i, true
		}
	}
	return -1, false
}

// FindKeyForReserve is find_key_for_reserve (spec.md §4.2).
func (p *BorderPage) FindKeyForReserve(start, end int, slice KeySlice, suffix []byte, remaining int) ReserveResult {
	if end > MaxBorderSlots {
		end = MaxBorderSlots
	}
	for i := start; i < end; i++ {
		s := &p.slots[i]
		if s.slice != slice {
			continue
		}
		if s.pointsToLayer {
			return ReserveResult{Kind: ExactMatchLayerPointer, Index: i}
		}
		if s.remaining == remaining && (remaining <= 8 || suffixEqual(s.suffix, suffix)) {
			return ReserveResult{Kind: ExactMatchLocalRecord, Index: i}
		}
		// Same slice, diverging remainder: promote into a next layer.
		return ReserveResult{Kind: ConflictingLocalRecord, Index: i}
	}
	return ReserveResult{Kind: NotFound}
}

// CanAccommodate is the geometric check of spec.md §4.2/§6: does the page
// have both a free slot and enough budget for this record's variable-
// length tail.
func (p *BorderPage) CanAccommodate(count, remaining, payloadLen int) bool {
	if count >= MaxBorderSlots {
		return false
	}
	suffixLen := 0
	if remaining > 8 {
		suffixLen = remaining - 8
	}
	need := suffixLen + payloadLen + slotOverheadBytes
	return p.usedBytes+need <= borderPayloadBudget
}

// ReserveRecordSpace is reserve_record_space: insert a new placeholder
// slot in slice order under locked∧inserting (spec.md §4.2). Slots are
// kept sorted by slice so SplitFoster can partition them into two
// contiguous, fence-correct halves without an extra sort pass; the
// caller must already hold the page's version lock and have called
// SetInserting.
func (p *BorderPage) ReserveRecordSpace(keyCount int, xctID xctid.XctId, slice KeySlice, suffix []byte, remaining int, payload []byte) int {
	idx := keyCount
	for idx > 0 && p.slots[idx-1].slice > slice {
		idx--
	}
	for i := keyCount; i > idx; i-- {
		p.slots[i] = p.slots[i-1]
	}

	s := &p.slots[idx]
	s.xct.Store(xctID.WithDeleted(true))
	s.slice = slice
	s.remaining = remaining
	if remaining > 8 {
		s.suffix = append([]byte(nil), suffix...)
	} else {
		s.suffix = nil
	}
	s.payload = append([]byte(nil), payload...)
	s.pointsToLayer = false
	s.nextLayer = nil

	suffixLen := 0
	if remaining > 8 {
		suffixLen = remaining - 8
	}
	p.usedBytes += suffixLen + len(payload) + slotOverheadBytes

	p.Version.SetKeyCount(idx + 1)
	return idx
}

// splitMedian chooses the split point for split_foster: the median slice,
// ties broken toward the higher side so that duplicate-slice runs spanning
// the split land together on the foster child (spec.md §4.2 split_foster,
// §9 Open Question (a)).
func splitMedian(keyCount int, sliceOf func(i int) KeySlice) int {
	mid := keyCount / 2
	// Walk left while the slice at mid-1 equals the slice at mid, so a run
	// of equal slices is never torn across the split boundary in a way
	// that would place some in the original and some in the sibling for
	// the *same* slice value (callers needing per-slice atomicity, e.g.
	// next-layer promotion, rely on this).
	for mid > 0 && sliceOf(mid-1) == sliceOf(mid) {
		mid--
	}
	if mid == 0 {
		mid = keyCount / 2 // degenerate (all-equal slices): fall back to a straight half split
	}
	return mid
}

// SplitFoster is split_foster for a border page (spec.md §4.2). The
// caller must hold p's version lock. Slots are already sorted by slice
// (ReserveRecordSpace inserts in order), so the mid:keyCount tail is
// exactly the upper half of the key range and can be sliced off to the
// sibling directly. Returns the new, already-locked sibling.
func (p *BorderPage) SplitFoster(storageID uint32, pool pagePool, numaNode uint8) (*BorderPage, error) {
	keyCount := p.Version.Load().KeyCount()
	if keyCount < 2 {
		return nil, ErrTooLongPayload
	}

	mid := splitMedian(keyCount, func(i int) KeySlice { return p.slots[i].slice })
	medianSlice := p.slots[mid].slice

	offset, err := pool.acquireFrame(numaNode)
	if err != nil {
		return nil, err
	}

	sibling := NewBorderPage(storageID, p.Layer, medianSlice, p.HighFence, p.Version.Load().IsHighFenceSupremum(), false)
	sibling.bindFrame(numaNode, offset)
	sibling.Version.Lock() // born locked, per spec.md §4.2 "Leaves the sibling locked on return"

	n := 0
	for i := mid; i < keyCount; i++ {
		sibling.slots[n] = p.slots[i]
		suffixLen := 0
		if sibling.slots[n].remaining > 8 {
			suffixLen = sibling.slots[n].remaining - 8
		}
		sibling.usedBytes += suffixLen + len(sibling.slots[n].payload) + slotOverheadBytes
		p.slots[i] = borderSlot{}
		n++
	}
	sibling.Version.SetKeyCount(n)

	p.usedBytes = 0
	for i := 0; i < mid; i++ {
		suffixLen := 0
		if p.slots[i].remaining > 8 {
			suffixLen = p.slots[i].remaining - 8
		}
		p.usedBytes += suffixLen + len(p.slots[i].payload) + slotOverheadBytes
	}
	p.Version.SetKeyCount(mid)

	p.FosterFence = medianSlice
	p.setFosterChild(sibling)
	sibling.setFosterParent(p)
	p.Version.SetHasFosterChild(true)
	p.Version.SetSplitting()

	return sibling, nil
}

// pagePool is the narrow slice of pagepool.Pool the masstree core needs
// during split/grow; kept local to avoid every call site importing
// pagepool directly.
type pagePool interface {
	// acquireFrame hands back the pool frame a new page will be bound to
	// via Header.bindFrame, translating pool exhaustion into
	// ErrNoFreePages.
	acquireFrame(numaNode uint8) (offset uint32, err error)
}

// EncodeNormalizedPayload/DecodeNormalizedPayload help the Normalized fast
// path (scenario S2-S4) store fixed-width integers as 8 big-endian bytes,
// grounded in the original's increment_record<T> template note
// (spec.md §9 "Template payload types").
func EncodeNormalizedPayload(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func DecodeNormalizedPayload(b []byte) uint64 {
	if len(b) < 8 {
		var buf [8]byte
		copy(buf[:], b)
		return binary.BigEndian.Uint64(buf[:])
	}
	return binary.BigEndian.Uint64(b)
}
