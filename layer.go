package masstree

import "encoding/binary"

// layerSlice re-derives (slice, remaining, suffix) for the next layer down
// from a byte tail that already begins at that layer's boundary — either a
// border slot's stored suffix or the inserting key's tail beyond the
// conflicting layer (spec.md §4.6 step 4).
func layerSlice(tail []byte) (KeySlice, int, []byte) {
	var buf [8]byte
	n := len(tail)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], tail[:n])
	remaining := len(tail)
	var suffix []byte
	if len(tail) > 8 {
		suffix = tail[8:]
	}
	return KeySlice(binary.BigEndian.Uint64(buf[:])), remaining, suffix
}

// createNextLayer implements create_next_layer (spec.md §4.6): promotes a
// border slot whose KeySlice collided with an insertion, but whose full key
// diverges beyond that slice, into a pointer to a brand new one-record
// layer. This is a system transaction — it mutates only the slot's own
// keylock and fields, contributing no read/write-set entries, and needs no
// version-word lock on bp because it never touches key_count or any other
// slot.
func createNextLayer(pool pagePool, storageID uint32, bp *BorderPage, idx int, layer int) (*RootPointer, error) {
	slot := &bp.slots[idx]

	old := slot.xct.Load()
	if old.IsKeylocked() {
		return nil, ErrRetry
	}
	locking := old.WithKeylocked(true)
	if !slot.xct.CompareAndSwap(old, locking) {
		return nil, ErrRetry
	}

	if slot.pointsToLayer {
		// Another thread already promoted this slot while we raced for the
		// keylock; release ours and hand back the winner's pointer.
		slot.xct.CompareAndSwap(locking, locking.WithKeylocked(false))
		return slot.nextLayer, nil
	}

	offset, err := pool.acquireFrame(bp.NumaNode)
	if err != nil {
		slot.xct.CompareAndSwap(locking, locking.WithKeylocked(false))
		return nil, err
	}

	existSlice, existRemaining, existSuffix := layerSlice(slot.suffix)

	newLayer := NewBorderPage(storageID, layer+1, 0, 0, true, true)
	newLayer.bindFrame(bp.NumaNode, offset)
	s := &newLayer.slots[0]
	s.xct.Store(locking.WithKeylocked(false).WithDeleted(old.IsDeleted()))
	s.slice = existSlice
	s.remaining = existRemaining
	if existRemaining > 8 {
		s.suffix = append([]byte(nil), existSuffix...)
	}
	s.payload = append([]byte(nil), slot.payload...)
	suffixLen := 0
	if existRemaining > 8 {
		suffixLen = existRemaining - 8
	}
	newLayer.usedBytes = suffixLen + len(s.payload) + slotOverheadBytes
	newLayer.Version.SetKeyCount(1)

	ptr := NewRootPointer(newLayer)

	slot.nextLayer = ptr
	slot.pointsToLayer = true
	slot.suffix = nil
	slot.payload = nil

	// Advance the slot's ordinal (spec.md §4.6 step 6) and publish: the
	// pointer flag and the new XctId become visible together.
	slot.xct.Store(locking.NextOrdinal().WithDeleted(false).WithKeylocked(false))

	return ptr, nil
}
