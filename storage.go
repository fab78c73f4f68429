package masstree

import (
	"bytes"
	"encoding/binary"
	"errors"

	"masstree/xctid"
)

// Storage is one masstree index: a layer-0 root plus the identity the
// record operations below are scoped to (spec.md §6 "Engine-level API...
// per storage").
type Storage struct {
	ID       uint32
	Name     string
	NumaNode uint8
	root     *RootPointer
}

// NewStorage builds an empty masstree rooted at a single, empty border
// page covering the whole key space (spec.md §6 create(metadata)).
// Uniqueness of ID/Name is the storage manager's job (spec.md §9 "dynamic
// dispatch"/"tagged variant"), not the core's.
func NewStorage(id uint32, name string, numaNode uint8) *Storage {
	root := NewBorderPage(id, 0, 0, 0, true, true)
	return &Storage{ID: id, Name: name, NumaNode: numaNode, root: NewRootPointer(root)}
}

// ReleasePages walks every page reachable from this storage's layer-0
// root — following foster children, intermediate minipage children, and
// next-layer border pointers — and hands each one's pool frame back to
// pool. Callers invoke this once at storage drop or engine shutdown
// (spec.md §3 Lifecycle "Pages are released only on storage drop or
// engine shutdown"); it assumes no concurrent mutation of the tree.
func (s *Storage) ReleasePages(pool *PagePool) {
	releasePage(s.root.Load(), pool)
}

func releasePage(p Page, pool *PagePool) {
	if p == nil {
		return
	}
	h := p.header()
	if h.PoolOffset != 0 {
		pool.Release(h.NumaNode, h.PoolOffset)
	}
	releasePage(h.FosterChild(), pool)

	switch page := p.(type) {
	case *BorderPage:
		count := page.Version.Load().KeyCount()
		for i := 0; i < count && i < MaxBorderSlots; i++ {
			if page.slots[i].pointsToLayer && page.slots[i].nextLayer != nil {
				releasePage(page.slots[i].nextLayer.Load(), pool)
			}
		}
	case *IntermediatePage:
		minipageCount := page.Version.Load().KeyCount()
		for i := 0; i < minipageCount && i < MaxMinipages; i++ {
			mp := page.minipages[i]
			if mp == nil {
				continue
			}
			childCount := mp.Version.Load().KeyCount() + 1
			for j := 0; j < childCount && j < MaxChildren; j++ {
				releasePage(mp.child(j), pool)
			}
		}
	}
}

// GetRecord implements get_record (spec.md §6): locates key and copies its
// payload into buf, returning the record's true length so callers can
// detect a too-small buffer the same way a real read would.
func (s *Storage) GetRecord(ctx Context, pool pagePool, key []byte, buf []byte) (int, error) {
	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		bp, idx, _, _, err := LocateRecord(ctx, pool, s.ID, s.root, key, false)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return 0, err
		}

		payload, observed, err := OptimisticRead(bp, idx)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return 0, err
		}
		if len(payload) > len(buf) {
			return len(payload), ErrTooSmallPayloadBuffer
		}
		n := copy(buf, payload)
		if ctx != nil {
			ctx.RecordRead(ReadSetEntry{StorageID: s.ID, OwnerAddr: &bp.slots[idx].xct, Observed: uint64(observed)})
		}
		return n, nil
	}
	return 0, ErrRetry
}

// GetRecordNormalized is get_record_normalized (spec.md §6): the typed
// fast path for keys that are exactly one 8-byte slice (scenario S2-S4).
func (s *Storage) GetRecordNormalized(ctx Context, pool pagePool, slice KeySlice, buf []byte) (int, error) {
	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		root, err := resolveRoot(ctx, pool, s.ID, s.root)
		if err != nil {
			return 0, err
		}
		bp, err := findBorder(root, slice, pool)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return 0, err
		}

		stable := bp.Version.StableVersion()
		idx, found := bp.FindKeyNormalized(0, stable.KeyCount(), slice)
		if !found {
			if !bp.Version.Load().SameStructure(stable) {
				continue
			}
			return 0, ErrKeyNotFound
		}

		payload, observed, err := OptimisticRead(bp, idx)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return 0, err
		}
		if len(payload) > len(buf) {
			return len(payload), ErrTooSmallPayloadBuffer
		}
		n := copy(buf, payload)
		if ctx != nil {
			ctx.RecordRead(ReadSetEntry{StorageID: s.ID, OwnerAddr: &bp.slots[idx].xct, Observed: uint64(observed)})
		}
		return n, nil
	}
	return 0, ErrRetry
}

// InsertRecord is insert_record (spec.md §6). reserve_record already
// writes the slot's slice/suffix/payload with a deleted placeholder
// XctId; the only thing left for commit to install is flipping that flag
// off under the final XctId, so that is exactly what the write-set
// Installer does.
//
// Two transactions racing to insert the same new key both land on
// ExactMatchLocalRecord once the first has reserved the placeholder slot,
// so both would otherwise install over the same word with nothing to
// distinguish them. Recording the placeholder's XctId as a read-set entry
// closes that gap: whichever commits second finds the word has moved
// since it observed it and aborts under ErrValidationFailed (spec.md §8
// invariant 5 "at most one logical insertion; the other aborts at
// commit").
func (s *Storage) InsertRecord(ctx Context, pool pagePool, numaNode uint8, key, payload []byte, xctID xctid.XctId) error {
	bp, idx, err := ReserveRecord(ctx, pool, s.ID, numaNode, s.root, key, payload, xctID)
	if err != nil {
		return err
	}
	slot := &bp.slots[idx]
	observed := slot.xct.Load()
	final := xctID.WithDeleted(false)
	install := installerFunc(func() { slot.xct.Store(final) })

	if ctx != nil {
		ctx.RecordRead(ReadSetEntry{StorageID: s.ID, OwnerAddr: &slot.xct, Observed: uint64(observed)})
		return ctx.RecordWrite(WriteSetEntry{StorageID: s.ID, OwnerAddr: &slot.xct, RecordPtr: slot, LogPtr: install})
	}
	install.Install()
	return nil
}

// InsertNormalized is the Normalized-slice counterpart of InsertRecord,
// used by the fast path (spec.md §9 supplemented feature).
func (s *Storage) InsertNormalized(ctx Context, pool pagePool, numaNode uint8, slice KeySlice, payload []byte, xctID xctid.XctId) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(slice))
	return s.InsertRecord(ctx, pool, numaNode, key, payload, xctID)
}

// OverwriteRecord is overwrite_record (spec.md §6): replaces count bytes
// of the existing payload starting at offset.
func (s *Storage) OverwriteRecord(ctx Context, pool pagePool, key []byte, payload []byte, offset, count int) error {
	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		bp, idx, _, _, err := LocateRecord(ctx, pool, s.ID, s.root, key, true)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return err
		}

		slot := &bp.slots[idx]
		before := slot.xct.Load()
		if before.IsDeleted() {
			return ErrKeyNotFound
		}
		if offset+count > len(slot.payload) {
			return ErrTooShortPayload
		}

		newPayload := append([]byte(nil), slot.payload...)
		copy(newPayload[offset:offset+count], payload[:count])
		final := before.NextOrdinal()
		install := installerFunc(func() {
			slot.payload = newPayload
			slot.xct.Store(final)
		})

		if ctx != nil {
			return ctx.RecordWrite(WriteSetEntry{StorageID: s.ID, OwnerAddr: &slot.xct, RecordPtr: slot, LogPtr: install})
		}
		install.Install()
		return nil
	}
	return ErrRetry
}

// OverwriteNormalized is the Normalized-slice counterpart of
// OverwriteRecord.
func (s *Storage) OverwriteNormalized(ctx Context, pool pagePool, slice KeySlice, payload []byte, offset, count int) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(slice))
	return s.OverwriteRecord(ctx, pool, key, payload, offset, count)
}

// DeleteRecord is delete_record (spec.md §6): marks the slot deleted
// without physically removing it (spec.md §3 Lifecycle).
func (s *Storage) DeleteRecord(ctx Context, pool pagePool, key []byte) error {
	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		bp, idx, _, _, err := LocateRecord(ctx, pool, s.ID, s.root, key, true)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return err
		}

		slot := &bp.slots[idx]
		before := slot.xct.Load()
		if before.IsDeleted() {
			return ErrKeyNotFound
		}
		final := before.NextOrdinal().WithDeleted(true)
		install := installerFunc(func() { slot.xct.Store(final) })

		if ctx != nil {
			return ctx.RecordWrite(WriteSetEntry{StorageID: s.ID, OwnerAddr: &slot.xct, RecordPtr: slot, LogPtr: install})
		}
		install.Install()
		return nil
	}
	return ErrRetry
}

// Numeric bounds the widths increment_record<T> may instantiate over
// (spec.md §9 "Template payload types").
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Increment is the generic increment_record<T> fast path (spec.md §6,
// §9): read the old value, add delta, write the new value back. The read
// must be idempotent because this function's retry loop may re-run it any
// number of times before the write actually lands.
func Increment[T Numeric](ctx Context, pool pagePool, s *Storage, key []byte, delta T, offset int) (T, error) {
	var zero T
	width := binary.Size(zero)
	if width <= 0 {
		return zero, ErrNotImplemented
	}

	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		bp, idx, _, _, err := LocateRecord(ctx, pool, s.ID, s.root, key, true)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return zero, err
		}

		slot := &bp.slots[idx]
		before := slot.xct.Load()
		if before.IsDeleted() {
			return zero, ErrKeyNotFound
		}
		if offset+width > len(slot.payload) {
			return zero, ErrTooShortPayload
		}

		var old T
		if err := binary.Read(bytes.NewReader(slot.payload[offset:offset+width]), binary.BigEndian, &old); err != nil {
			return zero, err
		}
		newVal := old + delta

		newPayload := append([]byte(nil), slot.payload...)
		var encoded bytes.Buffer
		if err := binary.Write(&encoded, binary.BigEndian, newVal); err != nil {
			return zero, err
		}
		copy(newPayload[offset:offset+width], encoded.Bytes())

		final := before.NextOrdinal()
		install := installerFunc(func() {
			slot.payload = newPayload
			slot.xct.Store(final)
		})

		if ctx != nil {
			if err := ctx.RecordWrite(WriteSetEntry{StorageID: s.ID, OwnerAddr: &slot.xct, RecordPtr: slot, LogPtr: install}); err != nil {
				return zero, err
			}
		} else {
			install.Install()
		}
		return newVal, nil
	}
	return zero, ErrRetry
}
