package masstree

import (
	"errors"

	"go.uber.org/zap"

	"masstree/internal/telemetry"
	"masstree/xctid"
)

// findBorder descends from root to the border page that should hold slice,
// following foster links transparently and hand-over-hand re-verifying
// every intermediate page it passes through (spec.md §4.1, §4.5 step
// "find_border(layer_root, L, slice) descends intermediate pages with
// hand-over-hand verification"). It returns ErrRetry on any structural
// mismatch; callers restart the whole descent from the layer root, which is
// always safe and collapses the local/layer retry distinction spec.md §4.8
// draws into a single retry point.
func findBorder(root Page, slice KeySlice, pool pagePool) (*BorderPage, error) {
	cur := root
	for {
		switch cur.Type() {
		case PageTypeBorder:
			bp := cur.(*BorderPage)
			stable := bp.Version.StableVersion()
			if stable.HasFosterChild() && slice >= bp.FosterFence {
				foster := bp.FosterChild()
				if foster == nil {
					return nil, ErrRetry
				}
				cur = foster
				continue
			}
			if !bp.covers(slice) {
				return nil, ErrRetry
			}
			return bp, nil

		case PageTypeIntermediate:
			ip := cur.(*IntermediatePage)
			parentStable := ip.Version.StableVersion()
			if parentStable.HasFosterChild() && slice >= ip.FosterFence {
				foster := ip.FosterChild()
				if foster == nil {
					return nil, ErrRetry
				}
				cur = foster
				continue
			}
			minipageCount := parentStable.KeyCount()
			if minipageCount == 0 {
				return nil, ErrRetry
			}
			miniIdx := ip.FindMinipage(minipageCount, slice)
			mp := ip.minipages[miniIdx]
			miniStable := mp.Version.StableVersion()
			childIdx := mp.FindPointer(miniStable.KeyCount(), slice)
			child := mp.child(childIdx)
			if child == nil {
				return nil, ErrRetry
			}
			if !ip.Version.Load().SameStructure(parentStable) {
				return nil, ErrRetry
			}

			// Opportunistic adoption (spec.md §4.3): if the child we are
			// about to descend into has already foster-split, absorb the
			// split sibling into this minipage now instead of leaving every
			// future reader to walk the foster chain. Best-effort: any
			// failure (lost race, structure changed, minipage full) is
			// ignored here since our own descent into child is unaffected
			// either way. On success the child no longer routes slices past
			// its old foster fence, so ip is re-read to pick the right
			// pointer.
			if child.header().Version.Load().HasFosterChild() {
				if ip.AdoptFromChild(ip.StorageID, pool, parentStable, miniIdx, miniStable, childIdx, child) == nil {
					continue
				}
			}

			cur = child
			continue

		default:
			return nil, ErrRetry
		}
	}
}

// sliceSuffix returns the key bytes beyond layer L's 8-byte slice, the same
// byte range a border slot's suffix field stores (spec.md §3 BorderPage).
func sliceSuffix(key []byte, layer int) []byte {
	start := layer*8 + 8
	if start >= len(key) {
		return nil
	}
	return key[start:]
}

// resolveRoot loads a layer's current root, growing it first if it has
// outgrown its foster child, and records (or, on growth, overwrites) this
// transaction's pointer-set observation (spec.md §4.4, §4.7 "For every root
// pointer observed...").
func resolveRoot(ctx Context, pool pagePool, storageID uint32, rootPtr *RootPointer) (Page, error) {
	p := rootPtr.Load()
	if p == nil {
		return nil, ErrNotInitialized
	}
	stable := p.header().Version.StableVersion()
	if stable.HasFosterChild() && stable.IsRoot() {
		grown, err := GrowRoot(ctx, pool, storageID, rootPtr)
		if err != nil {
			return nil, err
		}
		p = grown
	}
	if ctx != nil {
		ctx.RecordPointer(rootPtr, p)
	}
	return p, nil
}

// LocateRecord implements locate_record (spec.md §4.5): walk layers from
// the given layer-0 root until the key's border slot is found, is absent,
// or the retry budget is exhausted. forWrites is accepted for interface
// symmetry with reserve_record's sibling path; this read-only descent
// behaves identically either way since it never mutates a page.
func LocateRecord(ctx Context, pool pagePool, storageID uint32, root0 *RootPointer, key []byte, forWrites bool) (*BorderPage, int, KeySlice, int, error) {
	rootPtr := root0
	layer := 0

	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		layerRoot, err := resolveRoot(ctx, pool, storageID, rootPtr)
		if err != nil {
			return nil, -1, 0, 0, err
		}

		slice, remaining := SliceOf(key, layer)
		bp, err := findBorder(layerRoot, slice, pool)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return nil, -1, 0, 0, err
		}

		stable := bp.Version.StableVersion()
		suffix := sliceSuffix(key, layer)
		idx, found := bp.FindKey(stable.KeyCount(), slice, suffix, remaining)
		if !found {
			if !bp.Version.Load().SameStructure(stable) {
				continue
			}
			return nil, -1, slice, remaining, ErrKeyNotFound
		}

		slot := &bp.slots[idx]
		if slot.pointsToLayer {
			next := slot.nextLayer
			if !bp.Version.Load().SameStructure(stable) {
				continue
			}
			rootPtr = next
			layer++
			continue
		}

		if !bp.Version.Load().SameStructure(stable) {
			continue
		}
		return bp, idx, slice, remaining, nil
	}

	telemetry.Logger.Warn("masstree: locate_record exhausted its retry budget",
		zap.Uint32("storage_id", storageID), zap.Int("max_retries", MaxStructuralRetries))
	return nil, -1, 0, 0, ErrRetry
}

// ReserveRecord implements reserve_record (spec.md §4.5): like
// LocateRecord, but on NotFound it locks the border page, accommodates or
// splits, and reserves a fresh placeholder slot; on ConflictingLocalRecord
// it promotes the colliding slot to a next layer and recurses.
func ReserveRecord(ctx Context, pool pagePool, storageID uint32, numaNode uint8, root0 *RootPointer, key []byte, payload []byte, xctID xctid.XctId) (*BorderPage, int, error) {
	rootPtr := root0
	layer := 0

	for attempt := 0; attempt < MaxStructuralRetries; attempt++ {
		layerRoot, err := resolveRoot(ctx, pool, storageID, rootPtr)
		if err != nil {
			return nil, -1, err
		}

		slice, remaining := SliceOf(key, layer)
		suffix := sliceSuffix(key, layer)

		bp, err := findBorder(layerRoot, slice, pool)
		if err != nil {
			if errors.Is(err, ErrRetry) {
				continue
			}
			return nil, -1, err
		}

		bp.Version.Lock()
		stable := bp.Version.Load()
		res := bp.FindKeyForReserve(0, stable.KeyCount(), slice, suffix, remaining)

		switch res.Kind {
		case ExactMatchLocalRecord:
			bp.Version.UnlockWithoutStateChange()
			return bp, res.Index, nil

		case ExactMatchLayerPointer:
			next := bp.slots[res.Index].nextLayer
			bp.Version.UnlockWithoutStateChange()
			rootPtr = next
			layer++
			continue

		case ConflictingLocalRecord:
			bp.Version.UnlockWithoutStateChange()
			next, err := createNextLayer(pool, storageID, bp, res.Index, layer)
			if err != nil {
				if errors.Is(err, ErrRetry) {
					continue
				}
				return nil, -1, err
			}
			rootPtr = next
			layer++
			continue

		case NotFound:
			if bp.CanAccommodate(stable.KeyCount(), remaining, len(payload)) {
				bp.Version.SetInserting()
				idx := bp.ReserveRecordSpace(stable.KeyCount(), xctID, slice, suffix, remaining, payload)
				bp.Version.Unlock()
				return bp, idx, nil
			}

			sibling, err := bp.SplitFoster(storageID, pool, numaNode)
			if err != nil {
				bp.Version.UnlockWithoutStateChange()
				return nil, -1, err
			}

			target := bp
			if slice >= bp.FosterFence {
				target = sibling
			}
			if !target.CanAccommodate(target.Version.Load().KeyCount(), remaining, len(payload)) {
				bp.Version.Unlock()
				sibling.Version.Unlock()
				return nil, -1, ErrTooLongPayload
			}

			if target == bp {
				bp.Version.SetInserting()
				idx := bp.ReserveRecordSpace(bp.Version.Load().KeyCount(), xctID, slice, suffix, remaining, payload)
				bp.Version.Unlock()
				sibling.Version.Unlock()
				return bp, idx, nil
			}

			sibling.Version.SetInserting()
			idx := sibling.ReserveRecordSpace(sibling.Version.Load().KeyCount(), xctID, slice, suffix, remaining, payload)
			bp.Version.Unlock()
			sibling.Version.Unlock()
			return sibling, idx, nil
		}
	}

	telemetry.Logger.Warn("masstree: reserve_record exhausted its retry budget",
		zap.Uint32("storage_id", storageID), zap.Int("max_retries", MaxStructuralRetries))
	return nil, -1, ErrRetry
}
