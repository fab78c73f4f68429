package masstree

import "masstree/xctid"

// installerFunc lets a plain closure satisfy Installer.
type installerFunc func()

func (f installerFunc) Install() { f() }

// OptimisticRead implements the optimistic-read protocol of spec.md §4.7:
// read the slot's XctId, validate, copy the payload, then re-read the
// XctId and loop if it moved. It never blocks; a keylocked slot (a next-
// layer promotion in flight) is itself a transient state the loop spins
// through rather than a retry-from-root condition.
func OptimisticRead(bp *BorderPage, idx int) ([]byte, xctid.XctId, error) {
	for {
		before := bp.slots[idx].xct.Load()
		if before.IsKeylocked() {
			continue
		}
		if bp.slots[idx].pointsToLayer {
			// The slot was promoted to a next layer after LocateRecord
			// found it; the caller's position is stale.
			return nil, 0, ErrRetry
		}
		if before.IsDeleted() {
			return nil, before, ErrKeyNotFound
		}

		payload := append([]byte(nil), bp.slots[idx].payload...)

		after := bp.slots[idx].xct.Load()
		if after != before {
			continue
		}
		return payload, before, nil
	}
}
