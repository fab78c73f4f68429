package masstree

import "sync/atomic"

// MaxMinipages and MaxSeparators bound an intermediate page's two-level
// partitioning (spec.md §3 IntermediatePage, §4.3): up to 10 minipages,
// each with up to 16 separators and 17 child pointers.
const (
	MaxMinipages  = 10
	MaxSeparators = 16
	MaxChildren   = MaxSeparators + 1
)

// Minipage is independently lockable so a writer only contends with
// siblings sharing its own minipage, not the whole intermediate page
// (spec.md §3 "Two-level partitioning reduces contention").
type Minipage struct {
	Version     *VersionWord
	separators  [MaxSeparators]atomic.Uint64 // KeySlice, strictly increasing (invariant 4)
	children    [MaxChildren]atomic.Pointer[pageBox]
}

func (m *Minipage) separator(i int) KeySlice   { return KeySlice(m.separators[i].Load()) }
func (m *Minipage) setSeparator(i int, s KeySlice) { m.separators[i].Store(uint64(s)) }

func (m *Minipage) child(i int) Page {
	b := m.children[i].Load()
	if b == nil {
		return nil
	}
	return b.page
}

func (m *Minipage) setChild(i int, p Page) { m.children[i].Store(box(p)) }

// FindPointer is find_pointer inside a minipage: the index of the child
// whose covered range contains slice (spec.md §4.3).
func (m *Minipage) FindPointer(keyCount int, slice KeySlice) int {
	lo, hi := 0, keyCount
	for lo < hi {
		mid := (lo + hi) / 2
		if slice < m.separator(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// IntermediatePage is the internal B⁺-tree node (spec.md §3, §4.3).
type IntermediatePage struct {
	Header
	minipages      [MaxMinipages]*Minipage
	miniSeparators [MaxMinipages - 1]atomic.Uint64 // boundary slice between minipage i and i+1
}

func (p *IntermediatePage) Type() PageType { return PageTypeIntermediate }

func newMinipage() *Minipage {
	return &Minipage{Version: NewVersionWord(false, false)}
}

// NewIntermediatePage builds an intermediate page with a single minipage
// holding the two given children separated by sep (the shape grow_root
// and split promotion both produce).
func NewIntermediatePage(storageID uint32, layer int, low, high KeySlice, highSupremum, isRoot bool, left Page, sep KeySlice, right Page) *IntermediatePage {
	p := &IntermediatePage{}
	p.StorageID = storageID
	p.Layer = layer
	p.LowFence = low
	p.HighFence = high
	p.Version = NewVersionWord(isRoot, highSupremum)

	mp := newMinipage()
	mp.setChild(0, left)
	mp.setSeparator(0, sep)
	mp.setChild(1, right)
	mp.Version.SetKeyCount(1) // 1 separator => 2 children
	p.minipages[0] = mp
	p.Version.SetKeyCount(1) // 1 minipage in use

	return p
}

func (p *IntermediatePage) miniSeparator(i int) KeySlice { return KeySlice(p.miniSeparators[i].Load()) }
func (p *IntermediatePage) setMiniSeparator(i int, s KeySlice) {
	p.miniSeparators[i].Store(uint64(s))
}

// FindMinipage is find_minipage: the index of the minipage whose range
// contains slice (spec.md §4.3).
func (p *IntermediatePage) FindMinipage(minipageCount int, slice KeySlice) int {
	lo, hi := 0, minipageCount-1
	for lo < hi {
		mid := (lo + hi) / 2
		if slice < p.miniSeparator(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// splitMinipageInPlace splits the full minipage at index into two
// minipages held by the same page, inserting the new one immediately after
// it and promoting the boundary separator between them to the page level
// (spec.md §4.3 "if the minipage is full, split the minipage"). Caller
// holds the page lock and has verified minipageCount < MaxMinipages.
func (p *IntermediatePage) splitMinipageInPlace(index int) {
	old := p.minipages[index]
	mid := MaxSeparators / 2
	boundary := old.separator(mid)

	fresh := newMinipage()
	n := 0
	for i := mid + 1; i <= MaxSeparators; i++ {
		if i < MaxSeparators {
			fresh.setSeparator(n, old.separator(i))
		}
		fresh.setChild(n, old.child(i))
		n++
	}
	fresh.Version.SetKeyCount(n - 1)
	old.Version.SetKeyCount(mid)

	minipageCount := p.Version.Load().KeyCount()
	for i := minipageCount; i > index+1; i-- {
		p.minipages[i] = p.minipages[i-1]
	}
	p.minipages[index+1] = fresh

	for i := minipageCount - 1; i > index; i-- {
		p.setMiniSeparator(i, p.miniSeparator(i-1))
	}
	p.setMiniSeparator(index, boundary)

	p.Version.SetKeyCount(minipageCount + 1)
}

// SplitFoster performs a full page split once every minipage is already
// full (spec.md §4.3 "promotes to page split if all minipages are full").
// Callers must first try splitMinipageInPlace when minipage capacity
// remains; this only handles the page-level escalation.
func (p *IntermediatePage) SplitFoster(storageID uint32, pool pagePool) (*IntermediatePage, error) {
	minipageCount := p.Version.Load().KeyCount()
	offset, err := pool.acquireFrame(p.NumaNode)
	if err != nil {
		return nil, err
	}

	mid := minipageCount / 2
	medianSlice := p.miniSeparator(mid - 1)

	sibling := &IntermediatePage{}
	sibling.StorageID = storageID
	sibling.Layer = p.Layer
	sibling.LowFence = medianSlice
	sibling.HighFence = p.HighFence
	sibling.Version = NewVersionWord(false, p.Version.Load().IsHighFenceSupremum())
	sibling.bindFrame(p.NumaNode, offset)
	sibling.Version.Lock()

	n := 0
	for i := mid; i < minipageCount; i++ {
		sibling.minipages[n] = p.minipages[i]
		p.minipages[i] = nil
		if n > 0 {
			sibling.setMiniSeparator(n-1, p.miniSeparator(i-1))
		}
		n++
	}
	sibling.Version.SetKeyCount(n)
	p.Version.SetKeyCount(mid)

	p.FosterFence = medianSlice
	p.setFosterChild(sibling)
	sibling.setFosterParent(p)
	p.Version.SetHasFosterChild(true)
	p.Version.SetSplitting()

	return sibling, nil
}

// AdoptFromChild implements spec.md §4.3 adopt_from_child: absorb a
// foster-linked child into this minipage as a proper separator/pointer
// pair, clearing the child's foster flag. Returns ErrRetry if the parent
// or minipage structure changed since the caller's stable snapshots.
func (p *IntermediatePage) AdoptFromChild(storageID uint32, pool pagePool, parentStable Version, minipageIndex int, miniStable Version, pointerIndex int, child Page) error {
	ch := child.header()

	v := p.Version.Lock()
	if !v.SameStructure(parentStable) {
		p.Version.UnlockWithoutStateChange()
		return ErrRetry
	}

	mp := p.minipages[minipageIndex]
	miniV := mp.Version.Lock()
	if !miniV.SameStructure(miniStable) {
		mp.Version.UnlockWithoutStateChange()
		p.Version.UnlockWithoutStateChange()
		return ErrRetry
	}

	foster := ch.FosterChild()
	if foster == nil {
		// Another thread already adopted it.
		mp.Version.UnlockWithoutStateChange()
		p.Version.UnlockWithoutStateChange()
		return nil
	}

	count := miniV.KeyCount()
	if count >= MaxSeparators {
		// Minipage is full: split it in place if the page has spare
		// minipage capacity, else escalate to a full page split.
		if p.Version.Load().KeyCount() < MaxMinipages {
			p.splitMinipageInPlace(minipageIndex)
			mp.Version.UnlockWithoutStateChange()
			p.Version.Unlock()
			return ErrRetry
		}

		sib, err := p.SplitFoster(storageID, pool)
		mp.Version.UnlockWithoutStateChange()
		if err != nil {
			p.Version.UnlockWithoutStateChange()
			return err
		}
		p.Version.Unlock()
		sib.Version.Unlock()
		return ErrRetry
	}

	// Shift separators/children right of pointerIndex to make room, then
	// insert the foster child's separator (ch.FosterFence) and pointer.
	for i := count; i > pointerIndex; i-- {
		mp.setSeparator(i, mp.separator(i-1))
	}
	for i := count + 1; i > pointerIndex+1; i-- {
		mp.setChild(i, mp.child(i-1))
	}
	mp.setSeparator(pointerIndex, ch.FosterFence)
	mp.setChild(pointerIndex+1, foster)
	mp.Version.SetKeyCount(count + 1)
	mp.Version.SetInserting()

	// Clear the child's foster link under the child's own lock.
	ch.Version.Lock()
	ch.clearFosterChild()
	ch.Version.SetHasFosterChild(false)
	ch.Version.UnlockWithoutStateChange()

	mp.Version.Unlock()
	p.Version.UnlockWithoutStateChange()
	return nil
}
