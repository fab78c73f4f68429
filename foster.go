package masstree

// GrowRoot implements grow_root (spec.md §4.4): a root page that has
// split and grown a foster child gets promoted underneath a brand new
// intermediate root with two children — the old root and its foster
// sibling. Works identically whether root points at the layer-0 root
// (Storage.root) or a next-layer root (a border slot's nextLayer field);
// the caller passes whichever RootPointer applies.
//
// Grounded on the teacher's B+tree root-split promotion
// (storage_engine/access/indexfile_manager/bplustree split-to-new-root
// path), generalized with the foster-link intermediate state spec.md
// introduces.
func GrowRoot(ctx Context, pool pagePool, storageID uint32, root *RootPointer) (Page, error) {
	old := root.Load()
	oh := old.header()

	v := oh.Version.Lock()
	if !v.HasFosterChild() {
		oh.Version.UnlockWithoutStateChange()
		return old, ErrRetry
	}

	offset, err := pool.acquireFrame(oh.NumaNode)
	if err != nil {
		oh.Version.UnlockWithoutStateChange()
		return nil, err
	}

	foster := oh.FosterChild()
	sep := oh.FosterFence
	wasSupremum := v.IsHighFenceSupremum()

	newRoot := NewIntermediatePage(storageID, oh.Layer, oh.LowFence, oh.HighFence, wasSupremum, true, old, sep, foster)
	newRoot.bindFrame(oh.NumaNode, offset)
	newRoot.Version.Lock()

	oh.clearFosterChild()
	oh.Version.SetHasFosterChild(false)
	oh.Version.SetRoot(false)

	if !root.CompareAndSwap(old, newRoot) {
		// The lock on old excludes any other grow of this same root, so
		// this should not happen; treat it as a structural change and let
		// the caller restart rather than assert.
		oh.Version.SetRoot(true)
		oh.Version.SetHasFosterChild(true)
		oh.setFosterChild(foster)
		oh.Version.UnlockWithoutStateChange()
		newRoot.Version.UnlockWithoutStateChange()
		return old, ErrRetry
	}

	if ctx != nil {
		ctx.OverwritePointer(root, newRoot)
	}

	oh.Version.UnlockWithoutStateChange()
	newRoot.Version.UnlockWithoutStateChange()

	return newRoot, nil
}
