package masstree

import (
	"testing"

	"masstree/xctid"
)

type fakePool struct {
	exhausted bool
	next      uint32
}

func (f *fakePool) acquireFrame(numaNode uint8) (uint32, error) {
	if f.exhausted {
		return 0, ErrNoFreePages
	}
	f.next++
	return f.next, nil
}

func TestReserveAndFindKey(t *testing.T) {
	bp := NewBorderPage(1, 0, 0, 0, true, true)
	bp.Version.Lock()
	bp.Version.SetInserting()
	idx := bp.ReserveRecordSpace(0, xctid.New(1, 1), KeySlice(42), nil, 8, []byte("hello"))
	bp.Version.Unlock()

	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	found, ok := bp.FindKey(1, KeySlice(42), nil, 8)
	if !ok || found != 0 {
		t.Fatalf("FindKey = (%d, %v), want (0, true)", found, ok)
	}
	_, ok = bp.FindKey(1, KeySlice(43), nil, 8)
	if ok {
		t.Fatal("FindKey matched a slice that was never inserted")
	}
}

func TestFindKeyNormalized(t *testing.T) {
	bp := NewBorderPage(1, 0, 0, 0, true, true)
	bp.Version.Lock()
	bp.Version.SetInserting()
	bp.ReserveRecordSpace(0, xctid.New(1, 1), KeySlice(5), nil, 8, []byte("v5"))
	bp.Version.Unlock()

	idx, ok := bp.FindKeyNormalized(0, 1, KeySlice(5))
	if !ok || idx != 0 {
		t.Fatalf("FindKeyNormalized = (%d, %v), want (0, true)", idx, ok)
	}
}

func TestFindKeyForReserveClassifiesSlots(t *testing.T) {
	bp := NewBorderPage(1, 0, 0, 0, true, true)
	bp.Version.Lock()
	bp.Version.SetInserting()
	bp.ReserveRecordSpace(0, xctid.New(1, 1), KeySlice(1), []byte("aaa"), 11, []byte("v1"))
	bp.Version.Unlock()

	res := bp.FindKeyForReserve(0, 1, KeySlice(1), []byte("aaa"), 11)
	if res.Kind != ExactMatchLocalRecord {
		t.Fatalf("kind = %v, want ExactMatchLocalRecord", res.Kind)
	}

	res = bp.FindKeyForReserve(0, 1, KeySlice(1), []byte("bbb"), 11)
	if res.Kind != ConflictingLocalRecord {
		t.Fatalf("kind = %v, want ConflictingLocalRecord", res.Kind)
	}

	res = bp.FindKeyForReserve(0, 1, KeySlice(2), nil, 8)
	if res.Kind != NotFound {
		t.Fatalf("kind = %v, want NotFound", res.Kind)
	}
}

func TestSplitFosterPreservesAllKeys(t *testing.T) {
	bp := NewBorderPage(1, 0, 0, 0, true, true)
	bp.Version.Lock()
	for i := 0; i < 10; i++ {
		bp.Version.SetInserting()
		bp.ReserveRecordSpace(i, xctid.New(1, uint32(i+1)), KeySlice(i), nil, 8, []byte{byte(i)})
	}

	pool := &fakePool{}
	sibling, err := bp.SplitFoster(1, pool, 0)
	if err != nil {
		t.Fatalf("SplitFoster: %v", err)
	}
	bp.Version.Unlock()
	sibling.Version.Unlock()

	if !bp.Version.Load().HasFosterChild() {
		t.Fatal("original page should report has_foster_child after split")
	}

	seen := map[int]bool{}
	origCount := bp.Version.Load().KeyCount()
	for i := 0; i < origCount; i++ {
		seen[int(bp.slots[i].slice)] = true
	}
	sibCount := sibling.Version.Load().KeyCount()
	for i := 0; i < sibCount; i++ {
		seen[int(sibling.slots[i].slice)] = true
	}
	if len(seen) != 10 {
		t.Fatalf("post-split key set has %d distinct keys, want 10", len(seen))
	}
	if origCount+sibCount != 10 {
		t.Fatalf("origCount+sibCount = %d, want 10", origCount+sibCount)
	}
	for i := 0; i < origCount; i++ {
		if bp.slots[i].slice >= sibling.LowFence {
			t.Fatalf("original page retained a slot past the split point: %d", bp.slots[i].slice)
		}
	}
	for i := 0; i < sibCount; i++ {
		if sibling.slots[i].slice < sibling.LowFence {
			t.Fatalf("sibling holds a slot below its own low fence: %d", sibling.slots[i].slice)
		}
	}
}

func TestSplitFosterNoFreePages(t *testing.T) {
	bp := NewBorderPage(1, 0, 0, 0, true, true)
	bp.Version.Lock()
	for i := 0; i < 2; i++ {
		bp.Version.SetInserting()
		bp.ReserveRecordSpace(i, xctid.New(1, uint32(i+1)), KeySlice(i), nil, 8, nil)
	}
	pool := &fakePool{exhausted: true}
	_, err := bp.SplitFoster(1, pool, 0)
	bp.Version.UnlockWithoutStateChange()
	if err != ErrNoFreePages {
		t.Fatalf("err = %v, want ErrNoFreePages", err)
	}
}

func TestEncodeDecodeNormalizedPayload(t *testing.T) {
	v := uint64(897565433333126)
	b := EncodeNormalizedPayload(v)
	if got := DecodeNormalizedPayload(b); got != v {
		t.Fatalf("round trip = %d, want %d", got, v)
	}
}
