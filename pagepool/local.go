package pagepool

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"masstree/internal/telemetry"
)

// LocalPool is the reference Pool implementation used by tests and by
// embedders that have no real NUMA-local allocator to wire in. It keeps a
// growable arena per NUMA node with a thread-local-style free list
// (spec.md §5 "Grabs are thread-local from a per-core free list" — modeled
// here as one free list per node, guarded by a mutex, since this package
// has no notion of cores).
//
// Freed frames (post-adoption originals, pre-GC pages per spec.md §3
// Lifecycle) are not returned to the free list immediately. They are
// offered to a ristretto cache keyed by (node, offset); ristretto's
// frequency-aware admission policy decides which freed frames are cold
// enough to recycle right away versus worth retaining a little longer in
// case a racing reader still holds a stale pointer into them. A frame the
// cache rejects goes straight onto the real free list; a frame it admits
// returns to the free list only through Drop. A frame ristretto later
// evicts is not pushed onto the free list. This gives the "design permits lazy GC but does not require it" note in
// spec.md §3 a concrete, tunable policy instead of an immediate free.
type LocalPool struct {
	pageSize int
	nodes    []*nodeArena
	cache    *ristretto.Cache[frameKey, struct{}]
}

type frameKey struct {
	node   uint8
	offset uint32
}

type nodeArena struct {
	mu       sync.Mutex
	frames   [][]byte
	freeList []uint32
}

// Config controls the reference pool's shape.
type Config struct {
	PageSize      int
	NUMANodes     uint8
	RecycleCost   int64 // ristretto MaxCost: how many freed frames may be held back from immediate reuse
	NumCounters   int64
}

func defaultConfig(cfg Config) Config {
	if cfg.PageSize == 0 {
		cfg.PageSize = PageSize
	}
	if cfg.NUMANodes == 0 {
		cfg.NUMANodes = 1
	}
	if cfg.RecycleCost == 0 {
		cfg.RecycleCost = 4096
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = cfg.RecycleCost * 10
	}
	return cfg
}

// NewLocalPool builds a reference pool with the given shape.
func NewLocalPool(cfg Config) (*LocalPool, error) {
	cfg = defaultConfig(cfg)

	p := &LocalPool{
		pageSize: cfg.PageSize,
		nodes:    make([]*nodeArena, cfg.NUMANodes),
	}
	for i := range p.nodes {
		p.nodes[i] = &nodeArena{}
	}

	cache, err := ristretto.NewCache(&ristretto.Config[frameKey, struct{}]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.RecycleCost,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[struct{}]) {
			// item carries no key in this ristretto version's eviction
			// callback, so this hook does nothing: recycling is driven
			// from Release's Set result and from Drop (see recycleIfCold).
		},
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache

	return p, nil
}

func (p *LocalPool) Acquire(numaNode uint8) (uint32, []byte, error) {
	if int(numaNode) >= len(p.nodes) {
		return 0, nil, ErrNoFreePages
	}
	arena := p.nodes[numaNode]
	arena.mu.Lock()
	defer arena.mu.Unlock()

	if n := len(arena.freeList); n > 0 {
		offset := arena.freeList[n-1]
		arena.freeList = arena.freeList[:n-1]
		frame := arena.frames[offset-1]
		clear(frame)
		telemetry.Logger.Debug("pagepool: acquire (recycled)",
			zap.Uint8("numa_node", numaNode), zap.Uint32("offset", offset))
		return offset, frame, nil
	}

	arena.frames = append(arena.frames, make([]byte, p.pageSize))
	offset := uint32(len(arena.frames)) // 1-based: offset==0 means null
	telemetry.Logger.Debug("pagepool: acquire (grow)",
		zap.Uint8("numa_node", numaNode), zap.Uint32("offset", offset))
	return offset, arena.frames[offset-1], nil
}

func (p *LocalPool) Release(numaNode uint8, offset uint32) {
	if offset == 0 || int(numaNode) >= len(p.nodes) {
		return
	}
	key := frameKey{node: numaNode, offset: offset}
	// Offer the frame to ristretto first. If it admits the entry, the
	// frame is considered "retained" (a racing late reader might still
	// dereference it) and stays off the free list until Drop forces it
	// back via recycleIfCold. If the cache rejects it, it is recycled
	// immediately.
	if p.cache.Set(key, struct{}{}, 1) {
		telemetry.Logger.Debug("pagepool: release deferred to recycle cache",
			zap.Uint8("numa_node", numaNode), zap.Uint32("offset", offset))
		return
	}
	p.recycle(key)
}

// recycleIfCold is called by owners that want to force a frame back onto
// the free list immediately regardless of ristretto's retention decision
// (e.g. storage drop, spec.md §3 "Pages are released only on storage drop
// or engine shutdown").
func (p *LocalPool) recycleIfCold(numaNode uint8, offset uint32) {
	p.cache.Del(frameKey{node: numaNode, offset: offset})
	p.recycle(frameKey{node: numaNode, offset: offset})
}

func (p *LocalPool) recycle(key frameKey) {
	arena := p.nodes[key.node]
	arena.mu.Lock()
	arena.freeList = append(arena.freeList, key.offset)
	arena.mu.Unlock()
	telemetry.Logger.Debug("pagepool: recycled", zap.Uint8("numa_node", key.node), zap.Uint32("offset", key.offset))
}

func (p *LocalPool) Frame(numaNode uint8, offset uint32) []byte {
	if offset == 0 || int(numaNode) >= len(p.nodes) {
		return nil
	}
	arena := p.nodes[numaNode]
	arena.mu.Lock()
	defer arena.mu.Unlock()
	if int(offset) > len(arena.frames) {
		return nil
	}
	return arena.frames[offset-1]
}

// Drop forces every frame this storage handle still owns back onto the
// free list immediately, bypassing ristretto's retention window. Called
// once at storage drop / engine shutdown (spec.md §3 Lifecycle).
func (p *LocalPool) Drop(numaNode uint8, offsets []uint32) {
	for _, off := range offsets {
		p.recycleIfCold(numaNode, off)
	}
}

// Close releases the recycle cache's background goroutines.
func (p *LocalPool) Close() {
	p.cache.Close()
}
