// Package occtxn is the per-thread transaction context and manager that
// sit outside the masstree core and implement masstree.Context: the
// read/write/pointer sets the core's OCC hook populates (spec.md §4.7),
// plus begin/commit/abort/wait-for-epoch, which spec.md §6 explicitly
// reserves to "the transaction manager outside the core".
package occtxn

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"masstree"
	"masstree/logbuf"
	"masstree/xctid"
)

// ErrValidationFailed is returned by Commit when the read-set or
// pointer-set no longer matches what was observed (spec.md §4.7
// "commit-time validation reruns *addr == observed...and aborts
// otherwise").
var ErrValidationFailed = errors.New("occtxn: commit validation failed")

// ErrNotActive rejects operations against a context whose transaction
// already committed or aborted.
var ErrNotActive = errors.New("occtxn: no active transaction")

// Manager owns the global epoch counter that WaitForEpoch waits on
// (spec.md §6 "wait-for-epoch"). Commit does not read it.
type Manager struct {
	epoch atomic.Uint32
}

func NewManager() *Manager {
	m := &Manager{}
	m.epoch.Store(1)
	return m
}

func (m *Manager) CurrentEpoch() uint32 { return m.epoch.Load() }

func (m *Manager) AdvanceEpoch() uint32 { return m.epoch.Add(1) }

// WaitForEpoch spins until the manager's epoch reaches at least target,
// per spec.md §6 "Commit/abort/wait-for-epoch are performed by the
// transaction manager outside the core."
func (m *Manager) WaitForEpoch(target uint32) {
	for m.epoch.Load() < target {
		runtime.Gosched()
	}
}

// Begin opens a transaction context for one worker, pinned to numaNode and
// backed by log (the worker's own logbuf.Buffer, spec.md §5).
func (m *Manager) Begin(numaNode uint8, log *logbuf.Buffer) *Context {
	return &Context{mgr: m, numaNode: numaNode, log: log, active: true}
}

type pointerObservation struct {
	ptr      *masstree.RootPointer
	observed masstree.Page
}

// Context is the concrete masstree.Context the core reads from and writes
// to during one transaction's lifetime. Not safe for concurrent use by
// more than one worker, matching spec.md §5 "owned only by that worker".
type Context struct {
	mgr      *Manager
	numaNode uint8
	log      *logbuf.Buffer

	mu       sync.Mutex
	reads    []masstree.ReadSetEntry
	writes   []masstree.WriteSetEntry
	pointers []pointerObservation
	active   bool
}

func (c *Context) NumaNode() uint8 { return c.numaNode }

func (c *Context) RecordRead(e masstree.ReadSetEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, e)
}

func (c *Context) RecordWrite(e masstree.WriteSetEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotActive
	}
	if c.log != nil {
		if _, err := c.log.ReserveNewLog(1); err != nil {
			return err
		}
	}
	c.writes = append(c.writes, e)
	return nil
}

func (c *Context) RecordPointer(ptr *masstree.RootPointer, observed masstree.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pointers {
		if p.ptr == ptr {
			return // first observation of this pointer wins
		}
	}
	c.pointers = append(c.pointers, pointerObservation{ptr: ptr, observed: observed})
}

func (c *Context) OverwritePointer(ptr *masstree.RootPointer, observed masstree.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.pointers {
		if c.pointers[i].ptr == ptr {
			c.pointers[i].observed = observed
			return
		}
	}
	c.pointers = append(c.pointers, pointerObservation{ptr: ptr, observed: observed})
}

// Commit validates every read-set and pointer-set entry, installs the
// buffered writes only if validation passes, and marks the context
// inactive either way (spec.md §4.7, §8 invariant 5 "the other aborts at
// commit").
func (c *Context) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotActive
	}
	c.active = false

	for _, r := range c.reads {
		owner, ok := r.OwnerAddr.(*xctid.Word)
		if !ok {
			continue
		}
		if uint64(owner.Load()) != r.Observed {
			return ErrValidationFailed
		}
	}
	for _, p := range c.pointers {
		if p.ptr.Load() != p.observed {
			return ErrValidationFailed
		}
	}

	for _, w := range c.writes {
		if inst, ok := w.LogPtr.(masstree.Installer); ok {
			inst.Install()
		}
	}
	if c.log != nil {
		c.log.Reset()
	}
	return nil
}

// Abort discards the buffered writes without installing them.
func (c *Context) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if c.log != nil {
		c.log.Reset()
	}
}
