package masstree

// Context is the narrow slice of the per-worker thread context (spec.md §6
// "All take a thread context that exposes: the NUMA-local page pool...the
// current transaction's read/write/pointer sets, and the log buffer") that
// the core itself calls back into. The concrete implementation (occtxn)
// lives outside this package; the core only ever sees this interface, kept
// intentionally small so unit tests can supply a stub.
type Context interface {
	// NumaNode is the worker's pinned NUMA node, used for page allocation.
	NumaNode() uint8

	// RecordRead appends a read-set entry for a logical record observation
	// (spec.md §4.7 step 4).
	RecordRead(entry ReadSetEntry)

	// RecordWrite appends a write-set entry for a logical write (spec.md
	// §4.7 "append a log entry...then append a write-set entry").
	RecordWrite(entry WriteSetEntry) error

	// RecordPointer appends a pointer-set entry the first time a root
	// pointer is observed by this transaction (spec.md §4.7 "For every root
	// pointer observed...").
	RecordPointer(ptr *RootPointer, observed Page)

	// OverwritePointer updates an existing pointer-set entry in place when
	// grow_root installs a new root from inside the same transaction
	// (spec.md §4.4 step 7, "overwrite_to_pointer_set").
	OverwritePointer(ptr *RootPointer, observed Page)
}

// ReadSetEntry is (storage, owner-id-address, observed-xct-id) per spec.md
// §4.7 step 4. OwnerAddr identifies the slot's XctId word so commit-time
// validation can re-read it; the core never dereferences it itself.
type ReadSetEntry struct {
	StorageID uint32
	OwnerAddr interface{} // opaque handle back to the owning slot, e.g. *xctid.Word
	Observed  uint64      // xctid.XctId snapshotted at read time
}

// Installer is what a write-set entry's LogPtr implements in this port:
// the transaction manager's commit path invokes Install() once validation
// passes, applying the buffered mutation to the record in place. The
// original's log entry is an opaque blob the core never interprets past
// offset/length; here the same opaque-to-the-core property holds because
// Context and WriteSetEntry only see it as interface{}/Installer.
type Installer interface {
	Install()
}

// WriteSetEntry is (storage, owner-id-address, record-address, log-ptr) per
// spec.md §4.7. LogPtr carries the buffered mutation; in this port it is an
// Installer that commit invokes.
type WriteSetEntry struct {
	StorageID uint32
	OwnerAddr interface{}
	RecordPtr interface{}
	LogPtr    interface{}
}
