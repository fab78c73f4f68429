// Package array implements the Array storage kind: fixed-length records
// indexed by a dense integer offset, sharing the masstree core's OCC
// contract (spec.md §1 "A secondary Array and Hash storage appear in the
// source but are simpler and share the same OCC contract; their design
// follows from §6"). There is no trie/page structure to split or grow —
// every record lives at a fixed slot for the storage's lifetime.
package array

import (
	"errors"
	"sync"

	"masstree"
	"masstree/xctid"
)

// ErrOutOfRange rejects an offset outside [0, length).
var ErrOutOfRange = errors.New("array: offset out of range")

type record struct {
	xct     xctid.Word
	payload []byte
}

type installerFunc func()

func (f installerFunc) Install() { f() }

// Storage is one Array index of fixed-width records.
type Storage struct {
	ID         uint32
	Name       string
	RecordSize int

	mu      sync.RWMutex
	records []record
}

// NewStorage preallocates length records of recordSize bytes each.
func NewStorage(id uint32, name string, recordSize, length int) *Storage {
	recs := make([]record, length)
	for i := range recs {
		recs[i].payload = make([]byte, recordSize)
	}
	return &Storage{ID: id, Name: name, RecordSize: recordSize, records: recs}
}

// GetRecord mirrors masstree.Storage.GetRecord's optimistic-read loop
// (spec.md §4.7), scoped to one fixed slot instead of a border-page scan.
func (s *Storage) GetRecord(ctx masstree.Context, offset int, buf []byte) (int, error) {
	if offset < 0 || offset >= len(s.records) {
		return 0, ErrOutOfRange
	}
	s.mu.RLock()
	rec := &s.records[offset]
	s.mu.RUnlock()

	for {
		before := rec.xct.Load()
		if before.IsKeylocked() {
			continue
		}
		payload := append([]byte(nil), rec.payload...)
		after := rec.xct.Load()
		if after != before {
			continue
		}
		if before.IsDeleted() {
			return 0, masstree.ErrKeyNotFound
		}
		n := copy(buf, payload)
		if ctx != nil {
			ctx.RecordRead(masstree.ReadSetEntry{StorageID: s.ID, OwnerAddr: &rec.xct, Observed: uint64(before)})
		}
		return n, nil
	}
}

// OverwriteRecord replaces count bytes at off within the record at offset.
func (s *Storage) OverwriteRecord(ctx masstree.Context, offset int, payload []byte, off, count int, xctID xctid.XctId) error {
	if offset < 0 || offset >= len(s.records) {
		return ErrOutOfRange
	}
	s.mu.RLock()
	rec := &s.records[offset]
	s.mu.RUnlock()

	if off+count > len(rec.payload) {
		return masstree.ErrTooShortPayload
	}
	newPayload := append([]byte(nil), rec.payload...)
	copy(newPayload[off:off+count], payload[:count])

	final := xctID
	install := installerFunc(func() {
		rec.payload = newPayload
		rec.xct.Store(final)
	})
	if ctx != nil {
		return ctx.RecordWrite(masstree.WriteSetEntry{StorageID: s.ID, OwnerAddr: &rec.xct, RecordPtr: rec, LogPtr: install})
	}
	install.Install()
	return nil
}
