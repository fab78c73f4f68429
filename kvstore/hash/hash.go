// Package hash implements the Hash storage kind: arbitrary-byte-key
// records in a bucket table, sharing the masstree core's OCC contract
// (spec.md §1, §6). Bucket concurrency here is a single map guarded by a
// RWMutex rather than the original's per-bucket chained latch-free table —
// a deliberate simplification (see DESIGN.md "hash storage") since the
// core's hard engineering (page version protocol, foster splits) lives in
// masstree, not here.
package hash

import (
	"sync"

	"masstree"
	"masstree/xctid"
)

type record struct {
	xct     xctid.Word
	payload []byte
}

type installerFunc func()

func (f installerFunc) Install() { f() }

// Storage is one Hash index.
type Storage struct {
	ID   uint32
	Name string

	mu      sync.RWMutex
	buckets map[string]*record
}

func NewStorage(id uint32, name string) *Storage {
	return &Storage{ID: id, Name: name, buckets: make(map[string]*record)}
}

func (s *Storage) GetRecord(ctx masstree.Context, key []byte, buf []byte) (int, error) {
	s.mu.RLock()
	rec, ok := s.buckets[string(key)]
	s.mu.RUnlock()
	if !ok {
		return 0, masstree.ErrKeyNotFound
	}

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

func (s *Storage) InsertRecord(ctx masstree.Context, key, payload []byte, xctID xctid.XctId) error {
	s.mu.Lock()
	if _, exists := s.buckets[string(key)]; exists {
		s.mu.Unlock()
		return masstree.ErrAlreadyExists
	}
	rec := &record{payload: append([]byte(nil), payload...)}
	rec.xct.Store(xctID.WithDeleted(true))
	s.buckets[string(key)] = rec
	s.mu.Unlock()

	final := xctID.WithDeleted(false)
	install := installerFunc(func() { rec.xct.Store(final) })
	if ctx != nil {
		return ctx.RecordWrite(masstree.WriteSetEntry{StorageID: s.ID, OwnerAddr: &rec.xct, RecordPtr: rec, LogPtr: install})
	}
	install.Install()
	return nil
}

func (s *Storage) DeleteRecord(ctx masstree.Context, key []byte) error {
	s.mu.RLock()
	rec, ok := s.buckets[string(key)]
	s.mu.RUnlock()
	if !ok {
		return masstree.ErrKeyNotFound
	}

	before := rec.xct.Load()
	if before.IsDeleted() {
		return masstree.ErrKeyNotFound
	}
	final := before.NextOrdinal().WithDeleted(true)
	install := installerFunc(func() { rec.xct.Store(final) })
	if ctx != nil {
		return ctx.RecordWrite(masstree.WriteSetEntry{StorageID: s.ID, OwnerAddr: &rec.xct, RecordPtr: rec, LogPtr: install})
	}
	install.Install()
	return nil
}
