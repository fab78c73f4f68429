package masstree

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"masstree/xctid"
)

// S1: get on an empty storage returns KeyNotFound.
func TestScenarioGetOnEmptyStorage(t *testing.T) {
	s := NewStorage(1, "t", 0)
	pool := &fakePool{}
	buf := make([]byte, 16)
	_, err := s.GetRecord(nil, pool, make([]byte, 100), buf)
	if err != ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

// S2/S3: insert_normalized then commit then get_normalized returns it.
func TestScenarioInsertNormalizedThenGet(t *testing.T) {
	s := NewStorage(2, "g", 0)
	pool := &fakePool{}
	slice := KeySlice(12345)
	want := uint64(897565433333126)

	if err := s.InsertNormalized(nil, pool, 0, slice, EncodeNormalizedPayload(want), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertNormalized: %v", err)
	}

	buf := make([]byte, 8)
	n, err := s.GetRecordNormalized(nil, pool, slice, buf)
	if err != nil {
		t.Fatalf("GetRecordNormalized: %v", err)
	}
	if got := DecodeNormalizedPayload(buf[:n]); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

// S4: overwrite_normalized then get_normalized returns the new value.
func TestScenarioOverwriteNormalizedThenGet(t *testing.T) {
	s := NewStorage(2, "g", 0)
	pool := &fakePool{}
	slice := KeySlice(12345)

	if err := s.InsertNormalized(nil, pool, 0, slice, EncodeNormalizedPayload(897565433333126), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertNormalized: %v", err)
	}
	want := uint64(321654987)
	if err := s.OverwriteNormalized(nil, pool, slice, EncodeNormalizedPayload(want), 0, 8); err != nil {
		t.Fatalf("OverwriteNormalized: %v", err)
	}

	buf := make([]byte, 8)
	n, err := s.GetRecordNormalized(nil, pool, slice, buf)
	if err != nil {
		t.Fatalf("GetRecordNormalized: %v", err)
	}
	if got := DecodeNormalizedPayload(buf[:n]); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

// S6: a key longer than 8 bytes sharing its first 8 bytes with a shorter
// key promotes into a next layer, and both remain independently readable.
func TestScenarioSharedPrefixPromotesLayer(t *testing.T) {
	s := NewStorage(3, "layered", 0)
	pool := &fakePool{}

	short := make([]byte, 8)
	for i := range short {
		short[i] = 0xAA
	}
	long := append(append([]byte{}, short...), []byte("tail-bytes")...)

	if err := s.InsertRecord(nil, pool, 0, short, []byte("short-value"), xctid.New(1, 1)); err != nil {
		t.Fatalf("insert short: %v", err)
	}
	if err := s.InsertRecord(nil, pool, 0, long, []byte("long-value"), xctid.New(1, 2)); err != nil {
		t.Fatalf("insert long: %v", err)
	}

	buf := make([]byte, 64)
	n, err := s.GetRecord(nil, pool, short, buf)
	if err != nil {
		t.Fatalf("get short: %v", err)
	}
	if string(buf[:n]) != "short-value" {
		t.Fatalf("short value = %q", buf[:n])
	}

	n, err = s.GetRecord(nil, pool, long, buf)
	if err != nil {
		t.Fatalf("get long: %v", err)
	}
	if string(buf[:n]) != "long-value" {
		t.Fatalf("long value = %q", buf[:n])
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := NewStorage(4, "d", 0)
	pool := &fakePool{}
	key := []byte("some-key")

	if err := s.InsertRecord(nil, pool, 0, key, []byte("v"), xctid.New(1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.DeleteRecord(nil, pool, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := s.GetRecord(nil, pool, key, buf); err != ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestIncrementReadsAddsWrites(t *testing.T) {
	s := NewStorage(5, "counters", 0)
	pool := &fakePool{}
	key := []byte("counter")

	if err := s.InsertRecord(nil, pool, 0, key, EncodeNormalizedPayload(10), xctid.New(1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := Increment[uint64](nil, pool, s, key, 5, 0)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got != 15 {
		t.Fatalf("Increment result = %d, want 15", got)
	}

	buf := make([]byte, 8)
	n, err := s.GetRecord(nil, pool, key, buf)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v := DecodeNormalizedPayload(buf[:n]); v != 15 {
		t.Fatalf("stored value = %d, want 15", v)
	}
}

// S5 (scaled down): concurrent inserts across many distinct normalized
// slices all become visible, each with the value its inserter wrote.
func TestScenarioConcurrentInsertsAllVisible(t *testing.T) {
	s := NewStorage(6, "concurrent", 0)
	pool := &fakePool{}
	const n = 200
	const workers = 4

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			for i := 0; i < n/workers; i++ {
				idx := worker*(n/workers) + i
				slice := KeySlice(idx)
				payload := EncodeNormalizedPayload(uint64(idx))
				xctID := xctid.New(1, uint32(idx+1))
				for {
					err := s.InsertNormalized(nil, pool, 0, slice, payload, xctID)
					if err == nil {
						break
					}
					if err != ErrRetry {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent inserts: %v", err)
	}

	buf := make([]byte, 8)
	for i := 0; i < n; i++ {
		nBytes, err := s.GetRecordNormalized(nil, pool, KeySlice(i), buf)
		if err != nil {
			t.Fatalf("slice %d: %v", i, err)
		}
		if got := DecodeNormalizedPayload(buf[:nBytes]); got != uint64(i) {
			t.Fatalf("slice %d = %d, want %d", i, got, i)
		}
	}
}

func TestScenarioManyKeysTriggerSplitsAndStayReadable(t *testing.T) {
	s := NewStorage(7, "many", 0)
	pool := &fakePool{}
	const n = 500

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := s.InsertRecord(nil, pool, 0, key, []byte(fmt.Sprintf("val-%d", i)), xctid.New(1, uint32(i+1))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	buf := make([]byte, 64)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("val-%d", i)
		nBytes, err := s.GetRecord(nil, pool, key, buf)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if string(buf[:nBytes]) != want {
			t.Fatalf("key %d = %q, want %q", i, buf[:nBytes], want)
		}
	}
}
