package array

import (
	"testing"

	"masstree"
	"masstree/xctid"
)

func TestGetRecordOutOfRange(t *testing.T) {
	s := NewStorage(1, "a", 8, 4)
	buf := make([]byte, 8)
	if _, err := s.GetRecord(nil, 4, buf); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if _, err := s.GetRecord(nil, -1, buf); err != ErrOutOfRange {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestGetRecordOnFreshSlotIsEmptyNotDeleted(t *testing.T) {
	s := NewStorage(2, "a", 4, 2)
	buf := make([]byte, 4)
	n, err := s.GetRecord(nil, 0, buf)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4 (zeroed preallocated payload)", n)
	}
}

func TestOverwriteThenGetRecordWithoutContext(t *testing.T) {
	s := NewStorage(3, "a", 8, 4)
	if err := s.OverwriteRecord(nil, 1, []byte("hello!!!"), 0, 8, xctid.New(1, 1)); err != nil {
		t.Fatalf("OverwriteRecord: %v", err)
	}
	buf := make([]byte, 8)
	n, err := s.GetRecord(nil, 1, buf)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(buf[:n]) != "hello!!!" {
		t.Fatalf("got %q, want %q", buf[:n], "hello!!!")
	}
}

func TestOverwriteRecordTooShort(t *testing.T) {
	s := NewStorage(4, "a", 4, 1)
	err := s.OverwriteRecord(nil, 0, []byte("too long value"), 0, 14, xctid.New(1, 1))
	if err != masstree.ErrTooShortPayload {
		t.Fatalf("err = %v, want ErrTooShortPayload", err)
	}
}

func TestOverwriteRecordThroughContextDefersInstall(t *testing.T) {
	s := NewStorage(5, "a", 8, 1)
	var calls int
	ctx := &recordingContext{onWrite: func(masstree.WriteSetEntry) { calls++ }}

	if err := s.OverwriteRecord(ctx, 0, []byte("deferred"), 0, 8, xctid.New(1, 1)); err != nil {
		t.Fatalf("OverwriteRecord: %v", err)
	}
	if calls != 1 {
		t.Fatalf("RecordWrite called %d times, want 1", calls)
	}

	buf := make([]byte, 8)
	n, err := s.GetRecord(nil, 0, buf)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(buf[:n]) == "deferred" {
		t.Fatalf("write installed before the transaction manager called it: got %q", buf[:n])
	}
}

// recordingContext is a minimal masstree.Context stub: it captures writes
// without installing them, letting tests assert install is deferred.
type recordingContext struct {
	onWrite func(masstree.WriteSetEntry)
}

func (c *recordingContext) NumaNode() uint8                      { return 0 }
func (c *recordingContext) RecordRead(masstree.ReadSetEntry)     {}
func (c *recordingContext) RecordWrite(e masstree.WriteSetEntry) error {
	c.onWrite(e)
	return nil
}
func (c *recordingContext) RecordPointer(*masstree.RootPointer, masstree.Page)    {}
func (c *recordingContext) OverwritePointer(*masstree.RootPointer, masstree.Page) {}
