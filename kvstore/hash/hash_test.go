package hash

import (
	"testing"

	"masstree"
	"masstree/xctid"
)

func TestGetRecordOnMissingKey(t *testing.T) {
	s := NewStorage(1, "h")
	buf := make([]byte, 8)
	if _, err := s.GetRecord(nil, []byte("nope"), buf); err != masstree.ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestInsertThenGetRecord(t *testing.T) {
	s := NewStorage(2, "h")
	if err := s.InsertRecord(nil, []byte("k1"), []byte("v1"), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	buf := make([]byte, 8)
	n, err := s.GetRecord(nil, []byte("k1"), buf)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(buf[:n]) != "v1" {
		t.Fatalf("got %q, want %q", buf[:n], "v1")
	}
}

func TestInsertRecordRejectsDuplicateKey(t *testing.T) {
	s := NewStorage(3, "h")
	if err := s.InsertRecord(nil, []byte("k1"), []byte("v1"), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := s.InsertRecord(nil, []byte("k1"), []byte("v2"), xctid.New(1, 2)); err != masstree.ErrAlreadyExists {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestDeleteThenGetRecordNotFound(t *testing.T) {
	s := NewStorage(4, "h")
	if err := s.InsertRecord(nil, []byte("k1"), []byte("v1"), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := s.DeleteRecord(nil, []byte("k1")); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := s.GetRecord(nil, []byte("k1"), buf); err != masstree.ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestDeleteRecordOnMissingKey(t *testing.T) {
	s := NewStorage(5, "h")
	if err := s.DeleteRecord(nil, []byte("ghost")); err != masstree.ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestDeleteRecordTwiceFailsSecondTime(t *testing.T) {
	s := NewStorage(6, "h")
	if err := s.InsertRecord(nil, []byte("k1"), []byte("v1"), xctid.New(1, 1)); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := s.DeleteRecord(nil, []byte("k1")); err != nil {
		t.Fatalf("first DeleteRecord: %v", err)
	}
	if err := s.DeleteRecord(nil, []byte("k1")); err != masstree.ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}
