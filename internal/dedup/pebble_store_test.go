package dedup

import (
	"testing"
	"time"
)

func TestPebbleStore_MarkCheckExpireClear(t *testing.T) {
	now := withFrozenClock(t)
	s, err := NewPebbleStore(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if s.IsDuplicate("o1") {
		t.Fatalf("unseen order should not be a duplicate")
	}
	s.MarkProcessed("o1")
	if !s.IsDuplicate("o1") {
		t.Fatalf("marked order should be a duplicate")
	}
	if s.Size() != 1 {
		t.Fatalf("size should be 1, got %d", s.Size())
	}

	*now = now.Add(2 * time.Second)
	if s.IsDuplicate("o1") {
		t.Fatalf("entry should expire after the TTL")
	}

	s.MarkProcessed("o2")
	s.Clear()
	if s.Size() != 0 {
		t.Fatalf("clear should drop all entries")
	}
}
