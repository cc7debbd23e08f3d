package sched

import "testing"

func TestScheduleOrdersByTickThenChip(t *testing.T) {
	s := New()
	s.Schedule(2, 10)
	s.Schedule(1, 10)
	s.Schedule(3, 5)

	if got := s.PeekNext(); got != 5 {
		t.Fatalf("PeekNext = %d, want 5", got)
	}
	due := s.PopDue(5)
	if len(due) != 1 || due[0] != 3 {
		t.Fatalf("PopDue(5) = %v, want [3]", due)
	}
	due = s.PopDue(10)
	if len(due) != 2 || due[0] != 1 || due[1] != 2 {
		t.Fatalf("PopDue(10) = %v, want [1 2] (ties broken by chip id)", due)
	}
}

func TestSchedulePendingCollapsesToEarliest(t *testing.T) {
	s := New()
	s.Schedule(1, 100)
	s.Schedule(1, 50) // earlier wins
	s.Schedule(1, 75) // later than current pending (50): ignored

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (one chip, one pending entry)", s.Len())
	}
	if got := s.PeekNext(); got != 50 {
		t.Fatalf("PeekNext = %d, want 50", got)
	}
}

func TestCancelRemovesPendingEntry(t *testing.T) {
	s := New()
	s.Schedule(1, 10)
	s.Schedule(2, 20)
	s.Cancel(1)

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after cancelling chip 1", s.Len())
	}
	due := s.PopDue(100)
	if len(due) != 1 || due[0] != 2 {
		t.Fatalf("PopDue = %v, want [2]", due)
	}
}

func TestCancelUnknownChipIsNoOp(t *testing.T) {
	s := New()
	s.Cancel(42) // must not panic
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestPeekNextEmptyIsInfinite(t *testing.T) {
	s := New()
	if got := s.PeekNext(); got != Infinite {
		t.Fatalf("PeekNext on empty scheduler = %d, want Infinite", got)
	}
}

func TestPopDueLeavesLaterEntriesPending(t *testing.T) {
	s := New()
	s.Schedule(1, 5)
	s.Schedule(2, 15)
	due := s.PopDue(10)
	if len(due) != 1 || due[0] != 1 {
		t.Fatalf("PopDue(10) = %v, want [1]", due)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (chip 2 still pending)", s.Len())
	}
}
