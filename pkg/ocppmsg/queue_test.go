package ocppmsg

import "testing"

func TestQueue_RejectsWhenFull(t *testing.T) {
	q := NewQueue(2)
	if err := q.Push(Pending{ID: "1", Action: ActionMeterValues}); err != nil {
		t.Fatalf("Push 1: %v", err)
	}
	if err := q.Push(Pending{ID: "2", Action: ActionMeterValues}); err != nil {
		t.Fatalf("Push 2: %v", err)
	}
	if err := q.Push(Pending{ID: "3", Action: ActionMeterValues}); err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

func TestQueue_ForcedEvictsOldestNormal(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(Pending{ID: "normal", Action: ActionMeterValues}); err != nil {
		t.Fatalf("Push normal: %v", err)
	}
	if err := q.Push(Pending{ID: "forced", Action: ActionStartTransaction}); err != nil {
		t.Fatalf("Push forced: %v", err)
	}

	p, ok := q.Pop()
	if !ok || p.ID != "forced" {
		t.Fatalf("expected forced entry to pop first, got %+v ok=%v", p, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected normal entry to have been evicted")
	}
}

func TestQueue_ForcedFailsWhenNothingToEvict(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(Pending{ID: "forced-1", Action: ActionStartTransaction}); err != nil {
		t.Fatalf("Push forced-1: %v", err)
	}
	if err := q.Push(Pending{ID: "forced-2", Action: ActionStopTransaction}); err != ErrNoSpace {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1 (forced-2 must not have been appended)", q.Len())
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue(10)
	_ = q.Push(Pending{ID: "a", Action: ActionMeterValues})
	_ = q.Push(Pending{ID: "b", Action: ActionMeterValues})

	p1, _ := q.Pop()
	p2, _ := q.Pop()
	if p1.ID != "a" || p2.ID != "b" {
		t.Fatalf("expected FIFO order a,b; got %s,%s", p1.ID, p2.ID)
	}
}
