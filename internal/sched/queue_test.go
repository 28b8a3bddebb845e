package sched

import "testing"

func TestQueuePriorityOrder(t *testing.T) {
	q := NewReadyQueue()
	q.Enqueue("low", 1)
	q.Enqueue("high", 10)
	q.Enqueue("mid", 5)

	want := []string{"high", "mid", "low"}
	for _, expected := range want {
		id, ok := q.Pop()
		if !ok || id != expected {
			t.Fatalf("expected %s, got %s ok=%v", expected, id, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueueFIFOTieBreak(t *testing.T) {
	q := NewReadyQueue()
	q.Enqueue("first", 3)
	q.Enqueue("second", 3)
	q.Enqueue("third", 3)

	for _, expected := range []string{"first", "second", "third"} {
		id, _ := q.Pop()
		if id != expected {
			t.Fatalf("FIFO tie-break violated: expected %s, got %s", expected, id)
		}
	}
}

func TestQueueDuplicateEnqueueIgnored(t *testing.T) {
	q := NewReadyQueue()
	q.Enqueue("a", 1)
	q.Enqueue("a", 9)
	if q.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", q.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewReadyQueue()
	q.Enqueue("a", 1)
	q.Enqueue("b", 2)

	if !q.Remove("a") {
		t.Fatal("expected removal of a")
	}
	if q.Remove("a") {
		t.Fatal("second removal should report false")
	}
	id, _ := q.Pop()
	if id != "b" {
		t.Fatalf("expected b, got %s", id)
	}
}
