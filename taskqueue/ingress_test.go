package taskqueue

import (
	"testing"
)

func TestIngress_fifoAcrossChunks(t *testing.T) {
	var q ingress
	const n = chunkSize*3 + 7

	var got []int
	for i := range n {
		q.Push(task{fn: func() { got = append(got, i) }})
	}
	if q.Len() != n {
		t.Fatalf("expected length %d, got %d", n, q.Len())
	}

	for {
		tk, ok := q.Pop()
		if !ok {
			break
		}
		tk.fn()
	}

	if len(got) != n {
		t.Fatalf("expected %d tasks, got %d", n, len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: expected %d, got %d", i, i, v)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestIngress_interleaved(t *testing.T) {
	var q ingress
	next, expect := 0, 0
	for round := range 10 {
		for range chunkSize/2 + round {
			v := next
			next++
			q.Push(task{fn: func() {
				if v != expect {
					t.Fatalf("expected %d, got %d", expect, v)
				}
				expect++
			}})
		}
		for range chunkSize / 3 {
			tk, ok := q.Pop()
			if !ok {
				t.Fatal("unexpected empty queue")
			}
			tk.fn()
		}
	}
	for {
		tk, ok := q.Pop()
		if !ok {
			break
		}
		tk.fn()
	}
	if expect != next {
		t.Fatalf("expected %d tasks, ran %d", next, expect)
	}
}

func TestIngress_popEmpty(t *testing.T) {
	var q ingress
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty")
	}
	q.Push(task{fn: func() {}})
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected a task")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty")
	}
}
