package ringbuf

import (
	"sync"
	"testing"
	"time"

	"klinecore/internal/model"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New[model.Bar](4)

	if !r.Push(model.Bar{Timestamp: 1, Open: 100}) {
		t.Fatal("push 1 should succeed")
	}
	if !r.Push(model.Bar{Timestamp: 2, Open: 200}) {
		t.Fatal("push 2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Timestamp != 1 {
		t.Fatalf("expected bar 1, got %v ok=%v", got.Timestamp, ok)
	}

	got, ok = r.Pop()
	if !ok || got.Timestamp != 2 {
		t.Fatalf("expected bar 2, got %v ok=%v", got.Timestamp, ok)
	}

	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New[int](2)

	r.Push(1)
	r.Push(2)

	if r.Push(3) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
	if v, _ := r.Pop(); v != 1 {
		t.Fatalf("expected the oldest value kept, got %d", v)
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New[int](4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(round*10 + i) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			v, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if v != round*10+i {
				t.Fatalf("round %d pop %d: expected %d, got %d", round, i, round*10+i, v)
			}
		}
	}
}

func TestRing_Drain(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	var got []int
	if n := r.Drain(func(v int) { got = append(got, v) }); n != 5 {
		t.Fatalf("expected 5 drained, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("at %d: expected %d, got %d", i, i, v)
		}
	}
	if r.Len() != 0 {
		t.Errorf("expected empty ring, len=%d", r.Len())
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New[int64](1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(int64(i)) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	received := make([]int64, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			if v, ok := r.Pop(); ok {
				received = append(received, v)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	for i, v := range received {
		if v != int64(i) {
			t.Fatalf("at index %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
