package ringbuf

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRing_CapacityTwoLIFO(t *testing.T) {
	r := New[string](2)
	r.Push("E1")
	r.Push("E2")
	if evicted := r.Push("E3"); !evicted {
		t.Error("third push into capacity 2 did not evict")
	}

	for _, want := range []string{"E3", "E2"} {
		got, err := r.PopNewest()
		if err != nil {
			t.Fatalf("PopNewest failed: %v", err)
		}
		if got != want {
			t.Errorf("PopNewest = %q, want %q", got, want)
		}
	}
	if _, err := r.PopNewest(); !errors.Is(err, ErrBufferEmpty) {
		t.Errorf("err = %v, want ErrBufferEmpty", err)
	}
}

func TestRing_HoldsNewest(t *testing.T) {
	tests := []struct {
		capacity, pushes int
	}{
		{1, 5},
		{3, 3},
		{3, 10},
		{5, 2},
	}
	for _, tt := range tests {
		r := New[int](tt.capacity)
		for i := 1; i <= tt.pushes; i++ {
			r.Push(i)
		}

		wantLen := min(tt.capacity, tt.pushes)
		if r.Len() != wantLen {
			t.Errorf("cap=%d pushes=%d: Len = %d, want %d", tt.capacity, tt.pushes, r.Len(), wantLen)
		}
		for want := tt.pushes; want > tt.pushes-wantLen; want-- {
			got, err := r.PopNewest()
			if err != nil || got != want {
				t.Fatalf("cap=%d pushes=%d: PopNewest = %d, %v; want %d", tt.capacity, tt.pushes, got, err, want)
			}
		}
		if r.Len() != 0 {
			t.Errorf("Len after draining = %d", r.Len())
		}

		s := r.Stats()
		if s.Pushes != int64(tt.pushes) || s.Evictions != int64(tt.pushes-wantLen) || s.Pops != int64(wantLen) {
			t.Errorf("stats = %+v", s)
		}
	}
}

func TestRing_InterleavedPushPop(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	r.Push(2)
	if v, _ := r.PopNewest(); v != 2 {
		t.Fatalf("PopNewest = %d, want 2", v)
	}
	r.Push(3)
	r.Push(4)
	r.Push(5) // evicts 1
	for _, want := range []int{5, 4, 3} {
		if v, err := r.PopNewest(); err != nil || v != want {
			t.Fatalf("PopNewest = %d, %v; want %d", v, err, want)
		}
	}
}

func TestRing_ChangedWakesWaiter(t *testing.T) {
	r := New[int](2)
	changed := r.Changed()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Push(1)
	}()

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("Changed not closed by Push")
	}
	if v, err := r.PopNewest(); err != nil || v != 1 {
		t.Errorf("PopNewest = %d, %v", v, err)
	}
}

func TestRing_ConcurrentPushPop(t *testing.T) {
	r := New[int](8)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_, _ = r.PopNewest()
			}
		}()
	}
	wg.Wait()
	if r.Len() > r.Cap() {
		t.Errorf("Len %d exceeds capacity %d", r.Len(), r.Cap())
	}
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(0) did not panic")
		}
	}()
	New[int](0)
}
