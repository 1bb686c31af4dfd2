package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestMPSCDeliversInOrder tests push and receive with a single producer
func TestMPSCDeliversInOrder(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %d", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %d", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestMPSCConcurrentProducers verifies that no value is lost or duplicated
func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 1000
	total := producers * perProducer

	done := make(chan map[int]int)
	go func() {
		seen := make(map[int]int, total)
		for len(seen) < total {
			select {
			case val := <-q.Recv():
				seen[val]++
			case <-time.After(2 * time.Second):
				done <- seen
				return
			}
		}
		done <- seen
	}()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p * perProducer)
	}
	wg.Wait()

	seen := <-done
	if len(seen) != total {
		t.Fatalf("Expected %d distinct items, got %d", total, len(seen))
	}
	for val, count := range seen {
		if count != 1 {
			t.Errorf("Item %d received %d times", val, count)
		}
	}
}

// TestMPSCClose verifies that queued values survive Close and the channel closes afterwards
func TestMPSCClose(t *testing.T) {
	q := NewMPSC[string]()

	for _, s := range []string{"a", "b", "c"} {
		q.Push(s)
	}
	if q.Len() > 3 {
		t.Errorf("Expected at most 3 queued items, got %d", q.Len())
	}

	q.Close()
	if !q.IsClosed() {
		t.Error("Queue should report closed")
	}
	if q.Push("d") {
		t.Error("Should not be able to push after close")
	}

	var got []string
	for val := range q.Recv() {
		got = append(got, val)
	}
	if !equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", got)
	}
}

// BenchmarkMPSCParallelPush benchmarks pushes from many goroutines
func BenchmarkMPSCParallelPush(b *testing.B) {
	q := NewMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
