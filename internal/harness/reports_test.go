package harness

import (
	"sync"
	"testing"
)

func TestReportRingSizing(t *testing.T) {
	for n, want := range map[int]uint64{1: 1, 2: 2, 3: 4, 8: 8, 9: 16} {
		if got := newReportRing(n).capacity; got != want {
			t.Fatalf("newReportRing(%d).capacity = %d, want %d", n, got, want)
		}
	}
}

func TestReportRingSequential(t *testing.T) {
	q := newReportRing(4)
	if _, ok := q.pop(); ok {
		t.Fatalf("pop on empty ring succeeded")
	}
	for i := 0; i < 4; i++ {
		if !q.push(WorkerReport{Worker: i}) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.push(WorkerReport{Worker: 99}) {
		t.Fatalf("push on full ring succeeded")
	}
	for i := 0; i < 4; i++ {
		r, ok := q.pop()
		if !ok || r.Worker != i {
			t.Fatalf("pop = (%d, %v), want (%d, true)", r.Worker, ok, i)
		}
	}
	// slots are reusable on the next lap
	if !q.push(WorkerReport{Worker: 4}) {
		t.Fatalf("push after drain failed")
	}
	if r, ok := q.pop(); !ok || r.Worker != 4 {
		t.Fatalf("pop after wrap = (%d, %v)", r.Worker, ok)
	}
}

// Many producers, one consumer: every report arrives exactly once.
func TestReportRingConcurrent(t *testing.T) {
	const (
		producers = 8
		perProd   = 10_000
	)
	q := newReportRing(64)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				q.pushWait(WorkerReport{Worker: p, Ops: uint64(i)})
			}
		}()
	}

	next := make([]uint64, producers)
	for received := 0; received < producers*perProd; {
		r, ok := q.pop()
		if !ok {
			continue
		}
		// per-producer order survives the ring
		if r.Ops != next[r.Worker] {
			t.Fatalf("producer %d: got %d, want %d", r.Worker, r.Ops, next[r.Worker])
		}
		next[r.Worker]++
		received++
	}
	wg.Wait()

	if _, ok := q.pop(); ok {
		t.Fatalf("ring not empty after all reports were consumed")
	}
}
