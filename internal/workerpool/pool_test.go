package workerpool_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxiproxy/goxiproxy/internal/workerpool"
)

type countingRunner struct {
	seen *int64
}

func (r *countingRunner) Run(v int) {
	atomic.AddInt64(r.seen, 1)
}

func TestPool_ProcessesWorkAcrossWorkers(t *testing.T) {
	ch := make(chan int, 16)
	var seen int64
	p := workerpool.New(4, ch, func() workerpool.Runner[int] {
		return &countingRunner{seen: &seen}
	})
	p.Start()

	for i := 0; i < 10; i++ {
		ch <- i
	}
	close(ch)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&seen) < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt64(&seen); got != 10 {
		t.Fatalf("processed %d items, want 10", got)
	}
}

type panicOnceRunner struct {
	panicked *int64
}

func (r *panicOnceRunner) Run(v int) {
	if atomic.CompareAndSwapInt64(r.panicked, 0, 1) {
		panic("boom")
	}
}

// TestPool_RevivesAPanickingWorkerWithoutLeakingItsSlot ensures a
// panicking worker is replaced at its own index rather than losing a
// slot from the pool, and that the new worker keeps processing work.
func TestPool_RevivesAPanickingWorkerWithoutLeakingItsSlot(t *testing.T) {
	ch := make(chan int)
	var panicked int64
	p := workerpool.New(1, ch, func() workerpool.Runner[int] {
		return &panicOnceRunner{panicked: &panicked}
	})
	p.Start()

	ch <- 1 // triggers the panic inside the sole worker

	deadline := time.Now().Add(2 * time.Second)
	for p.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Active() != 0 {
		t.Fatal("expected the panicking worker to have exited")
	}

	p.Revive()

	deadline = time.Now().Add(2 * time.Second)
	for p.Active() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Active() != 1 {
		t.Fatal("expected revive to restore exactly one worker, not leak the slot")
	}

	ch <- 2 // the revived worker's Runner sees panicked=1 already, so it handles this without panicking
	close(ch)
	if atomic.LoadInt64(&panicked) != 1 {
		t.Fatalf("panicked flag = %d, want 1", panicked)
	}
}
