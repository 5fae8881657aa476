package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// semaphore is a channel-based counting semaphore with pre-filled tokens.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	if limit <= 0 {
		limit = 1
	}
	s := &semaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		s.ch <- struct{}{}
	}
	return s
}

func (s *semaphore) acquire() { <-s.ch }

func (s *semaphore) release() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

type batchPlan struct {
	size        int
	concurrency int
	pause       time.Duration
	policy      StopPolicy
}

type batchOutcome struct {
	batches int
	stopped bool
}

// runBatches partitions items [0,n) into consecutive batches. Batches run
// strictly one after another with plan.pause between them; inside a batch at
// most plan.concurrency calls to work run at once and the batch is a join
// point. Under Global a failing item stops every later batch. afterBatch, when
// set, runs after each join with the batch's item range.
func runBatches(ctx context.Context, n int, plan batchPlan, work func(i int) error, afterBatch func(lo, hi int)) batchOutcome {
	size := plan.size
	if size <= 0 {
		size = n
	}
	var out batchOutcome
	var stop atomic.Bool

	for lo := 0; lo < n; lo += size {
		if ctx.Err() != nil {
			out.stopped = true
			return out
		}
		if lo > 0 && plan.pause > 0 {
			t := time.NewTimer(plan.pause)
			select {
			case <-ctx.Done():
				t.Stop()
				out.stopped = true
				return out
			case <-t.C:
			}
		}

		hi := min(lo+size, n)
		sem := newSemaphore(min(plan.concurrency, hi-lo))
		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			sem.acquire()
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.release()
				if err := work(i); err != nil && plan.policy == Global {
					stop.Store(true)
				}
			}(i)
		}
		wg.Wait()
		out.batches++
		if afterBatch != nil {
			afterBatch(lo, hi)
		}
		if stop.Load() {
			out.stopped = true
			return out
		}
	}
	return out
}
