package engine

import (
	"context"

	"github.com/sharedcode/kvtxn"
)

// RetryOnConflict runs fn, retrying on TXN_CONFLICT with the same
// randomized backoff the teacher's two-phase commit loop uses between
// failed lock attempts (common/two_phase_commit_transaction.go's
// `sop.RandomSleep(ctx)` inside a `for !successful` loop), up to attempts
// tries. Any other error from fn is returned immediately without retrying.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !kvtxn.Is(err, kvtxn.TxnConflict) {
			return err
		}
		kvtxn.RandomSleep(ctx)
	}
	return err
}

// RunConcurrent fans fn out across n goroutines bounded by a TaskRunner
// (concurrency capped at maxInFlight, unbounded if <= 0 — the same
// fire-and-Wait shape the teacher uses to replicate a commit's changes to
// several targets at once) and waits for all of them, returning one
// per-goroutine error in call order.
func RunConcurrent(ctx context.Context, n, maxInFlight int, fn func(i int) error) []error {
	tr := kvtxn.NewTaskRunner(ctx, maxInFlight)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		tr.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}
	tr.Wait()
	return errs
}
