package kvtxn

import (
	"context"
	"math/rand"
	"time"
)

// jitterRNG is the random source used for conflict-retry sleep jitter.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for sleep jitter. Useful for
// deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Now returns the current time. Centralized so tests can observe or, in the
// future, stub the clock.
func Now() time.Time {
	return time.Now()
}

// Sleep blocks for the given duration or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	<-t.Done()
}

// RandomSleep staggers conflicting retries with a small random delay between
// 20ms and 80ms.
func RandomSleep(ctx context.Context) {
	mult := jitterRNG.Intn(4) + 1
	Sleep(ctx, time.Duration(mult)*20*time.Millisecond)
}
