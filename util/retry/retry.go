package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	DefaultRetry    = Retry{Base: 2, Cap: 4, Tries: 3}
	ErrOutOfRetries = errors.New("tried too many times")
)

type Retry struct {
	Base  int // Min amount of time to sleep per iteration
	Cap   int // Max amount of time to sleep per iteration
	Tries int // Number of times to retry
}

// Sleep blocks for a random duration bounded by the exponential backoff for iteration i.
func (r Retry) Sleep(ctx context.Context, i int) {
	powerInt := func(x, y int) int {
		ret := 1
		for i := 0; i < y; i++ {
			ret *= x
		}
		return ret
	}

	sleepFor := rand.Intn(min(r.Cap, r.Base*powerInt(2, i)) + 1)

	t := time.NewTimer(time.Duration(sleepFor) * time.Second)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RetryFunc calls f until it succeeds, shouldRetry returns false, or the retries are used up
func RetryFunc(ctx context.Context, f func(ctx context.Context) error, shouldRetry func(error) bool, r Retry) error {
	var err error
	for i := 0; i < r.Tries; i++ {
		err = f(ctx)
		if err == nil {
			return nil
		}

		if !shouldRetry(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.Sleep(ctx, i)
	}
	return ErrOutOfRetries
}
