package replication

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/oplogreplay/utils/log"
)

const defaultMaxRetryInterval = 30 * time.Second

type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	backoffCoeff int
	maxInterval  time.Duration
}

func NewRetryer(retryFunc func(ctx context.Context) error, interval time.Duration, backoffCoeff int) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		backoffCoeff: backoffCoeff,
		maxInterval:  defaultMaxRetryInterval,
	}
}

// WithMaxInterval caps the interval between two tries.
func (r *Retryer) WithMaxInterval(d time.Duration) *Retryer {
	r.maxInterval = d
	return r
}

// Run tries the Retryer until it succeeds, it returns unretriable error, or the context is canceled.
func (r *Retryer) Run(ctx context.Context) error {
	cnt := -1
	for {
		cnt++
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context canceled")
		default:
			err := r.retryFunc(ctx)
			// success
			if err == nil {
				return nil
			}

			if !errors.Is(err, ErrRetryable) {
				// not retryable error, give up.
				log.Warn("caught a non-retryable error: %v", err)
				return err
			}

			// retryable error. continue
			interval := retryInterval(r.interval, r.backoffCoeff, cnt, r.maxInterval)
			log.Warn("caught a retryable error. It will be retried after an interval:%d[ms], err=%v",
				interval.Milliseconds(), err)
			if !sleep(ctx, nil, interval) {
				return errors.Wrap(ctx.Err(), "context canceled")
			}
		}
	}
}

// retryInterval returns interval * backoffCoeff^retryCount, capped by maxInterval when it is positive.
func retryInterval(interval time.Duration, backoffCoeff, retryCount int, maxInterval time.Duration) time.Duration {
	if backoffCoeff < 1 {
		backoffCoeff = 1
	}
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	intervalMilliSec := float64(interval.Milliseconds())
	d := intervalMilliSec * coeff
	if maxInterval > 0 && d > float64(maxInterval.Milliseconds()) {
		return maxInterval
	}
	return time.Duration(d) * time.Millisecond
}

// sleep waits for d. It returns false when ctx is done or stop is closed first.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
