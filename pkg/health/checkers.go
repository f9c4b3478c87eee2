package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Heartbeat records the last time a background loop made progress.
type Heartbeat struct {
	last atomic.Int64
	now  func() time.Time
}

// NewHeartbeat returns a Heartbeat that counts as beaten at creation.
func NewHeartbeat() *Heartbeat {
	hb := &Heartbeat{now: time.Now}
	hb.Beat()
	return hb
}

// Beat marks progress.
func (hb *Heartbeat) Beat() {
	hb.last.Store(hb.now().UnixNano())
}

// Check fails when no beat was seen within maxAge.
func (hb *Heartbeat) Check(maxAge time.Duration) CheckFunc {
	return func(context.Context) error {
		last := time.Unix(0, hb.last.Load())
		if age := hb.now().Sub(last); age > maxAge {
			return errors.Errorf("no heartbeat for %s", age.Truncate(time.Second))
		}
		return nil
	}
}
