package signalr

import "time"

// ticker abstracts time.Ticker so tests can drive watchdog and heartbeat
// timing deterministically with a fake implementation.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) ticker { return &timeTicker{t: time.NewTicker(d)} }
func (t *timeTicker) C() <-chan time.Time  { return t.t.C }
func (t *timeTicker) Stop()                { t.t.Stop() }
