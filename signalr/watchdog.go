package signalr

import (
	"sync"
	"sync/atomic"
	"time"
)

// WatchdogConfig configures one feed category's staleness detector. A
// zero Timeout leaves the category unmonitored.
type WatchdogConfig struct {
	Timeout   time.Duration
	Reconnect bool // true: trigger a reconnect. false: log only.
}

// watchdog monitors time since the last message of one feed category and
// fires at most once per arm cycle when it has gone stale.
type watchdog struct {
	name   string
	cfg    WatchdogConfig
	logger Logger
	onFire func()

	newTicker func(time.Duration) ticker

	lastMsg atomic.Int64 // unix nano
	armed   atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
}

func newWatchdog(name string, cfg WatchdogConfig, logger Logger, onFire func()) *watchdog {
	return &watchdog{
		name:      name,
		cfg:       cfg,
		logger:    logger,
		onFire:    onFire,
		newTicker: func(d time.Duration) ticker { return newTimeTicker(d) },
	}
}

// arm starts the timer and resets the staleness clock. On a watchdog that
// is already armed it does nothing. A watchdog is armed at first successful subscription
// to its feed, and re-armed after every reconnect.
func (w *watchdog) arm() {
	if w.cfg.Timeout <= 0 {
		return
	}
	if !w.armed.CompareAndSwap(false, true) {
		return
	}
	w.touch()
	w.mu.Lock()
	stop := make(chan struct{})
	w.stopCh = stop
	w.mu.Unlock()
	go w.run(stop)
}

// disarm stops the timer. Called on disconnect.
func (w *watchdog) disarm() {
	if !w.armed.CompareAndSwap(true, false) {
		return
	}
	w.mu.Lock()
	stop := w.stopCh
	w.stopCh = nil
	w.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// touch records that a message for this feed category just arrived.
func (w *watchdog) touch() {
	w.lastMsg.Store(time.Now().UnixNano())
}

func (w *watchdog) run(stopCh chan struct{}) {
	t := w.newTicker(w.cfg.Timeout)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-t.C():
			last := time.Unix(0, w.lastMsg.Load())
			if now.Sub(last) >= w.cfg.Timeout {
				w.fire()
			}
		}
	}
}

func (w *watchdog) fire() {
	if w.cfg.Reconnect {
		w.logger.Warnf("signalr: watchdog %s stale, reconnecting", w.name)
		w.onFire()
		return
	}
	w.logger.Warnf("signalr: watchdog %s stale", w.name)
	w.touch() // rearm the window so a log-only watchdog doesn't fire every tick
}
