package engine

import (
	"sync/atomic"
	"time"
)

// Base timeout durations, multiplied by the configured timeout scale.
const (
	DefaultPingTimeout          = 10 * time.Second
	DefaultIdleTimeout          = 15 * time.Second
	DefaultQuitTimeout          = 5 * time.Second
	DefaultProtocolStartTimeout = 35 * time.Second
	xboardInitGrace             = 2 * time.Second
)

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manually advanced clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Counter hands out session ids. One is owned by the orchestrator and shared by the sessions it creates.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Next() int { return int(c.n.Add(1)) }

// sessionTimer is a one-shot, restartable timer whose expiry runs on the session loop.
// Expiries that were scheduled before the last start or stop are discarded.
type sessionTimer struct {
	s        *Session
	name     string
	base     time.Duration
	interval time.Duration
	gen      uint64
	active   bool
	handle   Stopper
	fire     func()
}

func (s *Session) newTimer(name string, base time.Duration, fire func()) *sessionTimer {
	t := &sessionTimer{s: s, name: name, base: base, interval: base, fire: fire}
	s.timers = append(s.timers, t)
	return t
}

func (t *sessionTimer) scale(f float64) {
	t.interval = time.Duration(float64(t.base) * f)
}

func (t *sessionTimer) start() { t.startWith(t.interval) }

func (t *sessionTimer) startWith(d time.Duration) {
	t.stop()
	gen := t.gen
	t.active = true
	t.handle = t.s.clock.AfterFunc(d, func() {
		t.s.post(func() {
			if t.gen != gen || !t.active {
				return
			}
			t.active = false
			t.handle = nil
			t.fire()
		})
	})
}

func (t *sessionTimer) stop() {
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
	t.active = false
	t.gen++
}
