// Package autoscaler adjusts a worker pool's size from observed throughput
// and hard-error signals. One AutoScaler is a single background tick loop;
// it never touches the pool directly, only through the SpawnOne/KillOne
// callbacks it is given, which lets the same implementation drive both the
// download and upload worker pools.
package autoscaler

import (
	"sync"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

// Throttle is the subset of *throttle.State the scaler needs, so it can be
// faked in tests.
type Throttle interface {
	DownloadRate() float64
	ErrorRate() int
}

var _ Throttle = (*throttle.State)(nil)

// AutoScaler owns the tick loop and the current/min/max bookkeeping; it does
// not own worker goroutines.
type AutoScaler struct {
	throttle Throttle
	spawnOne func()
	killOne  func()

	min, max int

	mu                sync.Mutex
	current           int
	lastRate          float64
	noImproveSteps    int
	lastScaleUpTime   time.Time
	lastScaleDownTime time.Time

	stop chan struct{}
	done chan struct{}
}

// New builds an AutoScaler. current is the initial worker count (normally
// equal to min, since the pool starts at its floor and the scaler is the
// only thing that grows it). spawnOne starts exactly one new worker;
// killOne enqueues exactly one sentinel so exactly one idle worker exits.
func New(th Throttle, min, max, current int, spawnOne, killOne func()) *AutoScaler {
	if max < min {
		max = min
	}
	if current < min {
		current = min
	}
	if current > max {
		current = max
	}
	return &AutoScaler{
		throttle: th,
		spawnOne: spawnOne,
		killOne:  killOne,
		min:      min,
		max:      max,
		current:  current,
	}
}

// Start begins the tick loop in its own goroutine. Calling Start twice
// without an intervening Stop has no effect.
func (a *AutoScaler) Start() {
	a.mu.Lock()
	if a.stop != nil {
		a.mu.Unlock()
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	go a.run(stop, done)
}

// Stop ends the tick loop and waits for it to exit.
func (a *AutoScaler) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (a *AutoScaler) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// tick runs one decision-ladder evaluation. Exported as Tick for tests that
// want deterministic control instead of waiting on the real ticker.
func (a *AutoScaler) tick() {
	a.Tick()
}

// Tick evaluates the decision ladder once against the current throttle
// signals. First matching rule wins:
//
//  1. error_rate > 0: if current > min and the down-cooldown has elapsed
//     -> kill one worker; either way no later rule is evaluated.
//  2. rate <= lastRate*PlateauThreshold: count a plateau tick; once
//     PlateauTicks consecutive plateaus have been seen, current > min, and
//     the down-cooldown has elapsed -> kill one worker.
//  3. Otherwise reset the plateau counter; if rate > lastRate*ScaleUpThreshold,
//     the up-cooldown has elapsed, and current < max -> spawn one worker.
//
// lastRate is updated on every tick regardless of which branch fired.
func (a *AutoScaler) Tick() {
	now := time.Now()
	rate := a.throttle.DownloadRate()
	errRate := a.throttle.ErrorRate()

	a.mu.Lock()
	defer a.mu.Unlock()

	if errRate > 0 {
		if a.current > a.min && now.Sub(a.lastScaleDownTime) >= ScaleDownCooldown {
			a.killOne()
			a.current--
			a.lastScaleDownTime = now
		}
		a.lastRate = rate
		return
	}

	if rate <= a.lastRate*PlateauThreshold {
		a.noImproveSteps++
		if a.noImproveSteps >= PlateauTicks && a.current > a.min &&
			now.Sub(a.lastScaleDownTime) >= ScaleDownCooldown {
			a.killOne()
			a.current--
			a.lastScaleDownTime = now
		}
		a.lastRate = rate
		return
	}

	a.noImproveSteps = 0
	if rate > a.lastRate*ScaleUpThreshold && a.current < a.max &&
		now.Sub(a.lastScaleUpTime) >= ScaleUpCooldown {
		a.spawnOne()
		a.current++
		a.lastScaleUpTime = now
	}
	a.lastRate = rate
}

// Current returns the scaler's current worker-count bookkeeping.
func (a *AutoScaler) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
