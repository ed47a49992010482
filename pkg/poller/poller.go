// Copyright 2025 Statekit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package poller implements the interval-driven refresh pattern used by
// every controller that pulls data from an external source on a timer.
//
// This package is responsible for:
// - Driving periodic refresh cycles with a restartable stopped/running lifecycle
// - Guaranteeing mutual exclusion between refresh executions (a queue of one)
// - Absorbing refresh failures so a single failed fetch never kills the process
// - Backing off after repeated failures so a broken upstream is not hammered
//
// Mutual exclusion exists because responses can arrive out of order or
// slowly: without the guard, a slower in-flight fetch could race a newer
// one and overwrite fresh data with stale data.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/constants"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/metrics"
	"github.com/statekit/statekit/pkg/sentry"
)

// Lifecycle states and events of the poller state machine.
const (
	StateStopped = "stopped"
	StateRunning = "running"

	eventStart = "start"
	eventStop  = "stop"
)

// RefreshFunc is the injected refresh body. It fetches from the external
// source and applies the result to the owning controller's state. Transport
// is never hardcoded here; controllers inject whatever fetch they need.
type RefreshFunc func(ctx context.Context) error

// Settings holds parameters for setting up a poller.
type Settings struct {
	// Name identifies the poller in logs and metrics, conventionally the
	// owning controller's name.
	Name string

	// Refresh is the refresh body. Required.
	Refresh RefreshFunc

	// RefreshTimeout bounds a single refresh cycle. Defaults to
	// constants.DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	// Disabled, when non-nil, is consulted before each internally-triggered
	// cycle; a true return short-circuits the tick before any work is done.
	// Usually wired to the owning container's Disabled method.
	Disabled func() bool
}

// Poller drives periodic refresh cycles under mutual exclusion.
//
// The lifecycle is stopped → running → stopped and restartable; Start on a
// running poller cleanly replaces the previous timer so duplicate timers
// never coexist for one instance.
type Poller struct {
	settings Settings
	log      *zap.SugaredLogger

	// machine tracks the stopped/running lifecycle.
	machine *fsm.FSM

	// refreshMu is the exclusive-execution guard. Refresh bodies for one
	// poller are totally ordered by it; an overlapping trigger blocks until
	// the in-flight refresh completes.
	refreshMu sync.Mutex

	// mu guards the timer bookkeeping (stopCh, wg) against concurrent
	// Start/Stop calls.
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	// boff delays retries after consecutive failures; a successful refresh
	// resets it.
	boff        *backoff.ExponentialBackOff
	notBeforeMu sync.Mutex
	notBefore   time.Time
}

// New creates a poller in the stopped state.
func New(settings Settings) (*Poller, error) {
	if settings.Refresh == nil {
		return nil, fmt.Errorf("poller %q requires a refresh function", settings.Name)
	}

	if settings.RefreshTimeout <= 0 {
		settings.RefreshTimeout = constants.DefaultRefreshTimeout
	}

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 0 // never give up, the poller outlives any outage

	p := &Poller{
		settings: settings,
		log:      logger.For(logger.ComponentPoller).Named(settings.Name),
		boff:     boff,
	}

	p.machine = fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{StateStopped}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.SetPollerRunning(metrics.ComponentPoller, settings.Name, e.Dst == StateRunning)
				p.log.Debugf("poller transitioned %s -> %s", e.Src, e.Dst)
			},
		},
	)

	metrics.InitErrorCounter(metrics.ComponentPoller, settings.Name)

	return p, nil
}

// Running reports whether the poller is in the running state.
func (p *Poller) Running() bool {
	return p.machine.Is(StateRunning)
}

// Start begins polling at the given interval. The first refresh runs
// immediately rather than after a full interval, so consumers get data as
// soon as possible. Starting a running poller replaces its timer: the old
// loop is stopped first and no two timers ever coexist.
func (p *Poller) Start(interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.machine.Is(StateRunning) {
		p.stopLoopLocked()
		// Wait for the old loop to exit so two timers never coexist, not
		// even for the duration of one in-flight refresh.
		p.wg.Wait()
	}

	if err := p.machine.Event(context.Background(), eventStart); err != nil {
		// Only reachable if the machine is mid-transition, which the outer
		// mutex rules out.
		p.log.Errorf("failed to start poller: %v", err)

		return
	}

	stopCh := make(chan struct{})
	p.stopCh = stopCh

	p.wg.Add(1)

	go p.loop(interval, stopCh)
}

// loop performs the immediate first refresh, then ticks until stopped.
func (p *Poller) loop(interval time.Duration, stopCh chan struct{}) {
	defer p.wg.Done()

	p.tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Both channels may be ready at once; prefer the stop signal.
			select {
			case <-stopCh:
				return
			default:
			}

			p.tick()
		}
	}
}

// tick runs one internally-triggered cycle: it honors the disabled gate and
// the failure backoff window, then refreshes under the guard.
func (p *Poller) tick() {
	if p.settings.Disabled != nil && p.settings.Disabled() {
		p.log.Debugf("poller disabled, skipping tick")

		return
	}

	p.notBeforeMu.Lock()
	waiting := time.Now().Before(p.notBefore)
	p.notBeforeMu.Unlock()

	if waiting {
		p.log.Debugf("in failure backoff window, skipping tick")

		return
	}

	p.Refresh()
}

// Refresh executes one refresh cycle under the exclusive guard and absorbs
// any failure. If another refresh is in flight the call blocks until it
// completes, then runs; the caller therefore always observes the previous
// cycle's completed effect. Exported so controllers can force a refresh
// outside the timer (e.g. right after a config change).
func (p *Poller) Refresh() {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.ObserveRefreshTime(metrics.ComponentPoller, p.settings.Name, time.Since(start))
	}()

	err := p.runGuarded()
	if err == nil {
		p.boff.Reset()
		p.notBeforeMu.Lock()
		p.notBefore = time.Time{}
		p.notBeforeMu.Unlock()

		return
	}

	// Transient by contract: log, count, report, discard. State keeps its
	// last successfully-fetched value and future ticks continue.
	metrics.IncRefreshFailure(metrics.ComponentPoller, p.settings.Name)
	sentry.ReportPollerWarning(p.log, p.settings.Name, err)

	next := p.boff.NextBackOff()
	p.notBeforeMu.Lock()
	p.notBefore = time.Now().Add(next)
	p.notBeforeMu.Unlock()

	p.log.Warnf("refresh failed, backing off %s: %v", next, err)
}

// runGuarded invokes the refresh body with a bounded context and converts
// panics into errors so a malformed response cannot crash the process.
func (p *Poller) runGuarded() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.settings.RefreshTimeout)
	defer cancel()

	return p.settings.Refresh(ctx)
}

// Stop clears the timer. An in-flight refresh is allowed to finish under
// the guard, but no new tick is scheduled. Stopping a stopped poller is a
// no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.machine.Is(StateRunning) {
		return
	}

	p.stopLoopLocked()
}

// stopLoopLocked signals the loop goroutine and transitions the machine.
// Callers must hold p.mu.
func (p *Poller) stopLoopLocked() {
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}

	if err := p.machine.Event(context.Background(), eventStop); err != nil {
		p.log.Errorf("failed to stop poller: %v", err)
	}
}

// Destroy stops the poller and waits for the loop goroutine and any
// in-flight refresh to finish, releasing all held resources. The poller
// may be started again afterwards, but Destroy is the teardown path.
func (p *Poller) Destroy() {
	p.Stop()
	p.wg.Wait()
}
