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

// Package messenger implements the process-wide broker through which
// controllers expose named actions (request/response, single handler) and
// named events (fire-and-forget fan-out) without handing out references to
// themselves.
//
// Action and event names follow the two-part convention "<Owner>:<verb>",
// e.g. "AddressBook:contactUpdated". The messenger does not enforce that
// emitters match their declared owner prefix; callers are restricted
// through capability handles (see Restricted) instead.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/metrics"
)

var (
	// ErrHandlerExists is returned when an action name already has a handler.
	// At most one handler may serve an action; a second registration is a
	// wiring bug, not a condition to tolerate.
	ErrHandlerExists = errors.New("action handler already registered")

	// ErrNoHandler is returned when calling an action nobody registered.
	// This fails loudly because it indicates missing wiring, not a
	// transient condition.
	ErrNoHandler = errors.New("no handler registered for action")

	// ErrNotPermitted is returned by a restricted handle for names outside
	// its declared permission set.
	ErrNotPermitted = errors.New("name not in permission set")
)

// ActionHandler serves a single named action. One caller waits for its
// single return value; result and failure propagate to the caller unchanged.
type ActionHandler func(ctx context.Context, args ...any) (any, error)

// EventListener receives event payloads.
type EventListener func(payload any)

// Selector derives a comparison value from an event payload. A subscriber
// with a selector is only invoked when the derived value differs (by value,
// not reference) from the value derived on the previous publish. Selectors
// must be pure.
type Selector func(payload any) any

// eventSubscription tracks one subscriber of one event, including the
// last selector-derived value used for change suppression.
type eventSubscription struct {
	fn       EventListener
	id       uintptr
	selector Selector
	last     any
	hasLast  bool
}

// Messenger is the shared in-process broker. The zero value is not usable;
// construct with New.
type Messenger struct {
	mu      sync.Mutex
	actions map[string]ActionHandler
	events  map[string][]*eventSubscription
	log     *zap.SugaredLogger
}

// New creates an empty messenger.
func New() *Messenger {
	return &Messenger{
		actions: make(map[string]ActionHandler),
		events:  make(map[string][]*eventSubscription),
		log:     logger.For(logger.ComponentMessenger),
	}
}

// RegisterActionHandler binds a handler to an action name. Registration
// fails when the name is already taken.
func (m *Messenger) RegisterActionHandler(name string, handler ActionHandler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for action %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.actions[name]; exists {
		return fmt.Errorf("%w: %q", ErrHandlerExists, name)
	}

	m.actions[name] = handler
	m.log.Debugf("registered action handler %q", name)

	return nil
}

// UnregisterActionHandler removes the handler for an action name. Removing
// an unregistered name is a no-op so controller teardown stays idempotent.
func (m *Messenger) UnregisterActionHandler(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.actions, name)
}

// Call dispatches to the registered handler for name and returns its result
// or failure unchanged. Calling an unregistered name is a caller error and
// fails loudly.
func (m *Messenger) Call(ctx context.Context, name string, args ...any) (any, error) {
	m.mu.Lock()
	handler, ok := m.actions[name]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, name)
	}

	metrics.IncActionCall(name)

	return handler(ctx, args...)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*eventSubscription)

// WithSelector attaches a selector to the subscription. The listener is
// invoked only when the selector's derived value changes between publishes.
func WithSelector(selector Selector) SubscribeOption {
	return func(sub *eventSubscription) {
		sub.selector = selector
	}
}

// Subscribe registers a listener for an event name. Subscribers are
// notified in registration order.
func (m *Messenger) Subscribe(name string, listener EventListener, opts ...SubscribeOption) {
	if listener == nil {
		return
	}

	sub := &eventSubscription{
		fn: listener,
		id: reflect.ValueOf(listener).Pointer(),
	}
	for _, opt := range opts {
		opt(sub)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[name] = append(m.events[name], sub)
}

// Unsubscribe removes the first subscription of listener to the event name.
// It is an idempotent no-op when the listener is not subscribed.
func (m *Messenger) Unsubscribe(name string, listener EventListener) {
	if listener == nil {
		return
	}

	id := reflect.ValueOf(listener).Pointer()

	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.events[name]
	for i, sub := range subs {
		if sub.id == id {
			m.events[name] = append(subs[:i], subs[i+1:]...)

			return
		}
	}
}

// Publish fans the payload out to all current subscribers of the event,
// synchronously and in registration order. Subscribers with a selector are
// skipped when the derived value is unchanged since their previous
// notification of this event.
func (m *Messenger) Publish(name string, payload any) {
	metrics.IncEventPublished(name)

	// A subscriber with a selector receives the derived value; one without
	// receives the payload itself.
	type delivery struct {
		fn  EventListener
		arg any
	}

	// Selector evaluation happens under the lock: selectors are pure by
	// contract, and this keeps the per-subscriber last-value bookkeeping
	// consistent without a second lock.
	m.mu.Lock()
	wave := make([]delivery, 0, len(m.events[name]))

	for _, sub := range m.events[name] {
		if sub.selector == nil {
			wave = append(wave, delivery{fn: sub.fn, arg: payload})

			continue
		}

		derived := sub.selector(payload)
		if sub.hasLast && reflect.DeepEqual(derived, sub.last) {
			continue
		}

		sub.last = derived
		sub.hasLast = true
		wave = append(wave, delivery{fn: sub.fn, arg: derived})
	}
	m.mu.Unlock()

	for _, d := range wave {
		d.fn(d.arg)
	}
}
