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

// Package container implements the per-controller config/state holder that
// every statekit controller is built on.
//
// This package is responsible for:
// - Holding one controller's Config and State with merge/overwrite update semantics
// - Notifying subscribed listeners synchronously on every state mutation
// - Enforcing the state/metadata invariant (every field carries persistence metadata)
// - Providing the disabled flag that short-circuits a controller's internal triggers
//
// Each controller exclusively owns its Config and State. No other component
// mutates them directly; all external influence goes through the controller's
// own update-triggering methods, invoked either directly via the registry or
// through the messenger's action/event mechanism.
package container

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/metrics"
)

// Settings holds the declared identity and defaults of a container.
type Settings struct {
	// Name is the controller's registry and namespace key. Must be unique
	// within one composition.
	Name string

	// DefaultConfig and DefaultState are the declared defaults. Partial
	// config/state supplied at construction merges onto these, so the
	// container never starts with a missing declared field.
	DefaultConfig Config
	DefaultState  State

	// Metadata declares persistence and anonymity per state field. Every
	// default state field and every initial-state field must have an entry.
	Metadata StateMetadata

	// RequiredControllers lists sibling names that must be present in the
	// composition. Checked by the registry before any controller runs.
	RequiredControllers []string
}

// listenerEntry pairs a listener with its comparable identity so that
// unsubscribe can remove the exact function reference that was subscribed.
type listenerEntry struct {
	fn Listener
	id uintptr
}

// BaseContainer is the generic config/state holder. It implements the full
// Controller contract; leaf controllers embed it and add domain operations.
//
// Locking: the mutex guards config, state and the listener list. Listener
// callbacks run outside the lock so a listener may read the container's
// state or trigger further updates without deadlocking. Notification for a
// given Update call still completes before Update returns.
type BaseContainer struct {
	mu        sync.Mutex
	name      string
	config    Config
	state     State
	metadata  StateMetadata
	required  []string
	listeners []listenerEntry
	disabled  atomic.Bool
	log       *zap.SugaredLogger
}

// NewBaseContainer builds a container from its settings plus optional
// partial config and state. Both partials merge onto the declared defaults.
// It fails when a state field (default or initial) has no metadata entry,
// because a field without persistence metadata cannot be snapshotted safely.
func NewBaseContainer(settings Settings, initialConfig Config, initialState State) (*BaseContainer, error) {
	if settings.Name == "" {
		return nil, fmt.Errorf("container requires a non-empty name")
	}

	cfg := make(Config, len(settings.DefaultConfig)+len(initialConfig))
	mergeInto(cfg, settings.DefaultConfig)
	mergeInto(cfg, initialConfig)

	state := make(State, len(settings.DefaultState)+len(initialState))
	mergeInto(state, settings.DefaultState)
	mergeInto(state, initialState)

	metadata := settings.Metadata
	if metadata == nil {
		metadata = StateMetadata{}
	}

	for field := range state {
		if _, ok := metadata[field]; !ok {
			return nil, fmt.Errorf("state field %q of controller %q has no metadata entry", field, settings.Name)
		}
	}

	metrics.InitErrorCounter(metrics.ComponentContainer, settings.Name)

	return &BaseContainer{
		name:     settings.Name,
		config:   cfg,
		state:    state,
		metadata: metadata,
		required: settings.RequiredControllers,
		log:      logger.For(settings.Name),
	}, nil
}

// Name returns the controller's registry and namespace key.
func (c *BaseContainer) Name() string {
	return c.name
}

// Metadata returns the declared state field metadata.
func (c *BaseContainer) Metadata() StateMetadata {
	return c.metadata
}

// RequiredControllers lists sibling names this controller depends on.
func (c *BaseContainer) RequiredControllers() []string {
	return c.required
}

// Disabled reports whether internal triggers are short-circuited.
func (c *BaseContainer) Disabled() bool {
	return c.disabled.Load()
}

// SetDisabled toggles the disabled flag. The flag only gates the
// controller's own triggers (poll ticks); it does not block Update or
// Configure calls issued from outside.
func (c *BaseContainer) SetDisabled(disabled bool) {
	c.disabled.Store(disabled)
}

// Config returns a deep-copied snapshot of the current configuration.
func (c *BaseContainer) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copyConfig(c.config, c.log)
}

// Configure merges the partial config onto the current one (new values win
// at the top-level key), or replaces it entirely when overwrite is set.
// Unknown keys are stored as-is; they are the controller's business.
func (c *BaseContainer) Configure(partial Config, overwrite bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if overwrite {
		c.config = make(Config, len(partial))
	}

	mergeInto(c.config, partial)
}

// State returns a deep-copied snapshot of the current state. Callers may
// mutate the returned map freely without affecting the container.
func (c *BaseContainer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copyState(c.state, c.log)
}

// Update applies a partial state mutation and synchronously notifies every
// subscribed listener, in subscription order, with a snapshot of the new
// state. With overwrite set, the partial replaces the state entirely and
// fields not present vanish.
//
// Listener panics are not recovered here: a panicking listener is the
// subscriber's bug. Listeners registered earlier in the wave have already
// run when the panic propagates; later ones are skipped.
func (c *BaseContainer) Update(partial State, overwrite bool) {
	c.mu.Lock()

	if overwrite {
		c.state = make(State, len(partial))
	}

	for key, value := range partial {
		if _, ok := c.metadata[key]; !ok {
			// The state/metadata invariant is a configuration error, not a
			// runtime condition. Surface it loudly but keep the update so
			// the caller's view of state semantics stays intact.
			metrics.IncErrorCount(metrics.ComponentContainer, c.name)
			c.log.Errorf("state field %q has no metadata entry; declare it in the controller's StateMetadata", key)
		}

		c.state[key] = value
	}

	snapshot := copyState(c.state, c.log)
	wave := make([]listenerEntry, len(c.listeners))
	copy(wave, c.listeners)
	c.mu.Unlock()

	metrics.IncStateUpdate(metrics.ComponentContainer, c.name)

	start := time.Now()
	defer func() {
		metrics.ObserveNotifyTime(metrics.ComponentContainer, c.name, time.Since(start))
	}()

	for _, entry := range wave {
		entry.fn(snapshot)
	}
}

// Subscribe registers a listener. Subscribing the same function twice is
// allowed and yields two notifications per update; that is the caller's
// explicit choice, not something the container deduplicates.
func (c *BaseContainer) Subscribe(listener Listener) {
	if listener == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, listenerEntry{
		fn: listener,
		id: reflect.ValueOf(listener).Pointer(),
	})
}

// Unsubscribe removes the first subscription whose function identity matches
// the given listener. It is a no-op if the listener was never subscribed.
func (c *BaseContainer) Unsubscribe(listener Listener) {
	if listener == nil {
		return
	}

	id := reflect.ValueOf(listener).Pointer()

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.listeners {
		if entry.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)

			return
		}
	}
}

// ConfigValue reads a typed option from a controller's configuration. The
// second return reports whether the option exists and has the requested
// type. This is the direct convenience read path for recognized options.
func ConfigValue[T any](ctrl Controller, key string) (T, bool) {
	var zero T

	value, ok := ctrl.Config()[key]
	if !ok {
		return zero, false
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false
	}

	return typed, true
}

// mergeInto applies src onto dst key by key. Nested mappings are replaced
// wholesale at the top-level key, never merged recursively.
func mergeInto[M ~map[string]any](dst, src M) {
	for key, value := range src {
		dst[key] = value
	}
}

// copyState deep-copies a state map. On copy failure (which would indicate
// an uncopyable value like a channel stored in state) the original map is
// returned so callers still see current data; the failure is logged.
func copyState(state State, log *zap.SugaredLogger) State {
	var stateCopy State
	if err := deepcopy.Copy(&stateCopy, state); err != nil {
		if log != nil {
			log.Errorf("failed to deep-copy state: %v", err)
		}

		return state
	}

	return stateCopy
}

// copyConfig deep-copies a config map, with the same fallback as copyState.
func copyConfig(cfg Config, log *zap.SugaredLogger) Config {
	var cfgCopy Config
	if err := deepcopy.Copy(&cfgCopy, cfg); err != nil {
		if log != nil {
			log.Errorf("failed to deep-copy config: %v", err)
		}

		return cfg
	}

	return cfgCopy
}
