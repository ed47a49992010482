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

package messenger

import (
	"context"
	"fmt"
)

// Restricted is a capability handle over the shared messenger. It exposes
// the same operations but rejects any action or event name outside its
// declared permission set, so a controller holding the handle can only
// reach the names it was wired for. Typos and missing wiring surface as
// ErrNotPermitted at the call site instead of silently reaching into a
// sibling's namespace.
type Restricted struct {
	bus            *Messenger
	allowedActions map[string]struct{}
	allowedEvents  map[string]struct{}
}

// Restricted builds a capability handle allowing exactly the given action
// and event names.
func (m *Messenger) Restricted(allowedActions, allowedEvents []string) *Restricted {
	r := &Restricted{
		bus:            m,
		allowedActions: make(map[string]struct{}, len(allowedActions)),
		allowedEvents:  make(map[string]struct{}, len(allowedEvents)),
	}

	for _, name := range allowedActions {
		r.allowedActions[name] = struct{}{}
	}

	for _, name := range allowedEvents {
		r.allowedEvents[name] = struct{}{}
	}

	return r
}

// RegisterActionHandler registers a handler when the name is permitted.
func (r *Restricted) RegisterActionHandler(name string, handler ActionHandler) error {
	if err := r.checkAction(name); err != nil {
		return err
	}

	return r.bus.RegisterActionHandler(name, handler)
}

// UnregisterActionHandler removes a handler when the name is permitted;
// disallowed names are a no-op because nothing could have been registered.
func (r *Restricted) UnregisterActionHandler(name string) {
	if r.checkAction(name) != nil {
		return
	}

	r.bus.UnregisterActionHandler(name)
}

// Call invokes an action when the name is permitted.
func (r *Restricted) Call(ctx context.Context, name string, args ...any) (any, error) {
	if err := r.checkAction(name); err != nil {
		return nil, err
	}

	return r.bus.Call(ctx, name, args...)
}

// Publish fans out an event when the name is permitted; otherwise the
// publish is dropped and the violation logged, since Publish carries no
// error return by contract.
func (r *Restricted) Publish(name string, payload any) {
	if err := r.checkEvent(name); err != nil {
		r.bus.log.Errorf("dropped publish: %v", err)

		return
	}

	r.bus.Publish(name, payload)
}

// Subscribe registers a listener when the event name is permitted.
func (r *Restricted) Subscribe(name string, listener EventListener, opts ...SubscribeOption) error {
	if err := r.checkEvent(name); err != nil {
		return err
	}

	r.bus.Subscribe(name, listener, opts...)

	return nil
}

// Unsubscribe removes a listener when the event name is permitted.
func (r *Restricted) Unsubscribe(name string, listener EventListener) {
	if r.checkEvent(name) != nil {
		return
	}

	r.bus.Unsubscribe(name, listener)
}

func (r *Restricted) checkAction(name string) error {
	if _, ok := r.allowedActions[name]; !ok {
		return fmt.Errorf("%w: action %q", ErrNotPermitted, name)
	}

	return nil
}

func (r *Restricted) checkEvent(name string) error {
	if _, ok := r.allowedEvents[name]; !ok {
		return fmt.Errorf("%w: event %q", ErrNotPermitted, name)
	}

	return nil
}
