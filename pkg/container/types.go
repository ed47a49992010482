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

package container

// Config is a mapping from option name to value. Updates are always merged
// shallowly (new values win at the top-level key); unknown keys are stored,
// never rejected.
type Config map[string]any

// State is a mapping from field name to value. Updates are either a shallow
// merge (default) or a full overwrite, chosen per call. A partial update
// whose field value is itself a nested mapping replaces the previous value
// wholesale at that top-level key.
type State map[string]any

// Listener is a function invoked with the full current state after every
// mutation. Removal is identity-based: unsubscribe must receive the same
// function reference that was originally subscribed.
type Listener func(State)

// FieldMetadata declares persistence and telemetry behavior for one state field.
type FieldMetadata struct {
	// Persist marks the field to survive process restarts. The persistence
	// layer reads only fields with Persist set when snapshotting.
	Persist bool `yaml:"persist" json:"persist"`

	// Anonymous marks the field as safe to include in telemetry or
	// anonymized snapshots.
	Anonymous bool `yaml:"anonymous" json:"anonymous"`
}

// StateMetadata maps every state field to its FieldMetadata. Every field
// present in a container's state must have an entry; a missing entry is a
// configuration error surfaced at construction time.
type StateMetadata map[string]FieldMetadata

// Controller is the uniform public surface every composable controller
// exposes. BaseContainer implements all of it; leaf controllers embed
// BaseContainer and add their domain operations on top.
type Controller interface {
	// Name returns the controller's registry and namespace key.
	Name() string
	// Config returns a snapshot of the current configuration.
	Config() Config
	// Configure merges (or, with overwrite, replaces) the configuration.
	Configure(partial Config, overwrite bool)
	// State returns a snapshot of the current state.
	State() State
	// Update merges (or, with overwrite, replaces) the state and notifies
	// all subscribed listeners synchronously before returning.
	Update(partial State, overwrite bool)
	// Subscribe registers a listener for state changes.
	Subscribe(listener Listener)
	// Unsubscribe removes the first exact match of the listener; no-op if
	// the listener was never subscribed.
	Unsubscribe(listener Listener)
	// Disabled reports whether the controller's internal triggers are
	// short-circuited.
	Disabled() bool
	// SetDisabled toggles the disabled flag. Externally-forced Update and
	// Configure calls are not blocked by the flag.
	SetDisabled(disabled bool)
	// Metadata returns the controller's declared state field metadata.
	Metadata() StateMetadata
	// RequiredControllers lists sibling names that must be present in the
	// composition for this controller to function.
	RequiredControllers() []string
}

// Context is the name-keyed lookup of sibling controllers handed to each
// participant after composition. It is read-only; controllers use it to
// invoke sibling operations without holding a compile-time reference.
type Context interface {
	// Get returns the controller registered under name.
	Get(name string) (Controller, bool)
	// MustGet returns the controller registered under name and panics if it
	// is absent. Safe after a successful composition because required
	// siblings are checked before any controller starts running.
	MustGet(name string) Controller
}

// Composable is implemented by controllers that need a post-composition
// lifecycle hook. The hook runs exactly once, after all participants exist
// and the registry is built; this is where a controller subscribes to the
// sibling events and state it depends on.
type Composable interface {
	OnComposed(ctx Context) error
}
