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

// Package composition aggregates a set of containers into one composite
// whose state is keyed by child controller name.
//
// Composition is the application's assembly step: construct all leaf
// controllers first, hand them to New, and the composer builds the sibling
// registry, re-exposes the children as one container, and runs each child's
// post-composition hook exactly once.
package composition

import (
	"fmt"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/registry"
)

// Composer aggregates child controllers into one container. Its state maps
// child name to that child's current state and is recomputed on every child
// notification; it is never mutated independently of its children.
//
// Composer itself satisfies the full container.Controller contract, so a
// downstream consumer (e.g. a UI layer) can subscribe to the composed state
// exactly like to any single controller.
type Composer struct {
	*container.BaseContainer

	children []container.Controller
	registry *registry.Registry
}

// New wires the children together and returns the composite.
//
// The sequence is fixed:
//  1. Build the sibling registry; duplicate names and missing required
//     siblings abort composition before anything starts running.
//  2. Seed the composite state with every child's current state.
//  3. Subscribe to each child so its updates propagate into the composite.
//  4. Invoke each child's OnComposed hook exactly once, in the order the
//     children were supplied. This is where children subscribe to the
//     sibling events and state they depend on.
func New(name string, children []container.Controller) (*Composer, error) {
	reg, err := registry.Build(children)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	// The composite's state fields are the child names. Children handle
	// their own persistence, so composite fields are neither persisted nor
	// exported anonymously.
	metadata := make(container.StateMetadata, len(children))
	initial := make(container.State, len(children))

	for _, child := range children {
		metadata[child.Name()] = container.FieldMetadata{Persist: false, Anonymous: false}
		initial[child.Name()] = map[string]any(child.State())
	}

	base, err := container.NewBaseContainer(container.Settings{
		Name:     name,
		Metadata: metadata,
	}, nil, initial)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	c := &Composer{
		BaseContainer: base,
		children:      children,
		registry:      reg,
	}

	log := logger.For(logger.ComponentComposer)

	for _, child := range children {
		childName := child.Name()
		child.Subscribe(func(state container.State) {
			c.Update(container.State{childName: map[string]any(state)}, false)
		})
	}

	for _, child := range children {
		composable, ok := child.(container.Composable)
		if !ok {
			continue
		}

		if err := composable.OnComposed(reg); err != nil {
			return nil, fmt.Errorf("composition failed: post-composition hook of %q: %w", child.Name(), err)
		}

		log.Debugf("ran post-composition hook of %q", child.Name())
	}

	return c, nil
}

// Registry returns the name→controller lookup built at composition time,
// for external access alongside the children's own handles.
func (c *Composer) Registry() *registry.Registry {
	return c.registry
}

// Children returns the child controllers in composition order.
func (c *Composer) Children() []container.Controller {
	children := make([]container.Controller, len(c.children))
	copy(children, c.children)

	return children
}

// FlatState merges all children's state fields into one flat mapping.
// Collisions between same-named fields from different children resolve
// last-writer-wins in child iteration order; callers must not rely on
// field-name uniqueness across children for this view.
func (c *Composer) FlatState() container.State {
	flat := container.State{}

	for _, child := range c.children {
		for key, value := range child.State() {
			flat[key] = value
		}
	}

	return flat
}
