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

// Package registry provides the name-keyed lookup of sibling controllers
// built at composition time.
//
// Controllers never hold compile-time references to each other. Instead,
// all instances are constructed first, then wired through this registry
// (the classic two-phase construct-then-wire pattern), which breaks
// reference cycles without weak pointers and lets siblings tear down
// independently.
package registry

import (
	"fmt"

	"github.com/statekit/statekit/pkg/container"
)

// Registry is the read-only name→controller mapping. It is built once at
// composition time and implements container.Context so it can be handed to
// every participant's post-composition hook.
type Registry struct {
	controllers map[string]container.Controller
	order       []string
}

// Build assembles the registry from an ordered list of controllers.
//
// Two classes of composition error abort the build, both identifying the
// offending controller so startup failures are diagnosable:
// - duplicate controller names within one composition
// - a declared required sibling missing from the composition list
//
// Both checks run before any controller starts its pollers, so a broken
// composition fails fast instead of partially starting.
func Build(controllers []container.Controller) (*Registry, error) {
	reg := &Registry{
		controllers: make(map[string]container.Controller, len(controllers)),
		order:       make([]string, 0, len(controllers)),
	}

	for _, ctrl := range controllers {
		if ctrl == nil {
			return nil, fmt.Errorf("composition list contains a nil controller")
		}

		name := ctrl.Name()
		if _, exists := reg.controllers[name]; exists {
			return nil, fmt.Errorf("duplicate controller name %q in composition", name)
		}

		reg.controllers[name] = ctrl
		reg.order = append(reg.order, name)
	}

	for _, ctrl := range controllers {
		for _, required := range ctrl.RequiredControllers() {
			if _, exists := reg.controllers[required]; !exists {
				return nil, fmt.Errorf("controller %q requires sibling %q which is not part of the composition",
					ctrl.Name(), required)
			}
		}
	}

	return reg, nil
}

// Get returns the controller registered under name.
func (r *Registry) Get(name string) (container.Controller, bool) {
	ctrl, ok := r.controllers[name]

	return ctrl, ok
}

// MustGet returns the controller registered under name. It panics when the
// name is absent; after a successful Build this can only happen for names
// that were never declared as required, which is a wiring bug.
func (r *Registry) MustGet(name string) container.Controller {
	ctrl, ok := r.controllers[name]
	if !ok {
		panic(fmt.Sprintf("registry: no controller named %q", name))
	}

	return ctrl
}

// Names returns the controller names in composition order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)

	return names
}
