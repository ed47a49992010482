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

// Package persistence snapshots controller state across process restarts.
//
// The core framework only guarantees that every state field carries
// metadata declaring whether it persists and whether it may appear in
// anonymous telemetry exports. This package is the collaborator that acts
// on that metadata: it filters a controller's state down to its persisted
// (or anonymized) projection and reads/writes those projections through a
// Store implementation.
//
// # Field Selection
//
// Snapshot includes only fields marked Persist. AnonymizedSnapshot
// additionally requires Anonymous, producing the projection safe for
// telemetry export. Fields without metadata never appear in either view;
// the container layer already reports such fields as configuration errors.
package persistence

import (
	"context"
	"errors"

	"github.com/statekit/statekit/pkg/container"
)

// ErrNotFound is returned when no snapshot exists for a controller name.
var ErrNotFound = errors.New("no snapshot for controller")

// Store reads and writes per-controller state snapshots. Implementations
// must be safe for concurrent use.
type Store interface {
	// Save writes the snapshot for a controller name, replacing any
	// previous snapshot atomically.
	Save(ctx context.Context, name string, state container.State) error

	// Load returns the snapshot for a controller name, or ErrNotFound.
	Load(ctx context.Context, name string) (container.State, error)

	// Delete removes a controller's snapshot. Deleting a missing snapshot
	// is a no-op.
	Delete(ctx context.Context, name string) error
}

// Snapshot projects a controller's state down to its persisted fields.
func Snapshot(ctrl container.Controller) container.State {
	return filter(ctrl, func(md container.FieldMetadata) bool {
		return md.Persist
	})
}

// AnonymizedSnapshot projects a controller's state down to the fields that
// are both persisted and marked anonymous, the projection safe for
// telemetry export.
func AnonymizedSnapshot(ctrl container.Controller) container.State {
	return filter(ctrl, func(md container.FieldMetadata) bool {
		return md.Persist && md.Anonymous
	})
}

func filter(ctrl container.Controller, keep func(container.FieldMetadata) bool) container.State {
	metadata := ctrl.Metadata()
	out := container.State{}

	for key, value := range ctrl.State() {
		md, ok := metadata[key]
		if !ok || !keep(md) {
			continue
		}

		out[key] = value
	}

	return out
}

// SaveAll snapshots every given controller into the store under its own
// name. The first failure aborts and is returned.
func SaveAll(ctx context.Context, store Store, controllers []container.Controller) error {
	for _, ctrl := range controllers {
		if err := store.Save(ctx, ctrl.Name(), Snapshot(ctrl)); err != nil {
			return err
		}
	}

	return nil
}

// Restore loads the persisted snapshot for a controller name, returning an
// empty state when none exists. The result is meant to be passed as the
// initial state to the controller's constructor, where it merges onto the
// declared defaults.
func Restore(ctx context.Context, store Store, name string) (container.State, error) {
	state, err := store.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return container.State{}, nil
	}

	return state, err
}
