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

// Package memory provides an in-memory implementation of persistence.Store.
//
// This implementation is designed for testing and development environments
// where snapshots need not survive a process restart. All snapshots are
// deep-copied on read and write so external mutation of a state map never
// affects stored data.
//
// # Thread Safety
//
// Store uses a sync.RWMutex: Load acquires a read lock, Save and Delete
// acquire the exclusive write lock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/persistence"
)

// Store is a thread-safe in-memory snapshot store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]container.State
}

// Compile-time check that Store implements persistence.Store.
var _ persistence.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]container.State),
	}
}

// validateContext checks if the provided context is nil or cancelled.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

// Save replaces the stored snapshot for name with a deep copy of state.
func (s *Store) Save(ctx context.Context, name string, state container.State) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var stateCopy container.State
	if err := deepcopy.Copy(&stateCopy, state); err != nil {
		return fmt.Errorf("failed to copy snapshot for %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[name] = stateCopy

	return nil
}

// Load returns a deep copy of the stored snapshot for name.
func (s *Store) Load(ctx context.Context, name string) (container.State, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	state, ok := s.snapshots[name]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", persistence.ErrNotFound, name)
	}

	var stateCopy container.State
	if err := deepcopy.Copy(&stateCopy, state); err != nil {
		return nil, fmt.Errorf("failed to copy snapshot for %q: %w", name, err)
	}

	return stateCopy, nil
}

// Delete removes the stored snapshot for name, if any.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, name)

	return nil
}
