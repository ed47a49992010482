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

// Package file provides a filesystem-backed implementation of
// persistence.Store, storing one JSON document per controller.
//
// # Atomicity
//
// Save writes to a temporary file in the same directory and renames it over
// the target, so a crash mid-write never leaves a truncated snapshot. Rename
// within one directory is atomic on POSIX filesystems.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/persistence"
)

// Store persists snapshots as <dir>/<controller-name>.json.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Compile-time check that Store implements persistence.Store.
var _ persistence.Store = (*Store)(nil)

// NewStore creates the snapshot directory if needed and returns the store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %q: %w", dir, err)
	}

	return &Store{dir: dir}, nil
}

// path maps a controller name to its snapshot file, rejecting names that
// would escape the snapshot directory.
func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid controller name %q", name)
	}

	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (s *Store) Save(ctx context.Context, name string, state container.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot for %q: %w", name, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write snapshot for %q: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close snapshot for %q: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace snapshot for %q: %w", name, err)
	}

	return nil
}

// Load reads and decodes the snapshot for name.
func (s *Store) Load(ctx context.Context, name string) (container.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(target)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", persistence.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %q: %w", name, err)
	}

	var state container.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %q: %w", name, err)
	}

	return state, nil
}

// Delete removes the snapshot file for name, if present.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
