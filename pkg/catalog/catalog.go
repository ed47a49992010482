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

// Package catalog provides a read-only lookup of known contract metadata.
//
// Controllers that classify addresses (for example the collectible
// controller) receive a Catalog at construction time instead of reaching
// into a process-wide table. Injecting the catalog keeps the lookup
// swappable in tests and makes the data dependency visible in the
// constructor signature.
package catalog

import "strings"

// Entry describes one known contract.
type Entry struct {
	Address     string `yaml:"address" json:"address"`
	Name        string `yaml:"name" json:"name"`
	Symbol      string `yaml:"symbol" json:"symbol"`
	Decimals    int    `yaml:"decimals" json:"decimals"`
	Collectible bool   `yaml:"collectible" json:"collectible"`
}

// Catalog is the read-only view handed to controllers.
type Catalog interface {
	// Lookup returns the entry for the given address. Addresses are
	// matched case-insensitively.
	Lookup(address string) (Entry, bool)
	// Entries returns all entries in unspecified order.
	Entries() []Entry
}

// Static is an immutable in-memory Catalog.
type Static struct {
	byAddress map[string]Entry
}

var _ Catalog = (*Static)(nil)

// NewStatic builds a catalog from the given entries. Later entries with
// the same address replace earlier ones.
func NewStatic(entries ...Entry) *Static {
	byAddress := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byAddress[normalize(e.Address)] = e
	}
	return &Static{byAddress: byAddress}
}

func (s *Static) Lookup(address string) (Entry, bool) {
	e, ok := s.byAddress[normalize(address)]
	return e, ok
}

func (s *Static) Entries() []Entry {
	out := make([]Entry, 0, len(s.byAddress))
	for _, e := range s.byAddress {
		out = append(out, e)
	}
	return out
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
