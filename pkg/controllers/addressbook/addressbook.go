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

// Package addressbook implements the recipient address book controller.
//
// This package is responsible for:
// - CRUD over named recipient entries keyed by address
// - Input validation with boolean outcomes (a rejected write is a result,
//   not an error)
// - Publishing contact-change events on the message bus
// - Answering the list action for other controllers
//
// The address book state is persisted and not anonymized: entries are the
// user's own data and survive restarts verbatim.
package addressbook

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/messenger"
	"github.com/statekit/statekit/pkg/metrics"
)

// Name is the controller's registry name.
const Name = "AddressBook"

const (
	// EventContactUpdated carries an Entry payload whenever an entry is
	// created, renamed, or deleted.
	EventContactUpdated = "AddressBook:contactUpdated"

	// ActionList returns all entries as []Entry.
	ActionList = "AddressBook:list"
)

// stateKeyEntries is the single top-level state field of this controller.
const stateKeyEntries = "addressBook"

// Entry is one address book record.
type Entry struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Controller is the address book controller. It embeds a BaseContainer for
// config/state/subscription handling and talks to siblings only through a
// restricted bus handle.
type Controller struct {
	*container.BaseContainer

	bus *messenger.Restricted
	log *zap.SugaredLogger
}

var (
	_ container.Controller = (*Controller)(nil)
	_ container.Composable = (*Controller)(nil)
)

// New builds the address book controller. The bus is the application-wide
// messenger; the controller carves out a handle restricted to its own
// events and actions.
func New(bus *messenger.Messenger, initialConfig container.Config, initialState container.State) (*Controller, error) {
	base, err := container.NewBaseContainer(container.Settings{
		Name:          Name,
		DefaultConfig: container.Config{},
		DefaultState: container.State{
			stateKeyEntries: map[string]any{},
		},
		Metadata: container.StateMetadata{
			stateKeyEntries: {Persist: true, Anonymous: false},
		},
	}, initialConfig, initialState)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		BaseContainer: base,
		bus:           bus.Restricted([]string{ActionList}, []string{EventContactUpdated}),
		log:           logger.For(logger.ComponentAddressBook),
	}
	if err := c.bus.RegisterActionHandler(ActionList, c.handleList); err != nil {
		return nil, err
	}
	return c, nil
}

// OnComposed is the registry hook. The address book has no sibling
// dependencies; the hook only logs for composition tracing.
func (c *Controller) OnComposed(_ container.Context) error {
	c.log.Debugf("%s composed", Name)
	return nil
}

// Set creates or renames the entry for address. It returns false, without
// touching state, when the address or name fails validation.
func (c *Controller) Set(address, name string) bool {
	address = normalizeAddress(address)
	name = strings.TrimSpace(name)
	if !validAddress(address) || name == "" {
		c.log.Debugf("rejected address book write: address=%q name=%q", address, name)
		return false
	}

	entries := c.entries()
	entry, ok := entries[address]
	if !ok {
		entry = Entry{ID: uuid.NewString(), Address: address}
	}
	entry.Name = name
	entries[address] = entry

	c.commit(entries)
	c.publishUpdate(entry)
	return true
}

// Delete removes the entry for address. It returns false when the address
// is invalid or no entry exists.
func (c *Controller) Delete(address string) bool {
	address = normalizeAddress(address)
	if !validAddress(address) {
		return false
	}

	entries := c.entries()
	entry, ok := entries[address]
	if !ok {
		return false
	}
	delete(entries, address)

	c.commit(entries)
	c.publishUpdate(Entry{ID: entry.ID, Address: address})
	return true
}

// Get returns the entry for address, if any.
func (c *Controller) Get(address string) (Entry, bool) {
	entry, ok := c.entries()[normalizeAddress(address)]
	return entry, ok
}

// List returns all entries in unspecified order.
func (c *Controller) List() []Entry {
	entries := c.entries()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}

func (c *Controller) handleList(_ context.Context, _ ...any) (any, error) {
	return c.List(), nil
}

// entries decodes the current state field into typed records. State may
// hold plain maps after a persistence restore, so both shapes are
// accepted.
func (c *Controller) entries() map[string]Entry {
	out := map[string]Entry{}
	raw, ok := c.State()[stateKeyEntries].(map[string]any)
	if !ok {
		return out
	}
	for address, v := range raw {
		switch rec := v.(type) {
		case Entry:
			out[address] = rec
		case map[string]any:
			out[address] = Entry{
				ID:      asString(rec["id"]),
				Address: asString(rec["address"]),
				Name:    asString(rec["name"]),
			}
		default:
			c.log.Warnf("dropping malformed address book record for %q", address)
			metrics.IncErrorCount(metrics.ComponentAddressBook, Name)
		}
	}
	return out
}

func (c *Controller) commit(entries map[string]Entry) {
	book := make(map[string]any, len(entries))
	for address, entry := range entries {
		book[address] = entry
	}
	c.Update(container.State{stateKeyEntries: book}, false)
}

func (c *Controller) publishUpdate(entry Entry) {
	c.bus.Publish(EventContactUpdated, entry)
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// validAddress accepts 0x-prefixed hex of at least four digits. The check
// is deliberately shallow: checksum verification belongs to the caller's
// input layer, the book only refuses obviously broken keys.
func validAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) < 6 {
		return false
	}
	for _, r := range address[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
