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

// Package collectibles implements the collectible detection controller.
//
// This package is responsible for:
// - Watching address book changes through a selector subscription, so it
//   only reacts to the address of a changed contact and duplicate
//   notifications for the same address are suppressed at the bus
// - Classifying addresses against the injected contract catalog
// - Exposing detection as a bus action for controllers that do not hold a
//   direct reference
//
// It requires the address book controller to be composed alongside it and
// seeds its state from the book's existing entries at composition time.
package collectibles

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/catalog"
	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/controllers/addressbook"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/messenger"
)

// Name is the controller's registry name.
const Name = "CollectibleController"

// ActionDetect classifies an address (args[0], string) against the
// catalog and returns a Detection.
const ActionDetect = "CollectibleController:detect"

const stateKeyCollectibles = "collectibles"

// Detection is the result of classifying one address.
type Detection struct {
	Address     string `json:"address"`
	Known       bool   `json:"known"`
	Collectible bool   `json:"collectible"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
}

// Controller is the collectible detection controller.
type Controller struct {
	*container.BaseContainer

	bus     *messenger.Restricted
	catalog catalog.Catalog
	log     *zap.SugaredLogger
}

var (
	_ container.Controller = (*Controller)(nil)
	_ container.Composable = (*Controller)(nil)
)

// New builds the collectible controller around the given catalog.
func New(bus *messenger.Messenger, cat catalog.Catalog, initialConfig container.Config, initialState container.State) (*Controller, error) {
	if cat == nil {
		return nil, fmt.Errorf("collectible controller requires a catalog")
	}

	base, err := container.NewBaseContainer(container.Settings{
		Name:          Name,
		DefaultConfig: container.Config{},
		DefaultState: container.State{
			stateKeyCollectibles: map[string]any{},
		},
		Metadata: container.StateMetadata{
			stateKeyCollectibles: {Persist: true, Anonymous: false},
		},
		RequiredControllers: []string{addressbook.Name},
	}, initialConfig, initialState)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		BaseContainer: base,
		bus: bus.Restricted(
			[]string{ActionDetect},
			[]string{addressbook.EventContactUpdated},
		),
		catalog: cat,
		log:     logger.For(logger.ComponentCollectibles),
	}

	if err := c.bus.RegisterActionHandler(ActionDetect, c.handleDetect); err != nil {
		return nil, err
	}
	// The selector narrows contact events to the changed address, so two
	// consecutive updates of the same contact (a rename, say) produce a
	// single detection pass.
	if err := c.bus.Subscribe(addressbook.EventContactUpdated, c.onContactAddress,
		messenger.WithSelector(contactAddress)); err != nil {
		return nil, err
	}
	return c, nil
}

// OnComposed seeds detection state from the address book's existing
// entries, so restarts classify restored contacts without waiting for the
// next contact change.
func (c *Controller) OnComposed(ctx container.Context) error {
	sibling, ok := ctx.Get(addressbook.Name)
	if !ok {
		return fmt.Errorf("%s requires %s in the composition", Name, addressbook.Name)
	}
	book, ok := sibling.(*addressbook.Controller)
	if !ok {
		return fmt.Errorf("controller %q is not an address book", addressbook.Name)
	}
	for _, entry := range book.List() {
		c.classify(entry.Address)
	}
	return nil
}

// Detect classifies address against the catalog.
func (c *Controller) Detect(address string) Detection {
	entry, known := c.catalog.Lookup(address)
	if !known {
		return Detection{Address: address}
	}
	return Detection{
		Address:     address,
		Known:       true,
		Collectible: entry.Collectible,
		Name:        entry.Name,
		Symbol:      entry.Symbol,
	}
}

// Collectibles returns the addresses currently classified as collectible
// contracts, mapped to their catalog names.
func (c *Controller) Collectibles() map[string]string {
	out := map[string]string{}
	raw, ok := c.State()[stateKeyCollectibles].(map[string]any)
	if !ok {
		return out
	}
	for address, v := range raw {
		if name, ok := v.(string); ok {
			out[address] = name
		}
	}
	return out
}

func (c *Controller) handleDetect(_ context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects one address argument, got %d", ActionDetect, len(args))
	}
	address, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s expects a string address, got %T", ActionDetect, args[0])
	}
	return c.Detect(address), nil
}

func (c *Controller) onContactAddress(payload any) {
	address, ok := payload.(string)
	if !ok {
		c.log.Warnf("unexpected contact event payload %T", payload)
		return
	}
	c.classify(address)
}

func (c *Controller) classify(address string) {
	detection := c.Detect(address)
	if !detection.Collectible {
		return
	}
	raw, _ := c.State()[stateKeyCollectibles].(map[string]any)
	merged := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		merged[k] = v
	}
	merged[detection.Address] = detection.Name
	c.Update(container.State{stateKeyCollectibles: merged}, false)
	c.log.Debugf("classified %s as collectible %q", detection.Address, detection.Name)
}

// contactAddress is the event selector: it projects a contact event down
// to the changed address.
func contactAddress(payload any) any {
	switch entry := payload.(type) {
	case addressbook.Entry:
		return entry.Address
	case map[string]any:
		address, _ := entry["address"].(string)
		return address
	default:
		return ""
	}
}
