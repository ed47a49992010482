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

// Package rates implements the conversion rate controller.
//
// This package is responsible for:
// - Periodically fetching per-token conversion rates through an injected
//   fetch function (HTTP by default)
// - Caching fetched rates in a TTL map so back-to-back refreshes within
//   the cache window never hit the network
// - Publishing rate updates on the message bus
//
// Refresh failures are absorbed: the previous rates stay in state and the
// poller's backoff delays the next attempt. A disabled controller keeps
// its timer but skips the cycle body.
package rates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/statekit/statekit/pkg/constants"
	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/messenger"
	"github.com/statekit/statekit/pkg/metrics"
	"github.com/statekit/statekit/pkg/poller"
)

// Name is the controller's registry name.
const Name = "RateController"

// EventUpdated carries a map[string]float64 of token → rate after every
// applied refresh.
const EventUpdated = "RateController:updated"

const (
	configKeyCurrency = "currency"
	configKeyTokens   = "tokens"

	stateKeyRates     = "rates"
	stateKeyCurrency  = "currency"
	stateKeyUpdatedAt = "updatedAt"
)

// FetchFunc retrieves conversion rates for the given tokens denominated in
// currency. Implementations must honor ctx cancellation.
type FetchFunc func(ctx context.Context, currency string, tokens []string) (map[string]float64, error)

// Controller is the rate controller.
type Controller struct {
	*container.BaseContainer

	bus    *messenger.Restricted
	poller *poller.Poller
	fetch  FetchFunc
	cache  *expiremap.ExpireMap[string, map[string]float64]
	log    *zap.SugaredLogger
}

var (
	_ container.Controller = (*Controller)(nil)
	_ container.Composable = (*Controller)(nil)
)

// Settings holds construction parameters for the rate controller.
type Settings struct {
	// Bus is the application messenger. Required.
	Bus *messenger.Messenger

	// Fetch retrieves rates. Required; use NewHTTPFetch for the HTTP
	// default.
	Fetch FetchFunc

	// CacheTTL bounds how long fetched rates short-circuit the next
	// refresh. Defaults to constants.DefaultRatesCacheTTL.
	CacheTTL time.Duration
}

// New builds the rate controller.
func New(settings Settings, initialConfig container.Config, initialState container.State) (*Controller, error) {
	if settings.Bus == nil {
		return nil, fmt.Errorf("rate controller requires a messenger")
	}
	if settings.Fetch == nil {
		return nil, fmt.Errorf("rate controller requires a fetch function")
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = constants.DefaultRatesCacheTTL
	}

	base, err := container.NewBaseContainer(container.Settings{
		Name: Name,
		DefaultConfig: container.Config{
			configKeyCurrency: "usd",
			configKeyTokens:   []string{},
		},
		DefaultState: container.State{
			stateKeyRates:     map[string]any{},
			stateKeyCurrency:  "usd",
			stateKeyUpdatedAt: int64(0),
		},
		Metadata: container.StateMetadata{
			stateKeyRates:     {Persist: true, Anonymous: true},
			stateKeyCurrency:  {Persist: true, Anonymous: true},
			stateKeyUpdatedAt: {Persist: true, Anonymous: true},
		},
	}, initialConfig, initialState)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		BaseContainer: base,
		bus:           settings.Bus.Restricted(nil, []string{EventUpdated}),
		fetch:         settings.Fetch,
		cache:         expiremap.NewEx[string, map[string]float64](settings.CacheTTL, settings.CacheTTL),
		log:           logger.For(logger.ComponentRates),
	}
	c.poller, err = poller.New(poller.Settings{
		Name:     Name,
		Refresh:  c.refresh,
		Disabled: c.Disabled,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OnComposed is the registry hook.
func (c *Controller) OnComposed(_ container.Context) error {
	c.log.Debugf("%s composed", Name)
	return nil
}

// Start begins periodic refreshing. A zero interval falls back to the
// global default.
func (c *Controller) Start(interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	c.poller.Start(interval)
}

// Stop halts periodic refreshing without aborting an in-flight cycle.
func (c *Controller) Stop() {
	c.poller.Stop()
}

// Destroy stops the controller and waits for the timer goroutine to exit.
func (c *Controller) Destroy() {
	c.poller.Destroy()
}

// Refresh runs one refresh cycle immediately, serialized against any
// timer-driven cycle.
func (c *Controller) Refresh() {
	c.poller.Refresh()
}

// Rates returns the last applied token → rate map.
func (c *Controller) Rates() map[string]float64 {
	out := map[string]float64{}
	raw, ok := c.State()[stateKeyRates].(map[string]any)
	if !ok {
		return out
	}
	for token, v := range raw {
		switch rate := v.(type) {
		case float64:
			out[token] = rate
		case int:
			out[token] = float64(rate)
		}
	}
	return out
}

func (c *Controller) refresh(ctx context.Context) error {
	currency := c.currency()
	tokens := c.tokens()

	if cached, ok := c.cache.Load(currency); ok {
		c.apply(currency, *cached)
		return nil
	}

	fetched, err := c.fetch(ctx, currency, tokens)
	if err != nil {
		return fmt.Errorf("fetching %s rates: %w", currency, err)
	}

	c.cache.Set(currency, fetched)
	c.apply(currency, fetched)
	return nil
}

func (c *Controller) apply(currency string, rates map[string]float64) {
	asState := make(map[string]any, len(rates))
	for token, rate := range rates {
		asState[token] = rate
	}
	c.Update(container.State{
		stateKeyRates:     asState,
		stateKeyCurrency:  currency,
		stateKeyUpdatedAt: time.Now().Unix(),
	}, false)
	c.bus.Publish(EventUpdated, rates)
}

func (c *Controller) currency() string {
	if currency, ok := container.ConfigValue[string](c, configKeyCurrency); ok && currency != "" {
		return strings.ToLower(currency)
	}
	return "usd"
}

// tokens reads the configured token list. YAML bootstrap delivers []any,
// programmatic configuration delivers []string; both are accepted.
func (c *Controller) tokens() []string {
	if tokens, ok := container.ConfigValue[[]string](c, configKeyTokens); ok {
		return tokens
	}
	raw, ok := container.ConfigValue[[]any](c, configKeyTokens)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if token, ok := v.(string); ok {
			out = append(out, token)
		} else {
			metrics.IncErrorCount(metrics.ComponentRates, Name)
			c.log.Warnf("ignoring non-string token in %s config: %v", Name, v)
		}
	}
	return out
}
