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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/statekit/statekit/pkg/catalog"
	"github.com/statekit/statekit/pkg/composition"
	"github.com/statekit/statekit/pkg/config"
	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/controllers/addressbook"
	"github.com/statekit/statekit/pkg/controllers/collectibles"
	"github.com/statekit/statekit/pkg/controllers/rates"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/messenger"
	"github.com/statekit/statekit/pkg/metrics"
	"github.com/statekit/statekit/pkg/persistence"
	"github.com/statekit/statekit/pkg/persistence/file"
	"github.com/statekit/statekit/pkg/persistence/memory"
	"github.com/statekit/statekit/pkg/sentry"
	"github.com/statekit/statekit/pkg/version"
)

// snapshotInterval is how often controller state is flushed to the store
// while the process runs. A final flush also happens on shutdown.
const snapshotInterval = 30 * time.Second

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	// Initialize Sentry
	sentry.InitSentry(version.GetAppVersion(), true)

	log := logger.For(logger.ComponentCore)
	log.Info("Starting statekit...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load the config
	configManager := config.NewFileManager()
	configData, err := configManager.GetConfig(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)
		os.Exit(1)
	}

	// Start the metrics server
	server := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", configData.App.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %w", err)
		}
	}()

	// Open the snapshot store
	store, err := openStore(configData)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open snapshot store: %w", err)
		os.Exit(1)
	}

	// Build and compose the controllers
	bus := messenger.New()
	composer, rateCtrl, err := compose(ctx, bus, store, configData)
	if err != nil {
		sentry.ReportCompositionFatal(log, "statekit", err)
		os.Exit(1)
	}

	// Start polling
	rateCtrl.Start(configData.PollInterval())
	defer rateCtrl.Destroy()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return snapshotLoop(gctx, store, composer.Children())
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Run group failed: %w", err)
	}

	// Final state flush with a fresh context: the signal context is
	// already canceled by the time we get here.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer flushCancel()
	if err := persistence.SaveAll(flushCtx, store, composer.Children()); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Final snapshot flush failed: %w", err)
	}

	log.Info("statekit completed")
	_ = logger.Sync()
}

// openStore picks the snapshot backend: file-based when a directory is
// configured, in-memory otherwise.
func openStore(cfg config.FullConfig) (persistence.Store, error) {
	if cfg.App.SnapshotDir == "" {
		return memory.NewStore(), nil
	}
	return file.NewStore(cfg.App.SnapshotDir)
}

// compose restores persisted state, builds the three controllers, and
// wires them into one composition.
func compose(ctx context.Context, bus *messenger.Messenger, store persistence.Store, cfg config.FullConfig) (*composition.Composer, *rates.Controller, error) {
	restored := func(name string) (container.State, error) {
		return persistence.Restore(ctx, store, name)
	}

	bookState, err := restored(addressbook.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("restoring %s state: %w", addressbook.Name, err)
	}
	book, err := addressbook.New(bus, cfg.ControllerConfig(addressbook.Name), bookState)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", addressbook.Name, err)
	}

	rateState, err := restored(rates.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("restoring %s state: %w", rates.Name, err)
	}
	rateCfg := cfg.ControllerConfig(rates.Name)
	rateCtrl, err := rates.New(rates.Settings{
		Bus:   bus,
		Fetch: rates.NewHTTPFetch(rateEndpoint(rateCfg), nil),
	}, rateCfg, rateState)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", rates.Name, err)
	}

	collectibleState, err := restored(collectibles.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("restoring %s state: %w", collectibles.Name, err)
	}
	collectibleCtrl, err := collectibles.New(bus, defaultCatalog(), cfg.ControllerConfig(collectibles.Name), collectibleState)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", collectibles.Name, err)
	}

	composer, err := composition.New("statekit", []container.Controller{book, rateCtrl, collectibleCtrl})
	if err != nil {
		return nil, nil, err
	}
	return composer, rateCtrl, nil
}

// snapshotLoop persists all controller state on a fixed cadence until the
// context is canceled.
func snapshotLoop(ctx context.Context, store persistence.Store, controllers []container.Controller) error {
	log := logger.For(logger.ComponentPersistence)
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := persistence.SaveAll(ctx, store, controllers); err != nil {
				sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Snapshot flush failed: %w", err)
			}
		}
	}
}

func rateEndpoint(cfg container.Config) string {
	if endpoint, ok := cfg["endpoint"].(string); ok && endpoint != "" {
		return endpoint
	}
	return "https://min-api.cryptocompare.com/data/price"
}

// defaultCatalog is the built-in contract catalog. Deployments with a
// richer dataset swap it at the composition root.
func defaultCatalog() catalog.Catalog {
	return catalog.NewStatic(
		catalog.Entry{
			Address:     "0x06012c8cf97bead5deae237070f9587f8e7a266d",
			Name:        "CryptoKitties",
			Symbol:      "CK",
			Collectible: true,
		},
		catalog.Entry{
			Address:     "0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359",
			Name:        "Dai Stablecoin",
			Symbol:      "DAI",
			Decimals:    18,
			Collectible: false,
		},
	)
}
