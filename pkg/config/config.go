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

// Package config loads the application bootstrap configuration: per-app
// settings plus the initial per-controller configuration maps that are fed
// to controller constructors at composition time.
package config

import (
	"time"

	"github.com/statekit/statekit/pkg/constants"
	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/env"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	// MetricsPort is the port the prometheus endpoint listens on.
	MetricsPort int `yaml:"metricsPort"`

	// PollIntervalSeconds is the default poll interval for controllers that
	// do not configure their own.
	PollIntervalSeconds int `yaml:"pollIntervalSeconds"`

	// SnapshotDir is where persisted controller state is written. Empty
	// disables file persistence.
	SnapshotDir string `yaml:"snapshotDir"`
}

// FullConfig is the complete bootstrap configuration.
type FullConfig struct {
	App AppConfig `yaml:"app"`

	// Controllers maps a controller name to its initial partial config,
	// merged onto the controller's declared defaults at construction.
	Controllers map[string]container.Config `yaml:"controllers"`
}

// PollInterval returns the configured default poll interval.
func (c FullConfig) PollInterval() time.Duration {
	if c.App.PollIntervalSeconds <= 0 {
		return constants.DefaultPollInterval
	}

	return time.Duration(c.App.PollIntervalSeconds) * time.Second
}

// ControllerConfig returns the initial config for a controller name, nil
// when none was configured. Nil merges as empty, so callers can pass the
// result straight to a constructor.
func (c FullConfig) ControllerConfig(name string) container.Config {
	return c.Controllers[name]
}

// defaultConfig is the starting point before file contents and environment
// overrides are applied.
func defaultConfig() FullConfig {
	return FullConfig{
		App: AppConfig{
			MetricsPort:         constants.DefaultMetricsPort,
			PollIntervalSeconds: int(constants.DefaultPollInterval / time.Second),
		},
		Controllers: map[string]container.Config{},
	}
}

// applyEnvOverrides layers process environment variables over the loaded
// config. Environment wins over file contents, matching container-style
// deployments where the file ships in an image and the environment carries
// per-instance settings.
func applyEnvOverrides(cfg FullConfig) FullConfig {
	if port := env.GetInt("METRICS_PORT", cfg.App.MetricsPort); port > 0 {
		cfg.App.MetricsPort = port
	}

	if interval := env.GetInt("POLL_INTERVAL_SECONDS", cfg.App.PollIntervalSeconds); interval > 0 {
		cfg.App.PollIntervalSeconds = interval
	}

	cfg.App.SnapshotDir = env.GetString("SNAPSHOT_DIR", cfg.App.SnapshotDir)

	return cfg
}
