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

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/env"
	"github.com/statekit/statekit/pkg/logger"
)

const (
	// DefaultConfigPath is the default path to the config file.
	DefaultConfigPath = "/data/statekit.yaml"
)

// Manager is the interface for bootstrap config access.
type Manager interface {
	// GetConfig returns the current config.
	GetConfig(ctx context.Context) (FullConfig, error)
}

// FileManager implements Manager by reading a YAML file, falling back to
// defaults when the file does not exist. The environment is applied on top
// of whatever the file provided.
type FileManager struct {
	configPath string
	logger     *zap.SugaredLogger
}

// Compile-time check that FileManager implements Manager.
var _ Manager = (*FileManager)(nil)

// NewFileManager creates a manager reading from the default path.
func NewFileManager() *FileManager {
	return &FileManager{
		configPath: env.GetString("CONFIG_PATH", DefaultConfigPath),
		logger:     logger.For(logger.ComponentConfigManager),
	}
}

// WithConfigPath overrides the config file location, useful for tests.
func (m *FileManager) WithConfigPath(path string) *FileManager {
	m.configPath = path

	return m
}

// GetConfig reads and parses the config file. A missing file is not an
// error: the defaults plus environment overrides form a usable config for
// first boot. A malformed file is an error, because silently ignoring a
// config the operator wrote would run the wrong composition.
func (m *FileManager) GetConfig(ctx context.Context) (FullConfig, error) {
	if err := ctx.Err(); err != nil {
		return FullConfig{}, err
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(m.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Infof("no config file at %s, using defaults", m.configPath)
	case err != nil:
		return FullConfig{}, fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FullConfig{}, fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
		}
	}

	if cfg.Controllers == nil {
		cfg.Controllers = map[string]container.Config{}
	}

	return applyEnvOverrides(cfg), nil
}
