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

package constants

import "time"

const (
	// DefaultAppVersion is used when the binary was not built with version
	// information via ldflags. Sentry reporting is disabled for this version.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the sentry environment for prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the sentry environment for release builds.
	DefaultProductionEnvironment = "production"

	// DefaultPollInterval is the interval between poller refresh cycles.
	// This value balances data freshness with upstream load:
	// - Too small: hammers the upstream data source and risks rate limiting
	// - Too high: stale rates/balances shown to downstream consumers
	DefaultPollInterval = 180 * time.Second

	// DefaultRefreshTimeout bounds a single refresh cycle. A refresh that
	// exceeds this is cancelled via its context; the poller keeps ticking.
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultMetricsPort is the port the prometheus endpoint listens on.
	DefaultMetricsPort = 8091

	// DefaultRatesCacheTTL is how long a fetched rate set stays valid in the
	// rates controller cache before a refresh actually refetches.
	DefaultRatesCacheTTL = 60 * time.Second
)
