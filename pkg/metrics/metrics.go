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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/statekit/statekit/pkg/logger"
	"github.com/statekit/statekit/pkg/sentry"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentContainer = "container"
	ComponentRegistry  = "registry"
	ComponentComposer  = "composer"
	ComponentMessenger = "messenger"
	ComponentPoller    = "poller"
	// Leaf controllers.
	ComponentAddressBook  = "address_book"
	ComponentRates        = "rate_controller"
	ComponentCollectibles = "collectible_controller"
	// Supporting components.
	ComponentConfigManager = "config_manager"
	ComponentPersistence   = "persistence"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "statekit"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// State update counters.
	stateUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_updates_total",
			Help:      "Total number of state updates applied per container",
		},
		[]string{"component", "instance"},
	)

	// Listener notification timing.
	notifyTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notify_duration_milliseconds",
			Help:      "Time taken to notify all listeners of a state update (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance"},
	)

	// Poll refresh timing.
	refreshTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_duration_milliseconds",
			Help:      "Time taken by a poller refresh cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	// Swallowed refresh failures.
	refreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_failures_total",
			Help:      "Total number of refresh failures absorbed at the poller boundary",
		},
		[]string{"component", "instance"},
	)

	// Event publish counters.
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of events published on the messenger",
		},
		[]string{"event"},
	)

	// Action call counters.
	actionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "action_calls_total",
			Help:      "Total number of action invocations on the messenger",
		},
		[]string{"action"},
	)

	// Poller running state.
	pollerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poller_running",
			Help:      "Whether a poller is currently running (1=running, 0=stopped)",
		},
		[]string{"component", "instance"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter and logs the error.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)
	if logger != nil {
		logger.Errorf("error in %s/%s: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component so the
// series exists before the first error occurs.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// IncStateUpdate increments the state update counter for a container.
func IncStateUpdate(component, instance string) {
	stateUpdates.WithLabelValues(component, instance).Inc()
}

// ObserveNotifyTime records the duration of a listener notification wave.
func ObserveNotifyTime(component, instance string, duration time.Duration) {
	notifyTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// ObserveRefreshTime records the duration of a poller refresh cycle.
func ObserveRefreshTime(component, instance string, duration time.Duration) {
	refreshTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// IncRefreshFailure increments the swallowed refresh failure counter.
func IncRefreshFailure(component, instance string) {
	refreshFailures.WithLabelValues(component, instance).Inc()
}

// IncEventPublished increments the publish counter for an event name.
func IncEventPublished(event string) {
	eventsPublished.WithLabelValues(event).Inc()
}

// IncActionCall increments the call counter for an action name.
func IncActionCall(action string) {
	actionCalls.WithLabelValues(action).Inc()
}

// SetPollerRunning records whether a poller is currently running.
func SetPollerRunning(component, instance string, running bool) {
	value := 0.0
	if running {
		value = 1.0
	}

	pollerRunning.WithLabelValues(component, instance).Set(value)
}
