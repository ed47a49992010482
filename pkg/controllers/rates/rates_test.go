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

package rates_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/controllers/rates"
	"github.com/statekit/statekit/pkg/messenger"
)

var _ = Describe("Rate controller", func() {
	var bus *messenger.Messenger

	BeforeEach(func() {
		bus = messenger.New()
	})

	newWithFetch := func(fetch rates.FetchFunc, cfg container.Config) *rates.Controller {
		ctrl, err := rates.New(rates.Settings{
			Bus:      bus,
			Fetch:    fetch,
			CacheTTL: 50 * time.Millisecond,
		}, cfg, nil)
		Expect(err).ToNot(HaveOccurred())
		return ctrl
	}

	It("requires a bus and a fetch function", func() {
		_, err := rates.New(rates.Settings{Fetch: func(context.Context, string, []string) (map[string]float64, error) {
			return nil, nil
		}}, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("messenger")))

		_, err = rates.New(rates.Settings{Bus: bus}, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("fetch")))
	})

	It("applies fetched rates to state", func() {
		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			return map[string]float64{"DAI": 1.0, "CK": 0.02}, nil
		}, nil)

		ctrl.Refresh()

		Expect(ctrl.Rates()).To(HaveKeyWithValue("DAI", 1.0))
		Expect(ctrl.Rates()).To(HaveKeyWithValue("CK", 0.02))
		Expect(ctrl.State()).To(HaveKeyWithValue("currency", "usd"))
	})

	It("passes configured currency and tokens to the fetcher", func() {
		var gotCurrency string
		var gotTokens []string
		ctrl := newWithFetch(func(_ context.Context, currency string, tokens []string) (map[string]float64, error) {
			gotCurrency = currency
			gotTokens = tokens
			return map[string]float64{}, nil
		}, container.Config{
			"currency": "EUR",
			"tokens":   []string{"DAI"},
		})

		ctrl.Refresh()

		Expect(gotCurrency).To(Equal("eur"))
		Expect(gotTokens).To(Equal([]string{"DAI"}))
	})

	It("accepts YAML-shaped token lists", func() {
		var gotTokens []string
		ctrl := newWithFetch(func(_ context.Context, _ string, tokens []string) (map[string]float64, error) {
			gotTokens = tokens
			return map[string]float64{}, nil
		}, container.Config{
			"tokens": []any{"DAI", "CK"},
		})

		ctrl.Refresh()

		Expect(gotTokens).To(Equal([]string{"DAI", "CK"}))
	})

	It("publishes an update event after each applied refresh", func() {
		var payloads []any
		bus.Subscribe(rates.EventUpdated, func(payload any) { payloads = append(payloads, payload) })

		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			return map[string]float64{"DAI": 1.0}, nil
		}, nil)

		ctrl.Refresh()

		Expect(payloads).To(HaveLen(1))
		Expect(payloads[0]).To(HaveKeyWithValue("DAI", 1.0))
	})

	It("short-circuits refetches within the cache window", func() {
		var fetches atomic.Int64
		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			fetches.Add(1)
			return map[string]float64{"DAI": 1.0}, nil
		}, nil)

		ctrl.Refresh()
		ctrl.Refresh()

		Expect(fetches.Load()).To(Equal(int64(1)))
		Expect(ctrl.Rates()).To(HaveKeyWithValue("DAI", 1.0))
	})

	It("fetches again after the cache expires", func() {
		var fetches atomic.Int64
		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			fetches.Add(1)
			return map[string]float64{"DAI": 1.0}, nil
		}, nil)

		ctrl.Refresh()
		Eventually(func() int64 {
			ctrl.Refresh()
			return fetches.Load()
		}, "2s", "60ms").Should(BeNumerically(">=", 2))
	})

	It("caches per currency", func() {
		var fetches atomic.Int64
		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			fetches.Add(1)
			return map[string]float64{"DAI": 1.0}, nil
		}, nil)

		ctrl.Refresh()
		ctrl.Configure(container.Config{"currency": "eur"}, false)
		ctrl.Refresh()

		Expect(fetches.Load()).To(Equal(int64(2)))
	})

	It("keeps the previous rates when a fetch fails", func() {
		calls := 0
		ctrl, err := rates.New(rates.Settings{
			Bus: bus,
			Fetch: func(context.Context, string, []string) (map[string]float64, error) {
				calls++
				if calls == 1 {
					return map[string]float64{"DAI": 1.0}, nil
				}
				return nil, fmt.Errorf("endpoint down")
			},
			CacheTTL: time.Millisecond,
		}, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		ctrl.Refresh()
		time.Sleep(5 * time.Millisecond)
		ctrl.Refresh()

		Expect(ctrl.Rates()).To(HaveKeyWithValue("DAI", 1.0))
	})

	It("skips timer cycles while disabled", func() {
		var fetches atomic.Int64
		ctrl := newWithFetch(func(context.Context, string, []string) (map[string]float64, error) {
			fetches.Add(1)
			return map[string]float64{}, nil
		}, nil)

		ctrl.SetDisabled(true)
		ctrl.Start(10 * time.Millisecond)
		defer ctrl.Destroy()

		Consistently(fetches.Load, "100ms").Should(BeZero())

		ctrl.SetDisabled(false)
		Eventually(fetches.Load).Should(BeNumerically(">=", 1))
	})

	It("polls on the interval once started", func() {
		var fetches atomic.Int64
		ctrl, err := rates.New(rates.Settings{
			Bus: bus,
			Fetch: func(context.Context, string, []string) (map[string]float64, error) {
				fetches.Add(1)
				return map[string]float64{}, nil
			},
			CacheTTL: time.Millisecond,
		}, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		ctrl.Start(20 * time.Millisecond)
		defer ctrl.Destroy()

		Eventually(fetches.Load, "2s").Should(BeNumerically(">=", 2))
	})
})
