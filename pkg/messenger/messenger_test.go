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

package messenger_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/messenger"
)

var _ = Describe("Messenger", func() {
	var bus *messenger.Messenger

	BeforeEach(func() {
		bus = messenger.New()
	})

	Describe("actions", func() {
		It("routes a call to the registered handler", func() {
			err := bus.RegisterActionHandler("Test:echo", func(_ context.Context, args ...any) (any, error) {
				return args[0], nil
			})
			Expect(err).ToNot(HaveOccurred())

			result, err := bus.Call(context.Background(), "Test:echo", "hello")
			Expect(err).ToNot(HaveOccurred())
			Expect(result).To(Equal("hello"))
		})

		It("propagates handler failures unchanged", func() {
			boom := fmt.Errorf("boom")
			err := bus.RegisterActionHandler("Test:fail", func(context.Context, ...any) (any, error) {
				return nil, boom
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = bus.Call(context.Background(), "Test:fail")
			Expect(err).To(MatchError(boom))
		})

		It("rejects a second handler for the same name", func() {
			handler := func(context.Context, ...any) (any, error) { return nil, nil }
			Expect(bus.RegisterActionHandler("Test:op", handler)).To(Succeed())

			err := bus.RegisterActionHandler("Test:op", handler)
			Expect(errors.Is(err, messenger.ErrHandlerExists)).To(BeTrue())
		})

		It("rejects a nil handler", func() {
			Expect(bus.RegisterActionHandler("Test:op", nil)).ToNot(Succeed())
		})

		It("fails loudly when calling an unregistered action", func() {
			_, err := bus.Call(context.Background(), "Test:missing")
			Expect(errors.Is(err, messenger.ErrNoHandler)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("Test:missing"))
		})

		It("frees the name after unregistration", func() {
			handler := func(context.Context, ...any) (any, error) { return nil, nil }
			Expect(bus.RegisterActionHandler("Test:op", handler)).To(Succeed())

			bus.UnregisterActionHandler("Test:op")

			_, err := bus.Call(context.Background(), "Test:op")
			Expect(errors.Is(err, messenger.ErrNoHandler)).To(BeTrue())
			Expect(bus.RegisterActionHandler("Test:op", handler)).To(Succeed())
		})

		It("tolerates unregistering an unknown action", func() {
			Expect(func() { bus.UnregisterActionHandler("Test:never") }).ToNot(Panic())
		})
	})

	Describe("events", func() {
		It("fans a publish out to all subscribers in registration order", func() {
			var order []string
			bus.Subscribe("Test:evt", func(any) { order = append(order, "first") })
			bus.Subscribe("Test:evt", func(any) { order = append(order, "second") })

			bus.Publish("Test:evt", nil)

			Expect(order).To(Equal([]string{"first", "second"}))
		})

		It("delivers the payload to plain subscribers", func() {
			var got any
			bus.Subscribe("Test:evt", func(payload any) { got = payload })

			bus.Publish("Test:evt", 42)

			Expect(got).To(Equal(42))
		})

		It("is a no-op to publish with no subscribers", func() {
			Expect(func() { bus.Publish("Test:quiet", "x") }).ToNot(Panic())
		})

		It("stops delivering after unsubscribe", func() {
			calls := 0
			listener := func(any) { calls++ }
			bus.Subscribe("Test:evt", listener)
			bus.Unsubscribe("Test:evt", listener)

			bus.Publish("Test:evt", nil)

			Expect(calls).To(BeZero())
		})

		It("tolerates unsubscribing a never-subscribed listener", func() {
			Expect(func() {
				bus.Unsubscribe("Test:evt", func(any) {})
			}).ToNot(Panic())
		})
	})

	Describe("selector subscriptions", func() {
		type contact struct {
			Address string
			Name    string
		}

		addressOf := func(payload any) any {
			return payload.(contact).Address
		}

		It("delivers the derived value, not the payload", func() {
			var got any
			bus.Subscribe("Test:evt", func(payload any) { got = payload },
				messenger.WithSelector(addressOf))

			bus.Publish("Test:evt", contact{Address: "0xabc", Name: "Ada"})

			Expect(got).To(Equal("0xabc"))
		})

		It("suppresses publishes whose derived value is unchanged", func() {
			calls := 0
			bus.Subscribe("Test:evt", func(any) { calls++ },
				messenger.WithSelector(addressOf))

			bus.Publish("Test:evt", contact{Address: "0xabc", Name: "Ada"})
			bus.Publish("Test:evt", contact{Address: "0xabc", Name: "Renamed"})

			Expect(calls).To(Equal(1))
		})

		It("delivers again once the derived value changes", func() {
			var seen []any
			bus.Subscribe("Test:evt", func(payload any) { seen = append(seen, payload) },
				messenger.WithSelector(addressOf))

			bus.Publish("Test:evt", contact{Address: "0xabc"})
			bus.Publish("Test:evt", contact{Address: "0xdef"})
			bus.Publish("Test:evt", contact{Address: "0xabc"})

			Expect(seen).To(Equal([]any{"0xabc", "0xdef", "0xabc"}))
		})

		It("compares derived values by value, not reference", func() {
			calls := 0
			bus.Subscribe("Test:evt", func(any) { calls++ },
				messenger.WithSelector(func(payload any) any {
					return map[string]any{"address": payload.(contact).Address}
				}))

			bus.Publish("Test:evt", contact{Address: "0xabc"})
			bus.Publish("Test:evt", contact{Address: "0xabc"})

			Expect(calls).To(Equal(1))
		})

		It("tracks suppression per subscriber", func() {
			selected, plain := 0, 0
			bus.Subscribe("Test:evt", func(any) { selected++ },
				messenger.WithSelector(addressOf))
			bus.Subscribe("Test:evt", func(any) { plain++ })

			bus.Publish("Test:evt", contact{Address: "0xabc"})
			bus.Publish("Test:evt", contact{Address: "0xabc"})

			Expect(selected).To(Equal(1))
			Expect(plain).To(Equal(2))
		})
	})
})
