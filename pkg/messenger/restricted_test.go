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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/messenger"
)

var _ = Describe("Restricted handle", func() {
	var (
		bus     *messenger.Messenger
		handle  *messenger.Restricted
		handler messenger.ActionHandler
	)

	BeforeEach(func() {
		bus = messenger.New()
		handle = bus.Restricted(
			[]string{"Owner:allowedAction"},
			[]string{"Owner:allowedEvent"},
		)
		handler = func(context.Context, ...any) (any, error) { return "ok", nil }
	})

	It("permits operations on declared action names", func() {
		Expect(handle.RegisterActionHandler("Owner:allowedAction", handler)).To(Succeed())

		result, err := handle.Call(context.Background(), "Owner:allowedAction")
		Expect(err).ToNot(HaveOccurred())
		Expect(result).To(Equal("ok"))
	})

	It("rejects registering a handler for an undeclared action", func() {
		err := handle.RegisterActionHandler("Other:action", handler)
		Expect(errors.Is(err, messenger.ErrNotPermitted)).To(BeTrue())
	})

	It("rejects calling an undeclared action even when registered on the bus", func() {
		Expect(bus.RegisterActionHandler("Other:action", handler)).To(Succeed())

		_, err := handle.Call(context.Background(), "Other:action")
		Expect(errors.Is(err, messenger.ErrNotPermitted)).To(BeTrue())
	})

	It("publishes declared events", func() {
		var got any
		bus.Subscribe("Owner:allowedEvent", func(payload any) { got = payload })

		handle.Publish("Owner:allowedEvent", "payload")

		Expect(got).To(Equal("payload"))
	})

	It("drops publishes of undeclared events without reaching subscribers", func() {
		calls := 0
		bus.Subscribe("Other:event", func(any) { calls++ })

		handle.Publish("Other:event", "payload")

		Expect(calls).To(BeZero())
	})

	It("subscribes to declared events", func() {
		calls := 0
		Expect(handle.Subscribe("Owner:allowedEvent", func(any) { calls++ })).To(Succeed())

		bus.Publish("Owner:allowedEvent", nil)

		Expect(calls).To(Equal(1))
	})

	It("rejects subscribing to undeclared events", func() {
		err := handle.Subscribe("Other:event", func(any) {})
		Expect(errors.Is(err, messenger.ErrNotPermitted)).To(BeTrue())
	})

	It("passes selector options through", func() {
		calls := 0
		err := handle.Subscribe("Owner:allowedEvent", func(any) { calls++ },
			messenger.WithSelector(func(payload any) any { return payload }))
		Expect(err).ToNot(HaveOccurred())

		bus.Publish("Owner:allowedEvent", "same")
		bus.Publish("Owner:allowedEvent", "same")

		Expect(calls).To(Equal(1))
	})

	It("ignores unsubscribes of undeclared events", func() {
		Expect(func() {
			handle.Unsubscribe("Other:event", func(any) {})
		}).ToNot(Panic())
	})
})
