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

package collectibles_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/catalog"
	"github.com/statekit/statekit/pkg/composition"
	"github.com/statekit/statekit/pkg/container"
	"github.com/statekit/statekit/pkg/controllers/addressbook"
	"github.com/statekit/statekit/pkg/controllers/collectibles"
	"github.com/statekit/statekit/pkg/messenger"
)

const (
	kittiesAddress = "0x06012c8cf97bead5deae237070f9587f8e7a266d"
	plainAddress   = "0x1d805bc00b8fa3c96ae6c8fa97b2fd24b19a9801"
)

func testCatalog() catalog.Catalog {
	return catalog.NewStatic(
		catalog.Entry{
			Address:     kittiesAddress,
			Name:        "CryptoKitties",
			Symbol:      "CK",
			Collectible: true,
		},
		catalog.Entry{
			Address: plainAddress,
			Name:    "Plain Token",
			Symbol:  "PT",
		},
	)
}

var _ = Describe("Collectible controller", func() {
	var (
		bus  *messenger.Messenger
		book *addressbook.Controller
		ctrl *collectibles.Controller
	)

	BeforeEach(func() {
		bus = messenger.New()

		var err error
		book, err = addressbook.New(bus, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		ctrl, err = collectibles.New(bus, testCatalog(), nil, nil)
		Expect(err).ToNot(HaveOccurred())
	})

	It("requires a catalog", func() {
		_, err := collectibles.New(messenger.New(), nil, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("catalog")))
	})

	It("declares the address book as a required sibling", func() {
		Expect(ctrl.RequiredControllers()).To(ContainElement(addressbook.Name))
	})

	Describe("detection", func() {
		It("classifies catalog collectibles", func() {
			detection := ctrl.Detect(kittiesAddress)
			Expect(detection.Known).To(BeTrue())
			Expect(detection.Collectible).To(BeTrue())
			Expect(detection.Name).To(Equal("CryptoKitties"))
		})

		It("classifies known non-collectibles", func() {
			detection := ctrl.Detect(plainAddress)
			Expect(detection.Known).To(BeTrue())
			Expect(detection.Collectible).To(BeFalse())
		})

		It("reports unknown addresses", func() {
			detection := ctrl.Detect("0xdeadbeefdeadbeef")
			Expect(detection.Known).To(BeFalse())
		})

		It("serves detection over the bus", func() {
			result, err := bus.Call(context.Background(), collectibles.ActionDetect, kittiesAddress)
			Expect(err).ToNot(HaveOccurred())

			detection, ok := result.(collectibles.Detection)
			Expect(ok).To(BeTrue())
			Expect(detection.Collectible).To(BeTrue())
		})

		It("rejects malformed action arguments", func() {
			_, err := bus.Call(context.Background(), collectibles.ActionDetect)
			Expect(err).To(HaveOccurred())

			_, err = bus.Call(context.Background(), collectibles.ActionDetect, 42)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("contact-driven classification", func() {
		It("records a collectible when its address enters the book", func() {
			Expect(book.Set(kittiesAddress, "Kitty Contract")).To(BeTrue())

			Expect(ctrl.Collectibles()).To(HaveKeyWithValue(kittiesAddress, "CryptoKitties"))
		})

		It("ignores contacts with non-collectible addresses", func() {
			Expect(book.Set(plainAddress, "Someone")).To(BeTrue())

			Expect(ctrl.Collectibles()).To(BeEmpty())
		})

		It("suppresses re-classification when only the contact name changes", func() {
			// The selector projects contact events down to the address, so a
			// rename never reaches the listener.
			Expect(book.Set(kittiesAddress, "Kitty Contract")).To(BeTrue())
			ctrl.Update(container.State{"collectibles": map[string]any{}}, true)

			Expect(book.Set(kittiesAddress, "Renamed")).To(BeTrue())

			Expect(ctrl.Collectibles()).To(BeEmpty())
		})
	})

	Describe("composition", func() {
		It("seeds classification from restored address book entries", func() {
			freshBus := messenger.New()
			restoredBook, err := addressbook.New(freshBus, nil, container.State{
				"addressBook": map[string]any{
					kittiesAddress: map[string]any{
						"id":      "seed-id",
						"address": kittiesAddress,
						"name":    "Kitty Contract",
					},
				},
			})
			Expect(err).ToNot(HaveOccurred())

			detector, err := collectibles.New(freshBus, testCatalog(), nil, nil)
			Expect(err).ToNot(HaveOccurred())

			_, err = composition.New("App", []container.Controller{restoredBook, detector})
			Expect(err).ToNot(HaveOccurred())

			Expect(detector.Collectibles()).To(HaveKeyWithValue(kittiesAddress, "CryptoKitties"))
		})

		It("fails composition without the address book", func() {
			freshBus := messenger.New()
			detector, err := collectibles.New(freshBus, testCatalog(), nil, nil)
			Expect(err).ToNot(HaveOccurred())

			_, err = composition.New("App", []container.Controller{detector})
			Expect(err).To(MatchError(ContainSubstring(addressbook.Name)))
		})
	})
})
