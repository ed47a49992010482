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
	"net/http"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/statekit/statekit/pkg/controllers/rates"
)

var _ = Describe("HTTP fetch", func() {
	const baseURL = "https://rates.example.com/v1/price"

	var (
		client *http.Client
		fetch  rates.FetchFunc
	)

	BeforeEach(func() {
		client = &http.Client{}
		gock.InterceptClient(client)
		fetch = rates.NewHTTPFetch(baseURL, client)
	})

	AfterEach(func() {
		gock.Off()
	})

	It("decodes a token to rate object", func() {
		gock.New("https://rates.example.com").
			Get("/v1/price").
			MatchParam("currency", "usd").
			MatchParam("tokens", "DAI,CK").
			Reply(200).
			JSON(map[string]float64{"DAI": 1.0, "CK": 0.02})

		result, err := fetch(context.Background(), "usd", []string{"DAI", "CK"})
		Expect(err).ToNot(HaveOccurred())
		Expect(result).To(HaveKeyWithValue("DAI", 1.0))
		Expect(result).To(HaveKeyWithValue("CK", 0.02))
	})

	It("omits the tokens parameter when no tokens are configured", func() {
		gock.New("https://rates.example.com").
			Get("/v1/price").
			MatchParam("currency", "eur").
			Reply(200).
			JSON(map[string]float64{})

		_, err := fetch(context.Background(), "eur", nil)
		Expect(err).ToNot(HaveOccurred())
	})

	It("fails on non-200 responses", func() {
		gock.New("https://rates.example.com").
			Get("/v1/price").
			Reply(503)

		_, err := fetch(context.Background(), "usd", nil)
		Expect(err).To(MatchError(ContainSubstring("503")))
	})

	It("fails on malformed response bodies", func() {
		gock.New("https://rates.example.com").
			Get("/v1/price").
			Reply(200).
			BodyString("{oops")

		_, err := fetch(context.Background(), "usd", nil)
		Expect(err).To(MatchError(ContainSubstring("decoding")))
	})

	It("honors context cancellation", func() {
		gock.New("https://rates.example.com").
			Get("/v1/price").
			Reply(200).
			JSON(map[string]float64{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := fetch(ctx, "usd", nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unparsable endpoint", func() {
		broken := rates.NewHTTPFetch("://not-a-url", client)

		_, err := broken(context.Background(), "usd", nil)
		Expect(err).To(HaveOccurred())
	})
})
