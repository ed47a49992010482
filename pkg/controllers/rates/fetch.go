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

package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// NewHTTPFetch returns the default FetchFunc. It issues a GET against
// baseURL with currency and tokens query parameters and expects a JSON
// object of token → rate.
//
// A nil client falls back to a dedicated client with a conservative
// timeout; the per-call context still bounds each request.
func NewHTTPFetch(baseURL string, client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, currency string, tokens []string) (map[string]float64, error) {
		endpoint, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing rate endpoint %q: %w", baseURL, err)
		}
		query := endpoint.Query()
		query.Set("currency", currency)
		if len(tokens) > 0 {
			query.Set("tokens", strings.Join(tokens, ","))
		}
		endpoint.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building rate request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting rates: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rate endpoint returned %s", resp.Status)
		}

		var rates map[string]float64
		if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
			return nil, fmt.Errorf("decoding rate response: %w", err)
		}
		return rates, nil
	}
}
