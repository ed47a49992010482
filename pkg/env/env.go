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

// Package env centralizes typed reads of process environment variables.
// Every environment knob of the application goes through here, so the full
// surface is greppable in one place.
package env

import (
	"os"
	"strconv"
	"strings"
)

// GetString returns the variable's value, or fallback when unset or empty.
func GetString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// GetInt returns the variable parsed as an integer, or fallback when the
// variable is unset, empty, or not a valid integer.
func GetInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

// GetBool returns the variable parsed as a boolean, accepting the usual
// truthy/falsy spellings. Unset, empty, or unrecognized values yield the
// fallback.
func GetBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}
