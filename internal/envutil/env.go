// Package envutil provides small cached environment-variable helpers shared
// by the CLI and the ledger package's default configuration.
package envutil

import (
	"os"
	"strconv"
	"sync"
)

var envCache sync.Map // map[string]string

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

// OrDefault returns the value of the environment variable identified by key
// or the provided fallback if the variable is unset or empty.
func OrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// OrDefaultInt returns the integer value of the environment variable
// identified by key or the provided fallback if unset, empty, or unparsable.
func OrDefaultInt(key string, fallback int) int {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// OrDefaultBool returns the boolean value of the environment variable
// identified by key or the provided fallback if unset, empty, or unparsable.
func OrDefaultBool(key string, fallback bool) bool {
	if v, ok := getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
