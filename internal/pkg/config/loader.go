// Package config holds environment loaders with a fail-open strategy: an
// invalid value never stops the process, it falls back to the default and
// reports a warning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadResult is the outcome of loading one environment value.
type LoadResult[T any] struct {
	Value           T
	Warning         string
	FallbackApplied bool
}

// LoadEnv reads envKey, parses it and validates it. An unset or empty variable
// yields defaultValue without a warning; a parse or validation failure yields
// defaultValue with a warning.
func LoadEnv[T any](envKey string, defaultValue T, parse func(string) (T, error), validate func(T) error) LoadResult[T] {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return LoadResult[T]{Value: defaultValue}
	}

	value, err := parse(raw)
	if err == nil && validate != nil {
		err = validate(value)
	}
	if err != nil {
		return LoadResult[T]{
			Value:           defaultValue,
			Warning:         fmt.Sprintf("invalid %s=%q: %v, falling back to default %v", envKey, raw, err, defaultValue),
			FallbackApplied: true,
		}
	}
	return LoadResult[T]{Value: value}
}

// LoadEnvString returns the variable or defaultValue when unset.
func LoadEnvString(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

// LoadEnvWithFallback loads a validated string.
func LoadEnvWithFallback(envKey, defaultValue string, validate func(string) error) LoadResult[string] {
	return LoadEnv(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validate)
}

// LoadEnvInt loads a validated base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validate func(int) error) LoadResult[int] {
	return LoadEnv(envKey, defaultValue, strconv.Atoi, validate)
}

// LoadEnvDuration loads a validated time.ParseDuration value.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validate func(time.Duration) error) LoadResult[time.Duration] {
	return LoadEnv(envKey, defaultValue, time.ParseDuration, validate)
}

// LoadEnvBool loads a strconv.ParseBool value.
func LoadEnvBool(envKey string, defaultValue bool) LoadResult[bool] {
	return LoadEnv(envKey, defaultValue, strconv.ParseBool, nil)
}
