// Package env reads service configuration from environment variables.
//
// Struct configs go through Parse and the caarlos0 tags. The single-value
// helpers treat a blank variable the same as an unset one.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

// Parse fills a config struct from its `env` and `envDefault` tags.
func Parse[T any]() (T, error) {
	cfg, err := cenv.ParseAs[T]()
	if err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Lookup parses key with parse, or returns def when key is unset or blank.
func Lookup[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := lookup(key)
	if !ok {
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func String(key string, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return Lookup(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return Lookup(key, def, strconv.ParseBool)
}

// List splits key on commas and whitespace.
func List(key string, def ...string) []string {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}
