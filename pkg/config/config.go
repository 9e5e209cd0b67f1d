// Package config centralizes the env-var + .env loading every Ergo
// binary does, factored out of the teacher's inline getEnv helper
// (repeated verbatim across cmd/worker/main.go and cmd/api/main.go).
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the first of the given paths that exists,
// logging which one it used. Missing files are not an error -- real
// deployments set env vars directly and carry no .env at all.
func Load(paths ...string) {
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded .env from: %s", path)
			return
		}
	}
}

// String returns the env var at key, or def if unset/empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env var at key parsed as an int, or def if unset or
// unparseable.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the env var at key parsed as a bool, or def if unset or
// unparseable.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Float returns the env var at key parsed as a float64, or def if unset
// or unparseable.
func Float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Duration returns the env var at key parsed as a time.Duration (e.g.
// "30s", "5m"), or def if unset or unparseable.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
