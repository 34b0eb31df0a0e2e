// Package config loads service configuration from prefixed environment
// variables. Each daemon owns an Env with its own prefix, e.g.
// TRANSMITTER_ or DRYRUN_; a .env file is honoured when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file if one exists in the working directory.
// Absence is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Env reads environment variables under a fixed service prefix.
type Env struct {
	prefix string
}

// NewEnv creates a reader for the given prefix, e.g. "TRANSMITTER".
func NewEnv(prefix string) Env {
	return Env{prefix: strings.TrimSuffix(prefix, "_") + "_"}
}

// Key returns the full variable name for a suffix.
func (e Env) Key(suffix string) string {
	return e.prefix + suffix
}

// String returns the value or fallback when unset or blank.
func (e Env) String(suffix, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(e.Key(suffix))); v != "" {
		return v
	}
	return fallback
}

// Required returns the value or an error naming the missing variable.
// Callers abort startup on error.
func (e Env) Required(suffix string) (string, error) {
	v := strings.TrimSpace(os.Getenv(e.Key(suffix)))
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", e.Key(suffix))
	}
	return v, nil
}

// Int returns the parsed value or fallback on absence or parse failure.
func (e Env) Int(suffix string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(e.Key(suffix)))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Bool returns the parsed value or fallback on absence or parse failure.
func (e Env) Bool(suffix string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(e.Key(suffix)))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Duration parses either a Go duration string or a bare number of
// seconds, falling back on absence or parse failure.
func (e Env) Duration(suffix string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(e.Key(suffix)))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// StringSlice splits a comma-separated value, trimming blanks.
func (e Env) StringSlice(suffix string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(e.Key(suffix)))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
